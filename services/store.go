package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dialog-service/models"
)

// HistoryPageSize caps how many messages a history request returns.
const HistoryPageSize = 100

const createMessageAttempts = 3

var (
	ErrRecordNotFound  = gorm.ErrRecordNotFound
	ErrDuplicatedKey   = gorm.ErrDuplicatedKey
	ErrFileUnavailable = errors.New("file is missing or already attached")
)

// Store is the relational side of the dialog subsystem. Entities reference
// each other by id only; relations are resolved here.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, errors.Wrap(err, "store.UserByID")
	}
	return &user, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("LOWER(username) = LOWER(?)", username).First(&user).Error; err != nil {
		return nil, errors.Wrap(err, "store.UserByUsername")
	}
	return &user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&user).Error; err != nil {
		return nil, errors.Wrap(err, "store.UserByEmail")
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return errors.Wrap(err, "store.CreateUser")
	}
	return nil
}

// UsersByIDs loads users keyed by id; missing ids are absent from the map.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "store.UsersByIDs")
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (s *Store) DialogByID(ctx context.Context, id string) (*models.Dialog, error) {
	var dialog models.Dialog
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&dialog).Error; err != nil {
		return nil, errors.Wrap(err, "store.DialogByID")
	}
	return &dialog, nil
}

// DialogByPair finds the dialog of two users in either order.
func (s *Store) DialogByPair(ctx context.Context, a, b string) (*models.Dialog, error) {
	low, high := models.Pair(a, b)
	var dialog models.Dialog
	err := s.db.WithContext(ctx).
		Where("low_user_id = ? AND high_user_id = ?", low, high).
		First(&dialog).Error
	if err != nil {
		return nil, errors.Wrap(err, "store.DialogByPair")
	}
	return &dialog, nil
}

// GetOrCreateDialog returns the dialog of the pair, creating it with both
// memberships on first contact. The unique pair index makes concurrent
// first contacts converge on one row: the losing insert is a no-op and the
// winner's row is read back.
func (s *Store) GetOrCreateDialog(ctx context.Context, a, b string) (*models.Dialog, bool, error) {
	dialog, err := s.DialogByPair(ctx, a, b)
	if err == nil {
		return dialog, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	low, high := models.Pair(a, b)
	candidate := &models.Dialog{ID: uuid.NewString(), LowUserID: low, HighUserID: high}
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(candidate)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		memberships := []models.Membership{
			{UserID: low, DialogID: candidate.ID},
			{UserID: high, DialogID: candidate.ID},
		}
		return tx.Create(&memberships).Error
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "store.GetOrCreateDialog")
	}
	if created {
		return candidate, true, nil
	}

	dialog, err = s.DialogByPair(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return dialog, false, nil
}

// DialogsOf lists the dialogs userID is a member of, oldest first.
func (s *Store) DialogsOf(ctx context.Context, userID string) ([]models.Dialog, error) {
	var dialogs []models.Dialog
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.dialog_id = dialogs.id").
		Where("memberships.user_id = ?", userID).
		Order("dialogs.created_at ASC").
		Find(&dialogs).Error
	if err != nil {
		return nil, errors.Wrap(err, "store.DialogsOf")
	}
	return dialogs, nil
}

func (s *Store) IsMember(ctx context.Context, dialogID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("dialog_id = ? AND user_id = ?", dialogID, userID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "store.IsMember")
	}
	return count > 0, nil
}

func (s *Store) CountMessages(ctx context.Context, dialogID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("dialog_id = ?", dialogID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "store.CountMessages")
	}
	return count, nil
}

// CountUnread counts messages in the dialog that viewerID has not read:
// not owned by the viewer and not yet flagged.
func (s *Store) CountUnread(ctx context.Context, dialogID, viewerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("dialog_id = ? AND owner_id <> ? AND is_read = ?", dialogID, viewerID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "store.CountUnread")
	}
	return count, nil
}

// UnreadTotal counts unread messages across every dialog of viewerID.
func (s *Store) UnreadTotal(ctx context.Context, viewerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN memberships ON memberships.dialog_id = messages.dialog_id").
		Where("memberships.user_id = ? AND messages.owner_id <> ? AND messages.is_read = ?", viewerID, viewerID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "store.UnreadTotal")
	}
	return count, nil
}

func (s *Store) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return nil, errors.Wrap(err, "store.MessageByID")
	}
	return &message, nil
}

// MarkRead flips is_read once. It reports false when the message was
// already read.
func (s *Store) MarkRead(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "store.MarkRead")
	}
	return res.RowsAffected == 1, nil
}

// History returns the latest page of the dialog in ascending order.
func (s *Store) History(ctx context.Context, dialogID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("dialog_id = ?", dialogID).
		Order("seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, errors.Wrap(err, "store.History")
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// FilesOf groups the files claimed by the given messages.
func (s *Store) FilesOf(ctx context.Context, messageIDs []string) (map[string][]models.File, error) {
	out := make(map[string][]models.File)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var files []models.File
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC").
		Find(&files).Error
	if err != nil {
		return nil, errors.Wrap(err, "store.FilesOf")
	}
	for _, f := range files {
		out[*f.MessageID] = append(out[*f.MessageID], f)
	}
	return out, nil
}

// CreateMessage inserts a message and claims its files in one transaction.
// Any file that is missing or already claimed aborts the whole write with
// ErrFileUnavailable. The returned files follow the order of fileIDs.
func (s *Store) CreateMessage(ctx context.Context, dialogID, ownerID string, text *string, fileIDs []string) (*models.Message, []models.File, error) {
	fileIDs = dedupe(fileIDs)

	var (
		message *models.Message
		files   []models.File
		err     error
	)
	for attempt := 0; attempt < createMessageAttempts; attempt++ {
		message, files, err = s.createMessage(ctx, dialogID, ownerID, text, fileIDs)
		// a concurrent writer took the same seq; read the tail again
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "store.CreateMessage")
	}
	return message, files, nil
}

func (s *Store) createMessage(ctx context.Context, dialogID, ownerID string, text *string, fileIDs []string) (*models.Message, []models.File, error) {
	message := &models.Message{
		ID:       uuid.NewString(),
		DialogID: dialogID,
		OwnerID:  ownerID,
		Text:     text,
	}
	var files []models.File

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last models.Message
		res := tx.Where("dialog_id = ?", dialogID).Order("seq DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}

		created := s.now().UTC().Truncate(time.Microsecond)
		if res.RowsAffected > 0 {
			message.Seq = last.Seq + 1
			if !created.After(last.CreatedAt) {
				created = last.CreatedAt.UTC().Add(time.Microsecond)
			}
		} else {
			message.Seq = 1
		}
		message.CreatedAt = created
		message.UpdatedAt = created

		if err := tx.Create(message).Error; err != nil {
			return err
		}

		for _, fileID := range fileIDs {
			claim := tx.Model(&models.File{}).
				Where("id = ? AND message_id IS NULL", fileID).
				Update("message_id", message.ID)
			if claim.Error != nil {
				return claim.Error
			}
			if claim.RowsAffected != 1 {
				return fmt.Errorf("%w: %s", ErrFileUnavailable, fileID)
			}
		}

		if len(fileIDs) == 0 {
			return nil
		}
		var claimed []models.File
		if err := tx.Where("message_id = ?", message.ID).Find(&claimed).Error; err != nil {
			return err
		}
		byID := make(map[string]models.File, len(claimed))
		for _, f := range claimed {
			byID[f.ID] = f
		}
		for _, id := range fileIDs {
			files = append(files, byID[id])
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return message, files, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
