package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"dialog-service/models"
	"dialog-service/utils"
)

const maxTextLength = 1024

// MaxFrameSize bounds one inbound frame: the longest text plus the file ids,
// with room for JSON escaping.
const MaxFrameSize = 8 << 10

// FrameLimit throttles inbound frames of one live connection.
type FrameLimit struct {
	Rate  float64
	Burst int
}

// DialogService owns dialog lifecycle, read state and the live session
// protocol. The registry is injected so servers and tests stay isolated.
type DialogService struct {
	store      *Store
	registry   *Registry
	log        *slog.Logger
	metrics    *Metrics
	frameLimit FrameLimit
}

func NewDialogService(store *Store, registry *Registry, log *slog.Logger, metrics *Metrics, limit FrameLimit) *DialogService {
	return &DialogService{
		store:      store,
		registry:   registry,
		log:        log,
		metrics:    metrics,
		frameLimit: limit,
	}
}

// GetOrCreateDialog opens the dialog between caller and otherUserID,
// creating it on first contact.
func (s *DialogService) GetOrCreateDialog(ctx context.Context, caller *models.User, otherUserID string) (DialogItem, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return DialogItem{}, err
	}
	if otherUserID == caller.ID {
		return DialogItem{}, utils.AccessDenied("You cannot start a dialog with yourself")
	}

	companion, err := s.store.UserByID(ctx, otherUserID)
	if errors.Is(err, ErrRecordNotFound) {
		return DialogItem{}, utils.NotFound(fmt.Sprintf("User %q not found", otherUserID))
	}
	if err != nil {
		return DialogItem{}, utils.Internal(err)
	}

	dialog, created, err := s.store.GetOrCreateDialog(ctx, caller.ID, companion.ID)
	if err != nil {
		return DialogItem{}, utils.Internal(err)
	}
	if created {
		s.log.Info("dialog created", "dialog_id", dialog.ID, "user_id", caller.ID, "companion_id", companion.ID)
	}
	return s.dialogItem(ctx, dialog, caller, companion)
}

// ListDialogs returns every dialog of caller with counters.
func (s *DialogService) ListDialogs(ctx context.Context, caller *models.User) ([]DialogItem, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return nil, err
	}

	dialogs, err := s.store.DialogsOf(ctx, caller.ID)
	if err != nil {
		return nil, utils.Internal(err)
	}
	companionIDs := make([]string, 0, len(dialogs))
	for i := range dialogs {
		companionIDs = append(companionIDs, dialogs[i].Companion(caller.ID))
	}
	companions, err := s.store.UsersByIDs(ctx, companionIDs)
	if err != nil {
		return nil, utils.Internal(err)
	}

	items := make([]DialogItem, 0, len(dialogs))
	for i := range dialogs {
		companion, ok := companions[dialogs[i].Companion(caller.ID)]
		if !ok {
			continue
		}
		item, err := s.dialogItem(ctx, &dialogs[i], caller, companion)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *DialogService) dialogItem(ctx context.Context, dialog *models.Dialog, viewer, companion *models.User) (DialogItem, error) {
	total, err := s.store.CountMessages(ctx, dialog.ID)
	if err != nil {
		return DialogItem{}, utils.Internal(err)
	}
	unread, err := s.store.CountUnread(ctx, dialog.ID, viewer.ID)
	if err != nil {
		return DialogItem{}, utils.Internal(err)
	}
	return newDialogItem(dialog, companion, total, unread), nil
}

// MarkRead flags a companion's message as read. Marking an already read
// message is a no-op.
func (s *DialogService) MarkRead(ctx context.Context, caller *models.User, messageID string) error {
	if err := authorize(caller, models.Members...); err != nil {
		return err
	}

	message, err := s.store.MessageByID(ctx, messageID)
	if errors.Is(err, ErrRecordNotFound) {
		return utils.NotFound(fmt.Sprintf("Message %q not found", messageID))
	}
	if err != nil {
		return utils.Internal(err)
	}
	if message.OwnerID == caller.ID {
		return utils.AccessDenied("You cannot mark your own message as read")
	}

	member, err := s.store.IsMember(ctx, message.DialogID, caller.ID)
	if err != nil {
		return utils.Internal(err)
	}
	if !member {
		return utils.NotFound("Users must share a dialog")
	}

	if _, err := s.store.MarkRead(ctx, message.ID); err != nil {
		return utils.Internal(err)
	}
	return nil
}

// UnreadCount totals unread messages over all dialogs of caller.
func (s *DialogService) UnreadCount(ctx context.Context, caller *models.User) (int64, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return 0, err
	}
	count, err := s.store.UnreadTotal(ctx, caller.ID)
	if err != nil {
		return 0, utils.Internal(err)
	}
	return count, nil
}

// GetHistory returns the latest page of the dialog, oldest first.
func (s *DialogService) GetHistory(ctx context.Context, caller *models.User, dialogID string) ([]MessageView, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return nil, err
	}
	if err := s.checkMember(ctx, caller, dialogID); err != nil {
		return nil, err
	}

	messages, err := s.store.History(ctx, dialogID, HistoryPageSize)
	if err != nil {
		return nil, utils.Internal(err)
	}

	ownerIDs := make([]string, 0, 2)
	messageIDs := make([]string, 0, len(messages))
	seen := make(map[string]bool)
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
		if !seen[m.OwnerID] {
			seen[m.OwnerID] = true
			ownerIDs = append(ownerIDs, m.OwnerID)
		}
	}
	owners, err := s.store.UsersByIDs(ctx, ownerIDs)
	if err != nil {
		return nil, utils.Internal(err)
	}
	files, err := s.store.FilesOf(ctx, messageIDs)
	if err != nil {
		return nil, utils.Internal(err)
	}

	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, newMessageView(&messages[i], owners[messages[i].OwnerID], files[messages[i].ID]))
	}
	return views, nil
}

func (s *DialogService) checkMember(ctx context.Context, caller *models.User, dialogID string) error {
	dialog, err := s.store.DialogByID(ctx, dialogID)
	if errors.Is(err, ErrRecordNotFound) {
		return utils.NotFound(fmt.Sprintf("Dialog %q not found", dialogID))
	}
	if err != nil {
		return utils.Internal(err)
	}
	if !dialog.Has(caller.ID) {
		return utils.AccessDenied("Create the dialog first")
	}
	return nil
}

// Subscribe runs the live session of client in the dialog until the peer
// goes away. Admission failures close the client with the derived code
// and leave the room untouched.
func (s *DialogService) Subscribe(ctx context.Context, caller *models.User, client *Client, dialogID string) error {
	err := authorize(caller, models.Members...)
	if err == nil {
		err = s.checkMember(ctx, caller, dialogID)
	}
	if err != nil {
		appErr := utils.AsAppError(err)
		client.Close(closeCode(appErr), appErr.Message)
		return err
	}

	if err := s.registry.Join(client, dialogID); err != nil {
		client.Close(websocket.CloseInternalServerErr, "Internal server error")
		return err
	}
	defer s.registry.Disconnect(client, dialogID)

	log := s.log.With("dialog_id", dialogID, "user_id", caller.ID)
	log.Debug("subscribed")

	limiter := rate.NewLimiter(rate.Limit(s.frameLimit.Rate), s.frameLimit.Burst)
	for {
		data, err := client.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("read failed", "err", err)
			}
			return nil
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if s.frameLimit.Rate > 0 && !limiter.Allow() {
			s.reject(client, "rate", utils.TooManyRequests("Slow down"))
			continue
		}

		err = s.handleFrame(ctx, caller, dialogID, data)
		if err == nil {
			continue
		}
		appErr := utils.AsAppError(err)
		if appErr.Status >= http.StatusInternalServerError {
			log.Error("live message failed", "err", err)
			client.Close(websocket.CloseInternalServerErr, appErr.Message)
			return err
		}
		s.reject(client, "invalid", err)
	}
}

func (s *DialogService) reject(client *Client, reason string, err error) {
	s.metrics.FramesRejected.WithLabelValues(reason).Inc()
	_ = client.SendJSON(utils.ErrorFrame(err))
}

// handleFrame persists one inbound frame and broadcasts it. The message is
// committed before any member sees it.
func (s *DialogService) handleFrame(ctx context.Context, caller *models.User, dialogID string, data []byte) error {
	input, err := ParseMessageInput(data)
	if err != nil {
		return err
	}

	message, files, err := s.store.CreateMessage(ctx, dialogID, caller.ID, input.Text, input.Files)
	if errors.Is(err, ErrFileUnavailable) {
		return utils.BadRequest("Every file must exist and not be attached to another message")
	}
	if err != nil {
		return utils.Internal(err)
	}
	s.metrics.MessagesPersisted.Inc()

	payload, err := json.Marshal(newMessageView(message, caller, files))
	if err != nil {
		return utils.Internal(err)
	}
	if err := s.registry.Broadcast(dialogID, payload); err != nil && !errors.Is(err, ErrRoomAbsent) {
		return utils.Internal(err)
	}
	return nil
}

// ParseMessageInput decodes and validates an inbound frame.
func ParseMessageInput(data []byte) (MessageInput, error) {
	var input MessageInput
	if err := json.Unmarshal(data, &input); err != nil {
		return MessageInput{}, utils.BadRequest("Frame must match the message input model")
	}
	if len(input.Files) > models.MaxMessageFiles {
		return MessageInput{}, utils.BadRequest(fmt.Sprintf("Maximum number of files is %d", models.MaxMessageFiles))
	}
	for i, id := range input.Files {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return MessageInput{}, utils.BadRequest(fmt.Sprintf("File id %q is not a UUID", id))
		}
		input.Files[i] = parsed.String()
	}
	if input.Text != nil && utf8.RuneCountInString(*input.Text) > maxTextLength {
		return MessageInput{}, utils.BadRequest(fmt.Sprintf("Text is longer than %d characters", maxTextLength))
	}
	if (input.Text == nil || *input.Text == "") && len(input.Files) == 0 {
		return MessageInput{}, utils.BadRequest("Message needs text or files")
	}
	return input, nil
}

func closeCode(err *utils.AppError) int {
	if err.Status >= http.StatusInternalServerError {
		return websocket.CloseInternalServerErr
	}
	return err.CloseCode()
}
