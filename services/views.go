package services

import (
	"time"

	"dialog-service/models"
)

// DialogItem describes a dialog from the viewer's side: the title and
// profile fields are the companion's.
type DialogItem struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	JobTitle     string      `json:"job_title"`
	Department   string      `json:"department"`
	AvatarID     *string     `json:"avatar_id"`
	MessageCount int64       `json:"message_count"`
	UnreadCount  int64       `json:"unread_count"`
	Role         models.Role `json:"role"`
}

type FileView struct {
	Title  string `json:"title"`
	FileID string `json:"file_id"`
}

// MessageView is both the outbound live frame and a history item.
type MessageView struct {
	ID         string     `json:"id"`
	Text       *string    `json:"text"`
	AvatarID   *string    `json:"avatar_id"`
	OwnerID    string     `json:"owner_id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Patronymic *string    `json:"patronymic"`
	IsRead     bool       `json:"is_read"`
	Files      []FileView `json:"files"`
	CreateAt   time.Time  `json:"create_at"`
	UpdateAt   time.Time  `json:"update_at"`
}

// MessageInput is an inbound live frame.
type MessageInput struct {
	Text  *string  `json:"text"`
	Files []string `json:"files"`
}

// UserView is the public profile returned by auth and user endpoints.
type UserView struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	Patronymic *string     `json:"patronymic"`
	JobTitle   string      `json:"job_title"`
	Department string      `json:"department"`
	AvatarID   *string     `json:"avatar_id"`
	CreateAt   time.Time   `json:"create_at"`
	UpdateAt   time.Time   `json:"update_at"`
}

func newUserView(u *models.User) UserView {
	return UserView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       u.Role,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Patronymic: u.Patronymic,
		JobTitle:   u.JobTitle,
		Department: u.Department,
		AvatarID:   u.AvatarID,
		CreateAt:   u.CreatedAt,
		UpdateAt:   u.UpdatedAt,
	}
}

func newDialogItem(d *models.Dialog, companion *models.User, total, unread int64) DialogItem {
	return DialogItem{
		ID:           d.ID,
		Title:        companion.FullName(),
		JobTitle:     companion.JobTitle,
		Department:   companion.Department,
		AvatarID:     companion.AvatarID,
		MessageCount: total,
		UnreadCount:  unread,
		Role:         companion.Role,
	}
}

func newMessageView(m *models.Message, owner *models.User, files []models.File) MessageView {
	view := MessageView{
		ID:       m.ID,
		Text:     m.Text,
		OwnerID:  m.OwnerID,
		IsRead:   m.IsRead,
		Files:    make([]FileView, 0, len(files)),
		CreateAt: m.CreatedAt,
		UpdateAt: m.UpdatedAt,
	}
	if owner != nil {
		view.AvatarID = owner.AvatarID
		view.FirstName = owner.FirstName
		view.LastName = owner.LastName
		view.Patronymic = owner.Patronymic
	}
	for _, f := range files {
		view.Files = append(view.Files, FileView{Title: f.FileName, FileID: f.ID})
	}
	return view
}
