package models

import (
	"time"
)

// MaxMessageFiles caps the attachments of one message.
const MaxMessageFiles = 10

// Message belongs to a dialog. Seq orders messages within the dialog and
// CreatedAt is strictly increasing along it.
type Message struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DialogID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_message_dialog_seq,priority:1" json:"dialog_id"`
	Seq       int64     `gorm:"not null;uniqueIndex:idx_message_dialog_seq,priority:2" json:"-"`
	OwnerID   string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	Text      *string   `gorm:"type:varchar(1024)" json:"text"`
	IsRead    bool      `gorm:"default:false;not null" json:"is_read"` // 是否已读
	CreatedAt time.Time `gorm:"precision:6" json:"create_at"`
	UpdatedAt time.Time `gorm:"precision:6" json:"update_at"`
}

// File is an uploaded blob reference. MessageID is set once, when a message
// claims the file.
type File struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FileName  string    `gorm:"type:varchar(255);default:file" json:"file_name"`
	StorageID string    `gorm:"type:varchar(36)" json:"storage_id"`
	MessageID *string   `gorm:"type:varchar(36);index" json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}
