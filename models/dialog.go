package models

import "time"

// Dialog is a private conversation between exactly two users. The pair is
// stored sorted so the unique index covers both orders.
type Dialog struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	LowUserID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_dialog_pair" json:"-"`
	HighUserID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_dialog_pair" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Membership links a user to a dialog; each dialog has exactly two.
type Membership struct {
	UserID   string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	DialogID string    `gorm:"primaryKey;type:varchar(36);index" json:"dialog_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Pair orders two user ids the way Dialog stores them.
func Pair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Companion returns the other participant of the dialog.
func (d *Dialog) Companion(userID string) string {
	if d.LowUserID == userID {
		return d.HighUserID
	}
	return d.LowUserID
}

// Has reports whether userID participates in the dialog.
func (d *Dialog) Has(userID string) bool {
	return d.LowUserID == userID || d.HighUserID == userID
}
