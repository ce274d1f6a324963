package models

import (
	"time"
)

// User 用户模型
// Reference data for the dialog subsystem; only auth writes it.
type User struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	HashedPassword string    `gorm:"type:varchar(255);not null" json:"-"`
	Role           Role      `gorm:"default:3;not null" json:"role"`
	FirstName      string    `gorm:"type:varchar(255)" json:"first_name"`
	LastName       string    `gorm:"type:varchar(255)" json:"last_name"`
	Patronymic     *string   `gorm:"type:varchar(255)" json:"patronymic"`
	JobTitle       string    `gorm:"type:varchar(255)" json:"job_title"`
	Department     string    `gorm:"type:varchar(255)" json:"department"`
	AvatarID       *string   `gorm:"type:varchar(36)" json:"avatar_id"`
	CreatedAt      time.Time `json:"create_at"`
	UpdatedAt      time.Time `json:"update_at"`
}

// FullName is the dialog title shown to the companion.
func (u *User) FullName() string {
	name := u.FirstName + " " + u.LastName
	if u.Patronymic != nil && *u.Patronymic != "" {
		name += " " + *u.Patronymic
	}
	return name
}
