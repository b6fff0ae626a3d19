package models

import "time"

// UserSession binds a signed credential to its owner until ExpiresAt.
// Token is unique: a second row with the same credential must fail to insert.
type UserSession struct {
	Base
	UserID    string    `json:"user_id"    gorm:"type:char(36);index;not null"`
	Token     string    `json:"-"          gorm:"type:varchar(512);uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
}

func (UserSession) TableName() string { return "user_sessions" }
