package models

// UserModel is an account that can hold sessions.
type UserModel struct {
	Base
	Email    string `json:"email" gorm:"uniqueIndex;size:191;not null"`
	Password string `json:"-"     gorm:"not null"`
	Name     string `json:"name"`
}

func (UserModel) TableName() string { return "users" }
