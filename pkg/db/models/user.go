package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents the canonical identity entity. Email and phone number are
// globally unique; the token column holds the latest issued verification token.
type User struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Email        string     `gorm:"column:email;type:text;not null;uniqueIndex"`
	PhoneNumber  string     `gorm:"column:phone_number;type:text;not null;uniqueIndex"`
	PasswordHash string     `gorm:"column:password_hash;not null"`
	FirstName    string     `gorm:"column:first_name;not null"`
	LastName     string     `gorm:"column:last_name;not null"`
	Token        *string    `gorm:"column:token"`
	RoleID       uuid.UUID  `gorm:"column:role_id;type:uuid;not null"`
	Role         *Role      `gorm:"foreignKey:RoleID"`
	Businesses   []Business `gorm:"many2many:user_businesses;"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key so the model works on drivers without
// a uuid default (the sqlite test suite).
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
