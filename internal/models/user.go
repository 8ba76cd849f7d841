package models

import (
	"strings"

	"gorm.io/gorm"
)

// User represents an account owning streams and media.
// Authentication and session handling live outside this core; only the
// fields the relay coordinator reads are modeled here.
type User struct {
	BaseModel

	// Name is the unique account name.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// LiveLimit overrides the system-wide concurrent live stream limit.
	// Nil means the system default applies.
	LiveLimit *int `json:"live_limit,omitempty"`

	// StorageLimit bounds total media bytes for the user. Nil = unlimited.
	StorageLimit *int64 `json:"storage_limit,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Validate performs basic validation on the user.
func (u *User) Validate() error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the user and generates its ULID.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if err := u.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return u.Validate()
}
