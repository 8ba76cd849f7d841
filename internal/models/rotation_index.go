package models

import (
	"strings"

	"gorm.io/gorm"
)

// RotationIndex is the per (user, folder) monotonic counter behind
// deterministic, non-repeating thumbnail and title assignment. The counter
// is global per folder, not per stream key, so broadcasts created for
// different stream keys in temporal sequence still draw items in creation
// order. It advances only when a new broadcast is created via rotation,
// never on edits, and pinned selections bypass it entirely.
type RotationIndex struct {
	BaseModel

	// UserID is the owning user.
	UserID ULID `gorm:"uniqueIndex:idx_rotation_user_folder;not null;type:varchar(26)" json:"user_id"`

	// Folder names the rotation folder this counter tracks.
	Folder string `gorm:"uniqueIndex:idx_rotation_user_folder;not null;size:255" json:"folder"`

	// NextIndex is the index the next rotation creation will consume.
	NextIndex int `gorm:"not null;default:0" json:"next_index"`
}

// TableName returns the table name for RotationIndex.
func (RotationIndex) TableName() string {
	return "rotation_indexes"
}

// Validate performs basic validation on the rotation index.
func (r *RotationIndex) Validate() error {
	r.Folder = strings.TrimSpace(r.Folder)
	if r.UserID.IsZero() {
		return ErrUserRequired
	}
	if r.Folder == "" {
		return ErrFolderRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the index and generates its ULID.
func (r *RotationIndex) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}
