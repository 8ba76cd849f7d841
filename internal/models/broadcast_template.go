package models

import (
	"strings"

	"gorm.io/gorm"
)

// PrivacyStatus is the provider-side visibility of a broadcast or replay.
type PrivacyStatus string

const (
	PrivacyPublic   PrivacyStatus = "public"
	PrivacyUnlisted PrivacyStatus = "unlisted"
	PrivacyPrivate  PrivacyStatus = "private"
)

// ValidPrivacy reports whether p is a known privacy status.
func ValidPrivacy(p PrivacyStatus) bool {
	switch p {
	case PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return true
	}
	return false
}

// BroadcastTemplate describes how provider broadcasts are created for a
// stream: metadata, visibility, and the rotation folders that supply
// non-repeating titles and thumbnails across consecutive creations.
type BroadcastTemplate struct {
	BaseModel

	// UserID is the owning user.
	UserID ULID `gorm:"index;not null;type:varchar(26)" json:"user_id"`

	// Name is a user-friendly template name.
	Name string `gorm:"not null;size:255" json:"name"`

	// Title is the broadcast title. Ignored when TitleFolder rotation is used.
	Title string `gorm:"size:255" json:"title"`

	// Description is the broadcast description.
	Description string `gorm:"size:4096" json:"description,omitempty"`

	// Privacy is the broadcast visibility at creation time.
	Privacy PrivacyStatus `gorm:"not null;default:'public';size:10" json:"privacy"`

	// Category is the provider category id.
	Category string `gorm:"size:30" json:"category,omitempty"`

	// ThumbnailFolder names the rotation folder supplying thumbnails.
	ThumbnailFolder string `gorm:"size:255" json:"thumbnail_folder,omitempty"`

	// PinnedThumbnail, when set, bypasses thumbnail rotation entirely and
	// never advances the rotation index.
	PinnedThumbnail string `gorm:"size:2048" json:"pinned_thumbnail,omitempty"`

	// TitleFolder names the rotation folder supplying titles.
	TitleFolder string `gorm:"size:255" json:"title_folder,omitempty"`

	// PinnedTitle, when set, bypasses title rotation.
	PinnedTitle string `gorm:"size:255" json:"pinned_title,omitempty"`
}

// TableName returns the table name for BroadcastTemplate.
func (BroadcastTemplate) TableName() string {
	return "broadcast_templates"
}

// Validate performs basic validation on the template.
func (t *BroadcastTemplate) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	t.Title = strings.TrimSpace(t.Title)

	if t.Name == "" {
		return ErrNameRequired
	}
	if t.UserID.IsZero() {
		return ErrUserRequired
	}
	if !ValidPrivacy(t.Privacy) {
		return ErrInvalidPrivacy
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the template and generates its ULID.
func (t *BroadcastTemplate) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}
