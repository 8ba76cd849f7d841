package models

import (
	"strings"

	"gorm.io/gorm"
)

// MediaKind distinguishes video files from audio-only files.
type MediaKind string

const (
	// MediaKindVideo is a video file relayed as-is.
	MediaKindVideo MediaKind = "video"
	// MediaKindAudio is an audio file relayed with a still image or blank video.
	MediaKindAudio MediaKind = "audio"
)

// MediaFile represents an uploaded media file a stream can relay.
// Upload and transcoding are external; this core only reads the metadata
// needed to build an encoder invocation.
type MediaFile struct {
	BaseModel

	// UserID is the owning user.
	UserID ULID `gorm:"index;not null;type:varchar(26)" json:"user_id"`

	// Name is the display name.
	Name string `gorm:"not null;size:255" json:"name"`

	// Kind is video or audio.
	Kind MediaKind `gorm:"not null;size:10" json:"kind"`

	// Path is the filesystem location of the stored media.
	Path string `gorm:"not null;size:2048" json:"path"`

	// DurationSeconds is the media runtime as probed at upload time.
	DurationSeconds float64 `gorm:"default:0" json:"duration_seconds"`

	// SizeBytes is the stored file size.
	SizeBytes int64 `gorm:"default:0" json:"size_bytes"`
}

// TableName returns the table name for MediaFile.
func (MediaFile) TableName() string {
	return "media_files"
}

// IsAudio returns true for audio-only media.
func (m *MediaFile) IsAudio() bool {
	return m.Kind == MediaKindAudio
}

// Validate performs basic validation on the media file.
func (m *MediaFile) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.Path = strings.TrimSpace(m.Path)

	if m.Name == "" {
		return ErrNameRequired
	}
	if m.UserID.IsZero() {
		return ErrUserRequired
	}
	if m.Path == "" {
		return ErrMediaPathRequired
	}
	if m.Kind != MediaKindVideo && m.Kind != MediaKindAudio {
		return ErrInvalidMediaKind
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the media file and generates its ULID.
func (m *MediaFile) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
