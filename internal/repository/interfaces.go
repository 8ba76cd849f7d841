// Package repository provides data access layers for streamloop models.
package repository

import (
	"context"
	"time"

	"github.com/streamloop/streamloop/internal/models"
)

// StreamRepository defines the interface for stream data access.
// It is the single funnel for status transitions: callers never write the
// status column except through MarkLive/ApplyStopped/MarkTriggered.
type StreamRepository interface {
	Create(ctx context.Context, stream *models.Stream) error
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	GetByUser(ctx context.Context, userID models.ULID) ([]*models.Stream, error)
	GetAll(ctx context.Context) ([]*models.Stream, error)
	Update(ctx context.Context, stream *models.Stream) error
	Delete(ctx context.Context, id models.ULID) error

	// GetScheduled returns streams in the scheduled state that still have
	// something to trigger.
	GetScheduled(ctx context.Context) ([]*models.Stream, error)

	// GetLive returns streams currently marked live.
	GetLive(ctx context.Context) ([]*models.Stream, error)

	// MarkTriggered records that the scheduled instant fired, but only if
	// the stream is still scheduled and the instant has not fired before.
	// Returns false when another tick already claimed the instant.
	MarkTriggered(ctx context.Context, id models.ULID, instant time.Time) (bool, error)

	// ReleaseTrigger rolls a claimed instant back to its previous value so
	// the next poll can retry it. The rollback only applies while the claim
	// is still the latest one.
	ReleaseTrigger(ctx context.Context, id models.ULID, instant time.Time, prev *time.Time) error

	// MarkLive transitions a stream to live with the given session start.
	MarkLive(ctx context.Context, id models.ULID, startedAt time.Time) error

	// ApplyStopped transitions a stream out of live into next, optionally
	// clearing the one-shot schedule time, and records the last error.
	ApplyStopped(ctx context.Context, id models.ULID, next models.StreamStatus, clearSchedule bool, lastError string) error

	// UpdateBroadcast records the provider broadcast reference and state.
	UpdateBroadcast(ctx context.Context, id models.ULID, broadcastID string, state models.BroadcastState) error
}

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id models.ULID) (*models.User, error)
}

// MediaFileRepository defines the interface for media metadata access.
type MediaFileRepository interface {
	Create(ctx context.Context, media *models.MediaFile) error
	GetByID(ctx context.Context, id models.ULID) (*models.MediaFile, error)
	GetByUser(ctx context.Context, userID models.ULID) ([]*models.MediaFile, error)
}

// CredentialRepository defines the interface for provider credential access.
type CredentialRepository interface {
	Create(ctx context.Context, cred *models.ProviderCredential) error
	GetByUser(ctx context.Context, userID models.ULID) (*models.ProviderCredential, error)

	// UpdateAccessToken persists a freshly minted access token.
	UpdateAccessToken(ctx context.Context, id models.ULID, token string, expiry time.Time) error
}

// TemplateRepository defines the interface for broadcast template access.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.BroadcastTemplate) error
	GetByID(ctx context.Context, id models.ULID) (*models.BroadcastTemplate, error)
}

// RotationIndexRepository defines the interface for rotation counter access.
type RotationIndexRepository interface {
	// Get returns the current next index for (user, folder), zero if the
	// counter does not exist yet.
	Get(ctx context.Context, userID models.ULID, folder string) (int, error)

	// Advance atomically consumes and returns the current index for
	// (user, folder), leaving the counter incremented by one.
	Advance(ctx context.Context, userID models.ULID, folder string) (int, error)
}
