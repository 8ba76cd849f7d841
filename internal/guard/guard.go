// Package guard enforces per-user concurrent live stream limits.
package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
)

// ActiveCounter reports how many streams a user currently has running.
// The count comes from confirmed running sessions, never from database
// status rows, so a crashed daemon can not strand phantom slots.
type ActiveCounter interface {
	ActiveCount(userID models.ULID) int
}

// Info is the result of a limit check.
type Info struct {
	CanStart       bool   `json:"can_start"`
	ActiveStreams  int    `json:"active_streams"`
	EffectiveLimit int    `json:"effective_limit"` // 0 means unlimited
	Message        string `json:"message,omitempty"`
}

// LiveLimitGuard decides whether a user may start another live stream.
type LiveLimitGuard struct {
	users        repository.UserRepository
	counter      ActiveCounter
	defaultLimit int
	logger       *slog.Logger
}

// New creates a LiveLimitGuard. defaultLimit of zero means unlimited.
func New(users repository.UserRepository, counter ActiveCounter, defaultLimit int, logger *slog.Logger) *LiveLimitGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveLimitGuard{
		users:        users,
		counter:      counter,
		defaultLimit: defaultLimit,
		logger:       logger.With("component", "live_limit_guard"),
	}
}

// EffectiveLimit resolves the limit for a user: a per-user override wins
// over the configured default. Zero means unlimited.
func (g *LiveLimitGuard) EffectiveLimit(ctx context.Context, userID models.ULID) (int, error) {
	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading user %s: %w", userID, err)
	}
	if user != nil && user.LiveLimit != nil {
		return *user.LiveLimit, nil
	}
	return g.defaultLimit, nil
}

// ValidateAndGetInfo checks whether the user may start one more stream.
// The check is advisory; the supervisor's session map remains the source
// of truth for what is actually running.
func (g *LiveLimitGuard) ValidateAndGetInfo(ctx context.Context, userID models.ULID) (*Info, error) {
	limit, err := g.EffectiveLimit(ctx, userID)
	if err != nil {
		return nil, err
	}

	active := g.counter.ActiveCount(userID)
	info := &Info{
		ActiveStreams:  active,
		EffectiveLimit: limit,
		CanStart:       limit == 0 || active < limit,
	}
	if !info.CanStart {
		info.Message = fmt.Sprintf("live stream limit reached (%d of %d)", active, limit)
		g.logger.Debug("live limit reached", "user_id", userID, "active", active, "limit", limit)
	}
	return info, nil
}
