// Package broadcast keeps the external provider's broadcast lifecycle in
// step with local encoder sessions.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/provider"
	"github.com/streamloop/streamloop/internal/repository"
)

// TokenSource hands out valid access tokens for users, refreshing and
// persisting them when they are close to expiry.
type TokenSource struct {
	creds  repository.CredentialRepository
	client *provider.Client
	logger *slog.Logger

	// refreshMu serializes refreshes so concurrent callers do not burn
	// multiple refresh grants for the same user.
	refreshMu sync.Mutex
}

// NewTokenSource creates a TokenSource.
func NewTokenSource(creds repository.CredentialRepository, client *provider.Client, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{
		creds:  creds,
		client: client,
		logger: logger.With("component", "token_source"),
	}
}

// Get returns a valid access token for the user.
func (t *TokenSource) Get(ctx context.Context, userID models.ULID) (string, error) {
	cred, err := t.creds.GetByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading credential for user %s: %w", userID, err)
	}
	if cred == nil {
		return "", fmt.Errorf("user %s has no provider credential", userID)
	}

	if cred.AccessTokenValid(time.Now()) {
		return cred.AccessToken, nil
	}

	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	// Re-read: another caller may have refreshed while we waited.
	cred, err = t.creds.GetByUser(ctx, userID)
	if err != nil || cred == nil {
		return "", fmt.Errorf("reloading credential for user %s: %w", userID, err)
	}
	if cred.AccessTokenValid(time.Now()) {
		return cred.AccessToken, nil
	}

	tok, err := t.client.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing token for user %s: %w", userID, err)
	}

	if err := t.creds.UpdateAccessToken(ctx, cred.ID, tok.AccessToken, tok.Expiry); err != nil {
		t.logger.Error("persisting refreshed token", "user_id", userID, "error", err)
	}
	return tok.AccessToken, nil
}
