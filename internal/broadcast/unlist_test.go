package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/config"
	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/provider"
	"github.com/streamloop/streamloop/internal/repository"
)

func testBroadcastConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		UnlistInitialDelay:  time.Minute,
		UnlistRetryInterval: time.Minute,
		UnlistMaxAttempts:   3,
		UnlistTTL:           time.Hour,
		UnlistSweepInterval: time.Second,
	}
}

func createCredential(t *testing.T, db *gorm.DB, userID models.ULID) {
	t.Helper()
	expiry := time.Now().Add(time.Hour)
	cred := &models.ProviderCredential{
		UserID:            userID,
		AccessToken:       "valid-token",
		RefreshToken:      "refresh-token",
		AccessTokenExpiry: &expiry,
	}
	require.NoError(t, db.Create(cred).Error)
}

// newUnlistEnv wires an UnlistService against an httptest provider.
func newUnlistEnv(t *testing.T, handler http.Handler) (*UnlistService, models.ULID, *time.Time) {
	t.Helper()

	db := setupBroadcastDB(t)
	userID := models.NewULID()
	createCredential(t, db, userID)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := provider.NewClient(provider.Config{
		BaseURL:       srv.URL,
		TokenURL:      srv.URL + "/token",
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, nil)
	tokens := NewTokenSource(repository.NewCredentialRepository(db), client, nil)

	svc := NewUnlistService(tokens, client, testBroadcastConfig(), nil)

	now := time.Now()
	clock := &now
	svc.now = func() time.Time { return *clock }
	return svc, userID, clock
}

func okHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	})
}

func errorHandler(status int, reason string, calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(`{"error":{"message":"nope","errors":[{"reason":"` + reason + `"}]}}`))
	})
}

func TestUnlistScheduleIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	svc, userID, _ := newUnlistEnv(t, okHandler(&calls))

	svc.Schedule(userID, "vid-1")
	svc.Schedule(userID, "vid-1")
	svc.Schedule(userID, "vid-1")

	assert.Equal(t, 1, svc.PendingCount())
}

func TestUnlistWaitsForInitialDelay(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, okHandler(&calls))

	svc.Schedule(userID, "vid-1")
	svc.Sweep(context.Background())
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, svc.PendingCount())

	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, svc.PendingCount())
}

func TestUnlistRetriesWhileProcessing(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, errorHandler(http.StatusForbidden, "errorStreamInactive", &calls))

	svc.Schedule(userID, "vid-1")
	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, svc.PendingCount(), "entry stays queued for retry")

	// Not due again until the retry interval passes.
	svc.Sweep(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnlistDropsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, errorHandler(http.StatusInternalServerError, "backendError", &calls))

	svc.Schedule(userID, "vid-1")
	for i := 0; i < 5; i++ {
		*clock = clock.Add(2 * time.Minute)
		svc.Sweep(context.Background())
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, svc.PendingCount())
}

func TestUnlistPermanentErrorDropsImmediately(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, errorHandler(http.StatusNotFound, "videoNotFound", &calls))

	svc.Schedule(userID, "vid-1")
	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())

	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, svc.PendingCount())
}

func TestUnlistExpiredCredentialDropsImmediately(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, errorHandler(http.StatusUnauthorized, "authError", &calls))

	svc.Schedule(userID, "vid-1")
	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())

	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, svc.PendingCount())

	// No further attempts once dropped.
	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnlistEntryExpiresAfterTTL(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, okHandler(&calls))

	svc.Schedule(userID, "vid-1")
	*clock = clock.Add(2 * time.Hour)
	svc.Sweep(context.Background())

	assert.Equal(t, int32(0), calls.Load())
	assert.Zero(t, svc.PendingCount())
}

func TestUnlistCancel(t *testing.T) {
	var calls atomic.Int32
	svc, userID, clock := newUnlistEnv(t, okHandler(&calls))

	svc.Schedule(userID, "vid-1")
	svc.Cancel("vid-1")

	*clock = clock.Add(2 * time.Minute)
	svc.Sweep(context.Background())
	assert.Equal(t, int32(0), calls.Load())
}
