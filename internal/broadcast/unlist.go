package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/streamloop/internal/config"
	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/provider"
)

// UnlistService flips finished broadcasts to unlisted once the provider has
// processed them. The provider rejects the privacy change while the
// recording is still processing, so each entry is retried on a fixed
// interval until it succeeds, fails permanently, exhausts its attempts, or
// outlives its TTL. Pending entries live only in memory; a daemon restart
// drops them, which is acceptable for a cosmetic cleanup.
type UnlistService struct {
	tokens *TokenSource
	client *provider.Client
	cfg    config.BroadcastConfig
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingUnlist

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingUnlist struct {
	videoID     string
	userID      models.ULID
	attempts    int
	nextAttempt time.Time
	expiresAt   time.Time
}

// NewUnlistService creates an UnlistService.
func NewUnlistService(tokens *TokenSource, client *provider.Client, cfg config.BroadcastConfig, logger *slog.Logger) *UnlistService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UnlistSweepInterval <= 0 {
		cfg.UnlistSweepInterval = time.Minute
	}
	return &UnlistService{
		tokens:  tokens,
		client:  client,
		cfg:     cfg,
		logger:  logger.With("component", "unlist_service"),
		pending: make(map[string]*pendingUnlist),
		now:     time.Now,
	}
}

// Start begins the retry sweep loop.
func (u *UnlistService) Start(ctx context.Context) {
	ctx, u.cancel = context.WithCancel(ctx)
	u.wg.Add(1)
	go u.run(ctx)
}

// Stop halts the sweep loop. Pending entries are discarded.
func (u *UnlistService) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
	u.wg.Wait()
}

// Schedule queues a video for unlisting after the initial delay. Scheduling
// an already queued video is a no-op, so the entry's retry state survives
// duplicate requests.
func (u *UnlistService) Schedule(userID models.ULID, videoID string) {
	if videoID == "" {
		return
	}
	now := u.now()

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.pending[videoID]; ok {
		return
	}
	u.pending[videoID] = &pendingUnlist{
		videoID:     videoID,
		userID:      userID,
		nextAttempt: now.Add(u.cfg.UnlistInitialDelay),
		expiresAt:   now.Add(u.cfg.UnlistTTL),
	}
	u.logger.Debug("unlist scheduled", "video_id", videoID, "user_id", userID)
}

// Cancel removes a queued video without unlisting it.
func (u *UnlistService) Cancel(videoID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.pending, videoID)
}

// PendingCount returns the number of queued videos.
func (u *UnlistService) PendingCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

func (u *UnlistService) run(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.UnlistSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Sweep(ctx)
		}
	}
}

// Sweep processes every due entry once. Exported for tests.
func (u *UnlistService) Sweep(ctx context.Context) {
	now := u.now()

	u.mu.Lock()
	var due []*pendingUnlist
	for id, entry := range u.pending {
		if now.After(entry.expiresAt) {
			delete(u.pending, id)
			u.logger.Warn("unlist entry expired",
				"video_id", id, "attempts", entry.attempts)
			continue
		}
		if !entry.nextAttempt.After(now) {
			due = append(due, entry)
		}
	}
	u.mu.Unlock()

	for _, entry := range due {
		u.attempt(ctx, entry)
	}
}

func (u *UnlistService) attempt(ctx context.Context, entry *pendingUnlist) {
	log := u.logger.With("video_id", entry.videoID, "user_id", entry.userID)

	err := u.unlistOnce(ctx, entry)
	if err == nil {
		u.Cancel(entry.videoID)
		log.Info("video unlisted", "attempts", entry.attempts+1)
		return
	}

	// Still processing and transient failures wait for the next sweep.
	// Everything else, an expired credential included, is permanent.
	retryable := provider.IsProcessing(err) || provider.IsTransient(err)

	u.mu.Lock()
	entry.attempts++
	attempts := entry.attempts
	entry.nextAttempt = u.now().Add(u.cfg.UnlistRetryInterval)
	u.mu.Unlock()

	if !retryable {
		u.Cancel(entry.videoID)
		if provider.IsCredentialExpired(err) {
			log.Error("unlist dropped, credential expired", "error", err)
		} else {
			log.Error("unlist failed permanently", "error", err)
		}
		return
	}
	if attempts >= u.cfg.UnlistMaxAttempts {
		u.Cancel(entry.videoID)
		log.Error("unlist abandoned after max attempts",
			"attempts", attempts, "error", err)
		return
	}
	log.Debug("unlist attempt failed, will retry",
		"attempts", attempts, "error", err)
}

func (u *UnlistService) unlistOnce(ctx context.Context, entry *pendingUnlist) error {
	token, err := u.tokens.Get(ctx, entry.userID)
	if err != nil {
		return err
	}
	return u.client.SetVideoPrivacy(ctx, token, entry.videoID, string(models.PrivacyUnlisted))
}
