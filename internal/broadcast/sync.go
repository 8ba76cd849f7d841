package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/provider"
	"github.com/streamloop/streamloop/internal/repository"
	"github.com/streamloop/streamloop/internal/supervisor"
)

// liveTransitionAttempts bounds how long a start waits for the provider to
// see the ingest feed before giving up on the live transition.
const (
	liveTransitionAttempts = 6
	liveTransitionDelay    = 10 * time.Second
)

// LifecycleSync mirrors encoder session lifecycle onto the provider's
// broadcast lifecycle. Provider failures never affect the relay itself;
// they are logged and the stream keeps running.
type LifecycleSync struct {
	streams   repository.StreamRepository
	templates repository.TemplateRepository
	tokens    *TokenSource
	client    *provider.Client
	rotator   *Rotator
	unlist    *UnlistService
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewLifecycleSync creates a LifecycleSync.
func NewLifecycleSync(streams repository.StreamRepository, templates repository.TemplateRepository, tokens *TokenSource, client *provider.Client, rotator *Rotator, unlist *UnlistService, logger *slog.Logger) *LifecycleSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleSync{
		streams:   streams,
		templates: templates,
		tokens:    tokens,
		client:    client,
		rotator:   rotator,
		unlist:    unlist,
		logger:    logger.With("component", "broadcast_sync"),
	}
}

// StreamStarted transitions (creating first if needed) the stream's
// broadcast to live. Runs asynchronously so the encoder session never
// waits on the provider.
func (b *LifecycleSync) StreamStarted(stream *models.Stream, sessionID string) {
	if !models.BoolVal(stream.AutoStartBroadcast) {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		b.handleStarted(ctx, stream)
	}()
}

// StreamStopped completes the broadcast and queues the unlist cleanup.
func (b *LifecycleSync) StreamStopped(stream *models.Stream, sessionID string, cause supervisor.StopCause, _ error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		b.handleStopped(ctx, stream)
	}()
}

// Shutdown waits for in-flight provider work.
func (b *LifecycleSync) Shutdown() {
	b.wg.Wait()
}

func (b *LifecycleSync) handleStarted(ctx context.Context, stream *models.Stream) {
	log := b.logger.With("stream_id", stream.ID, "stream_name", stream.Name)

	token, err := b.tokens.Get(ctx, stream.UserID)
	if err != nil {
		log.Error("getting access token", "error", err)
		return
	}

	broadcastID := stream.BroadcastID
	if broadcastID == "" {
		broadcastID, err = b.createFromTemplate(ctx, token, stream)
		if err != nil {
			log.Error("creating broadcast", "error", err)
			return
		}
		if broadcastID == "" {
			// No template configured; nothing to go live with.
			return
		}
	}

	if err := b.transitionLive(ctx, token, broadcastID); err != nil {
		log.Error("transitioning broadcast to live",
			"broadcast_id", broadcastID, "error", err)
		return
	}

	if err := b.streams.UpdateBroadcast(ctx, stream.ID, broadcastID, models.BroadcastStateLive); err != nil {
		log.Error("recording broadcast state", "error", err)
		return
	}
	log.Info("broadcast live", "broadcast_id", broadcastID)
}

// transitionLive retries while the provider is still waiting for the
// ingest feed. An already-live response counts as success.
func (b *LifecycleSync) transitionLive(ctx context.Context, token, broadcastID string) error {
	var err error
	for attempt := 1; attempt <= liveTransitionAttempts; attempt++ {
		err = b.client.TransitionBroadcast(ctx, token, broadcastID, provider.BroadcastStatusLive)
		switch {
		case err == nil, provider.IsAlreadyLive(err):
			return nil
		case provider.IsProcessing(err):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(liveTransitionDelay):
			}
		default:
			return err
		}
	}
	return err
}

// createFromTemplate builds a broadcast from the stream's template,
// drawing rotating title and thumbnail assets. Returns "" when the stream
// has no template.
func (b *LifecycleSync) createFromTemplate(ctx context.Context, token string, stream *models.Stream) (string, error) {
	if stream.TemplateID == nil {
		return "", nil
	}
	tmpl, err := b.templates.GetByID(ctx, *stream.TemplateID)
	if err != nil {
		return "", err
	}
	if tmpl == nil {
		b.logger.Warn("broadcast template not found",
			"stream_id", stream.ID, "template_id", *stream.TemplateID)
		return "", nil
	}

	title, err := b.rotator.NextTitle(ctx, stream.UserID, tmpl)
	if err != nil {
		b.logger.Warn("picking rotated title", "stream_id", stream.ID, "error", err)
	}
	if title == "" {
		title = tmpl.Title
	}

	broadcastID, err := b.client.CreateBroadcast(ctx, token, provider.CreateBroadcastRequest{
		Title:       title,
		Description: tmpl.Description,
		Privacy:     string(tmpl.Privacy),
		Category:    tmpl.Category,
		StartTime:   time.Now(),
	})
	if err != nil {
		return "", err
	}

	if err := b.streams.UpdateBroadcast(ctx, stream.ID, broadcastID, models.BroadcastStateReady); err != nil {
		b.logger.Error("recording created broadcast",
			"stream_id", stream.ID, "broadcast_id", broadcastID, "error", err)
	}

	thumb, err := b.rotator.NextThumbnail(ctx, stream.UserID, tmpl)
	if err != nil {
		b.logger.Warn("picking rotated thumbnail", "stream_id", stream.ID, "error", err)
	} else if thumb != "" {
		if err := b.client.SetThumbnail(ctx, token, broadcastID, thumb); err != nil {
			b.logger.Warn("setting thumbnail",
				"broadcast_id", broadcastID, "error", err)
		}
	}

	return broadcastID, nil
}

func (b *LifecycleSync) handleStopped(ctx context.Context, stream *models.Stream) {
	if stream.BroadcastID == "" {
		return
	}
	log := b.logger.With("stream_id", stream.ID, "broadcast_id", stream.BroadcastID)

	if models.BoolVal(stream.AutoStopBroadcast) {
		token, err := b.tokens.Get(ctx, stream.UserID)
		if err != nil {
			log.Error("getting access token", "error", err)
		} else {
			err = b.client.TransitionBroadcast(ctx, token, stream.BroadcastID, provider.BroadcastStatusComplete)
			if err != nil && !provider.IsAlreadyLive(err) {
				log.Error("completing broadcast", "error", err)
			} else {
				if err := b.streams.UpdateBroadcast(ctx, stream.ID, stream.BroadcastID, models.BroadcastStateComplete); err != nil {
					log.Error("recording broadcast state", "error", err)
				}
				log.Info("broadcast completed")
			}
		}
	}

	if models.BoolVal(stream.UnlistOnEnd) && b.unlist != nil {
		b.unlist.Schedule(stream.UserID, stream.BroadcastID)
	}
}

var _ supervisor.LifecycleListener = (*LifecycleSync)(nil)
