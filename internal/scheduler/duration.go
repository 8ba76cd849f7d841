package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/supervisor"
)

// DurationEnforcer stops live sessions when their configured runtime bound
// elapses. It listens to session lifecycle events: a start arms a timer, a
// stop disarms it. Timers carry the session id they were armed for, so a
// timer that outlives its session can never kill a newer run of the same
// stream.
type DurationEnforcer struct {
	sup    *supervisor.Supervisor
	logger *slog.Logger

	mu     sync.Mutex
	timers map[models.ULID]*armedTimer
}

type armedTimer struct {
	sessionID string
	timer     *time.Timer
}

// NewDurationEnforcer creates a DurationEnforcer.
func NewDurationEnforcer(sup *supervisor.Supervisor, logger *slog.Logger) *DurationEnforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DurationEnforcer{
		sup:    sup,
		logger: logger.With("component", "duration_enforcer"),
		timers: make(map[models.ULID]*armedTimer),
	}
}

// StreamStarted arms the runtime bound for streams that have one.
func (d *DurationEnforcer) StreamStarted(stream *models.Stream, sessionID string) {
	limit, ok := stream.Duration()
	if !ok {
		return
	}

	streamID := stream.ID
	d.mu.Lock()
	if prev, exists := d.timers[streamID]; exists {
		prev.timer.Stop()
	}
	d.timers[streamID] = &armedTimer{
		sessionID: sessionID,
		timer: time.AfterFunc(limit, func() {
			d.expire(streamID, sessionID)
		}),
	}
	d.mu.Unlock()

	d.logger.Debug("duration timer armed",
		"stream_id", streamID, "session_id", sessionID, "limit", limit)
}

// StreamStopped disarms the timer for the ended session.
func (d *DurationEnforcer) StreamStopped(stream *models.Stream, sessionID string, _ supervisor.StopCause, _ error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if armed, ok := d.timers[stream.ID]; ok && armed.sessionID == sessionID {
		armed.timer.Stop()
		delete(d.timers, stream.ID)
	}
}

func (d *DurationEnforcer) expire(streamID models.ULID, sessionID string) {
	d.mu.Lock()
	if armed, ok := d.timers[streamID]; ok && armed.sessionID == sessionID {
		delete(d.timers, streamID)
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := d.sup.StopSession(ctx, streamID, sessionID, supervisor.CauseDuration)
	switch {
	case err == nil:
		d.logger.Info("duration limit reached, session stopped",
			"stream_id", streamID, "session_id", sessionID)
	case errors.Is(err, supervisor.ErrNotRunning):
		// Session ended on its own before the timer fired.
	default:
		d.logger.Error("stopping expired session",
			"stream_id", streamID, "session_id", sessionID, "error", err)
	}
}

// Shutdown disarms all timers.
func (d *DurationEnforcer) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, armed := range d.timers {
		armed.timer.Stop()
		delete(d.timers, id)
	}
}

var _ supervisor.LifecycleListener = (*DurationEnforcer)(nil)
