package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/streamloop/streamloop/internal/guard"
	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
	"github.com/streamloop/streamloop/internal/supervisor"
)

// Trigger polls for due streams and starts them. Each scheduled instant
// fires at most once: the poll claims the instant through the repository's
// guarded update before any process is launched, so overlapping ticks and
// multiple daemons can not double-fire.
type Trigger struct {
	streams repository.StreamRepository
	guard   *guard.LiveLimitGuard
	sup     *supervisor.Supervisor
	logger  *slog.Logger

	pollInterval time.Duration
	fireWindow   time.Duration
	loc          *time.Location

	// now is replaceable for tests.
	now func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrigger creates a schedule trigger.
func NewTrigger(streams repository.StreamRepository, g *guard.LiveLimitGuard, sup *supervisor.Supervisor, pollInterval, fireWindow time.Duration, loc *time.Location, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if fireWindow <= 0 {
		fireWindow = time.Hour
	}
	if loc == nil {
		loc = time.Local
	}
	return &Trigger{
		streams:      streams,
		guard:        g,
		sup:          sup,
		logger:       logger.With("component", "schedule_trigger"),
		pollInterval: pollInterval,
		fireWindow:   fireWindow,
		loc:          loc,
		now:          time.Now,
	}
}

// Start begins the poll loop.
func (t *Trigger) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx)
	t.logger.Info("schedule trigger started",
		"poll_interval", t.pollInterval,
		"fire_window", t.fireWindow,
		"timezone", t.loc.String())
}

// Stop halts the poll loop and waits for in-flight work.
func (t *Trigger) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Trigger) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	// One immediate pass so overdue streams fire right after startup.
	t.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one poll pass. Exported for tests.
func (t *Trigger) Tick(ctx context.Context) {
	streams, err := t.streams.GetScheduled(ctx)
	if err != nil {
		t.logger.Error("listing scheduled streams", "error", err)
		return
	}

	now := t.now()
	for _, stream := range streams {
		fireAt, due, err := t.due(stream, now)
		if err != nil {
			t.logger.Error("evaluating schedule",
				"stream_id", stream.ID, "stream_name", stream.Name, "error", err)
			continue
		}
		if !due {
			continue
		}

		claimed, err := t.streams.MarkTriggered(ctx, stream.ID, fireAt)
		if err != nil {
			t.logger.Error("claiming trigger", "stream_id", stream.ID, "error", err)
			continue
		}
		if !claimed {
			// Another tick or daemon already owns this instant.
			continue
		}

		t.wg.Add(1)
		go func(stream *models.Stream, fireAt time.Time) {
			defer t.wg.Done()
			t.fire(ctx, stream, fireAt)
		}(stream, fireAt)
	}
}

// due decides whether the stream's pending instant should fire now.
// One-shot instants fire at any lateness; recurring occurrences fire only
// within the window, a missed occurrence waits for the next one.
func (t *Trigger) due(stream *models.Stream, now time.Time) (time.Time, bool, error) {
	switch stream.ScheduleType {
	case models.ScheduleOnce:
		if stream.ScheduleTime == nil {
			return time.Time{}, false, nil
		}
		at := time.Time(*stream.ScheduleTime)
		return at, !at.After(now), nil

	case models.ScheduleDaily, models.ScheduleWeekly:
		if !stream.RecurringActive() {
			return time.Time{}, false, nil
		}
		occ, today, err := occurrenceToday(stream, now, t.loc)
		if err != nil || !today {
			return time.Time{}, false, err
		}
		if occ.After(now) {
			return time.Time{}, false, nil
		}
		if now.Sub(occ) > t.fireWindow {
			if stream.LastTriggeredAt == nil || time.Time(*stream.LastTriggeredAt).Before(occ) {
				t.logger.Warn("missed occurrence outside fire window",
					"stream_id", stream.ID,
					"stream_name", stream.Name,
					"occurrence", occ,
					"lateness", now.Sub(occ))
			}
			return time.Time{}, false, nil
		}
		return occ, true, nil

	default:
		return time.Time{}, false, models.ErrInvalidScheduleType
	}
}

// fire starts one claimed stream, checking the live limit first.
func (t *Trigger) fire(ctx context.Context, stream *models.Stream, fireAt time.Time) {
	log := t.logger.With("stream_id", stream.ID, "stream_name", stream.Name)

	info, err := t.guard.ValidateAndGetInfo(ctx, stream.UserID)
	if err != nil {
		log.Error("checking live limit", "error", err)
		t.releaseClaim(ctx, stream, fireAt)
		return
	}
	if !info.CanStart {
		log.Warn("trigger skipped, live limit reached",
			"active", info.ActiveStreams, "limit", info.EffectiveLimit)
		t.releaseClaim(ctx, stream, fireAt)
		return
	}

	log.Info("firing scheduled stream", "scheduled_for", fireAt, "lateness", t.now().Sub(fireAt))

	if _, err := t.sup.Start(ctx, stream); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			log.Debug("stream already live at fire time")
			return
		}
		log.Error("starting stream", "error", err)
		t.releaseClaim(ctx, stream, fireAt)
	}
}

// releaseClaim rolls back the claimed instant so the next poll retries it.
// The stream row is otherwise untouched: a denied or failed start leaves the
// stream scheduled.
func (t *Trigger) releaseClaim(ctx context.Context, stream *models.Stream, fireAt time.Time) {
	if err := t.streams.ReleaseTrigger(ctx, stream.ID, fireAt, stream.LastTriggeredAt); err != nil {
		t.logger.Error("releasing trigger claim", "stream_id", stream.ID, "error", err)
	}
}
