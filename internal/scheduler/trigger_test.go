package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamloop/streamloop/internal/config"
	"github.com/streamloop/streamloop/internal/encoder"
	"github.com/streamloop/streamloop/internal/guard"
	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
	"github.com/streamloop/streamloop/internal/supervisor"
)

type stubProcess struct {
	done chan struct{}
	once sync.Once
}

func (p *stubProcess) Done() <-chan struct{}          { return p.done }
func (p *stubProcess) ExitErr() error                 { return nil }
func (p *stubProcess) Stop(time.Duration) error       { p.once.Do(func() { close(p.done) }); return nil }
func (p *stubProcess) Pid() int                       { return 1 }
func (p *stubProcess) Logs() []string                 { return nil }
func (p *stubProcess) Stats() *encoder.ProcessStats   { return nil }

type stubLauncher struct {
	mu       sync.Mutex
	launches int
}

func (l *stubLauncher) Launch(ctx context.Context, stream *models.Stream, media *models.MediaFile) (supervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	return &stubProcess{done: make(chan struct{})}, nil
}

func (l *stubLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

type triggerEnv struct {
	trigger  *Trigger
	streams  repository.StreamRepository
	sup      *supervisor.Supervisor
	launcher *stubLauncher
	userID   models.ULID
	mediaID  models.ULID
	now      time.Time
}

func setupTrigger(t *testing.T, defaultLimit int) *triggerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.MediaFile{}, &models.Stream{}))

	user := &models.User{Name: "owner"}
	require.NoError(t, db.Create(user).Error)
	media := &models.MediaFile{
		UserID: user.ID,
		Name:   "loop.mp4",
		Kind:   models.MediaKindVideo,
		Path:   "/media/loop.mp4",
	}
	require.NoError(t, db.Create(media).Error)

	streams := repository.NewStreamRepository(db)
	launcher := &stubLauncher{}
	sup := supervisor.New(config.EncoderConfig{StopGracePeriod: time.Second},
		streams, repository.NewMediaFileRepository(db), nil).
		WithLauncher(launcher)
	g := guard.New(repository.NewUserRepository(db), sup, defaultLimit, nil)

	env := &triggerEnv{
		streams:  streams,
		sup:      sup,
		launcher: launcher,
		userID:   user.ID,
		mediaID:  media.ID,
		now:      time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC),
	}
	env.trigger = NewTrigger(streams, g, sup, time.Second, 5*time.Minute, time.UTC, nil)
	env.trigger.now = func() time.Time { return env.now }
	return env
}

func (e *triggerEnv) createScheduled(t *testing.T, mutate func(*models.Stream)) *models.Stream {
	t.Helper()
	stream := &models.Stream{
		Name:         "scheduled stream",
		UserID:       e.userID,
		IngestURL:    "rtmp://ingest.example.com/live",
		StreamKey:    "key",
		ScheduleType: models.ScheduleOnce,
		MediaFileID:  &e.mediaID,
		Status:       models.StreamStatusScheduled,
	}
	if mutate != nil {
		mutate(stream)
	}
	require.NoError(t, e.streams.Create(context.Background(), stream))
	return stream
}

func (e *triggerEnv) tickAndSettle(ctx context.Context) {
	e.trigger.Tick(ctx)
	// Fire goroutines are tracked by the trigger's wait group.
	e.trigger.wg.Wait()
}

func TestTriggerFiresDueOneShot(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	at := env.now.Add(-time.Minute)
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)

	assert.True(t, env.sup.IsActive(stream.ID))
	got, err := env.streams.GetByID(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusLive, got.Status)
	require.NotNil(t, got.LastTriggeredAt)
	assert.True(t, got.LastTriggeredAt.Equal(at))
}

func TestTriggerOneShotFiresAtAnyLateness(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	at := env.now.Add(-48 * time.Hour)
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)
	assert.True(t, env.sup.IsActive(stream.ID))
}

func TestTriggerIgnoresFutureOneShot(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	at := env.now.Add(time.Hour)
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)
	assert.False(t, env.sup.IsActive(stream.ID))
	assert.Equal(t, 0, env.launcher.count())
}

func TestTriggerDoesNotDoubleFire(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	at := env.now.Add(-time.Minute)
	env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)
	env.tickAndSettle(ctx)
	env.tickAndSettle(ctx)

	assert.Equal(t, 1, env.launcher.count())
}

func TestTriggerRecurringWithinWindow(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	// now is Wednesday 12:00 UTC; occurrence 11:58 is inside the window.
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleType = models.ScheduleDaily
		s.RecurringTime = "11:58"
		s.RecurringEnabled = models.BoolPtr(true)
	})

	env.tickAndSettle(ctx)
	assert.True(t, env.sup.IsActive(stream.ID))
}

func TestTriggerRecurringOutsideWindowSkips(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	// Occurrence 08:00 is four hours past with a five minute window.
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleType = models.ScheduleDaily
		s.RecurringTime = "08:00"
		s.RecurringEnabled = models.BoolPtr(true)
	})

	env.tickAndSettle(ctx)
	assert.False(t, env.sup.IsActive(stream.ID))
	assert.Equal(t, 0, env.launcher.count())
}

func TestTriggerWeeklyWrongDaySkips(t *testing.T) {
	env := setupTrigger(t, 0)
	ctx := context.Background()

	// now is a Wednesday.
	stream := env.createScheduled(t, func(s *models.Stream) {
		s.ScheduleType = models.ScheduleWeekly
		s.RecurringTime = "11:58"
		s.DaysOfWeek = "sat,sun"
		s.RecurringEnabled = models.BoolPtr(true)
	})

	env.tickAndSettle(ctx)
	assert.False(t, env.sup.IsActive(stream.ID))
}

func TestTriggerLimitReachedKeepsOneShotScheduled(t *testing.T) {
	env := setupTrigger(t, 1)
	ctx := context.Background()

	// Occupy the only slot.
	running := env.createScheduled(t, nil)
	_, err := env.sup.Start(ctx, running)
	require.NoError(t, err)

	at := env.now.Add(-time.Minute)
	blocked := env.createScheduled(t, func(s *models.Stream) {
		s.Name = "blocked"
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)

	assert.False(t, env.sup.IsActive(blocked.ID))
	got, err := env.streams.GetByID(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusScheduled, got.Status)
	require.NotNil(t, got.ScheduleTime)
	assert.Nil(t, got.LastTriggeredAt, "claim released for retry")
}

func TestTriggerRetriesOneShotOnceSlotFrees(t *testing.T) {
	env := setupTrigger(t, 1)
	ctx := context.Background()

	running := env.createScheduled(t, nil)
	_, err := env.sup.Start(ctx, running)
	require.NoError(t, err)

	at := env.now.Add(-time.Minute)
	blocked := env.createScheduled(t, func(s *models.Stream) {
		s.Name = "blocked"
		s.ScheduleTime = &at
	})

	env.tickAndSettle(ctx)
	assert.False(t, env.sup.IsActive(blocked.ID))

	require.NoError(t, env.sup.Stop(ctx, running.ID, supervisor.CauseManual))
	require.Eventually(t, func() bool {
		return !env.sup.IsActive(running.ID)
	}, 5*time.Second, 10*time.Millisecond)

	env.tickAndSettle(ctx)
	assert.True(t, env.sup.IsActive(blocked.ID))

	got, err := env.streams.GetByID(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusLive, got.Status)
}

func TestTriggerLimitReachedKeepsRecurringScheduled(t *testing.T) {
	env := setupTrigger(t, 1)
	ctx := context.Background()

	running := env.createScheduled(t, nil)
	_, err := env.sup.Start(ctx, running)
	require.NoError(t, err)

	blocked := env.createScheduled(t, func(s *models.Stream) {
		s.Name = "blocked recurring"
		s.ScheduleType = models.ScheduleDaily
		s.RecurringTime = "11:58"
		s.RecurringEnabled = models.BoolPtr(true)
	})

	env.tickAndSettle(ctx)

	got, err := env.streams.GetByID(ctx, blocked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusScheduled, got.Status)
	assert.Equal(t, "11:58", got.RecurringTime)
	assert.Nil(t, got.LastTriggeredAt, "claim released for retry")
}
