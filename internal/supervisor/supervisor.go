// Package supervisor owns running encoder processes. It is the only
// component that knows which streams actually have a live encoder, and the
// only one that applies the live/stopped status transitions that follow
// from process lifecycle events.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamloop/streamloop/internal/config"
	"github.com/streamloop/streamloop/internal/encoder"
	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
)

var (
	// ErrAlreadyRunning is returned when a start request hits a stream that
	// already has an active session. Callers treat this as success.
	ErrAlreadyRunning = errors.New("stream already has a running session")

	// ErrNotRunning is returned when a stop or query targets a stream with
	// no active session.
	ErrNotRunning = errors.New("stream has no running session")

	// ErrNoMedia is returned when the stream has no usable media attached.
	ErrNoMedia = errors.New("stream has no media file attached")
)

// StopCause records why a live session ended.
type StopCause string

const (
	CauseManual      StopCause = "manual"
	CauseDuration    StopCause = "duration_limit"
	CauseEncoderExit StopCause = "encoder_exit"
	CauseShutdown    StopCause = "shutdown"
)

// LifecycleListener receives session lifecycle notifications. Callbacks run
// on supervisor goroutines and must not block for long.
type LifecycleListener interface {
	StreamStarted(stream *models.Stream, sessionID string)
	StreamStopped(stream *models.Stream, sessionID string, cause StopCause, exitErr error)
}

// SessionInfo is a snapshot of one active session.
type SessionInfo struct {
	SessionID string                `json:"session_id"`
	StreamID  models.ULID           `json:"stream_id"`
	UserID    models.ULID           `json:"user_id"`
	PID       int                   `json:"pid"`
	StartedAt time.Time             `json:"started_at"`
	Stats     *encoder.ProcessStats `json:"stats,omitempty"`
}

type session struct {
	id        string
	streamID  models.ULID
	userID    models.ULID
	proc      Process
	startedAt time.Time

	// cause is set before the process is asked to exit so the waiter knows
	// whether the exit was requested or spontaneous.
	cause StopCause
}

// Supervisor manages encoder sessions for streams.
type Supervisor struct {
	cfg      config.EncoderConfig
	streams  repository.StreamRepository
	media    repository.MediaFileRepository
	launcher Launcher
	logger   *slog.Logger

	listenerMu sync.RWMutex
	listeners  []LifecycleListener

	mu       sync.RWMutex
	sessions map[models.ULID]*session

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor. A nil launcher selects the encoder-backed one.
func New(cfg config.EncoderConfig, streams repository.StreamRepository, media repository.MediaFileRepository, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		streams:  streams,
		media:    media,
		launcher: NewEncoderLauncher(cfg),
		logger:   logger.With("component", "supervisor"),
		sessions: make(map[models.ULID]*session),
		runCtx:   ctx,
		cancel:   cancel,
	}
}

// WithLauncher overrides the process launcher.
func (s *Supervisor) WithLauncher(l Launcher) *Supervisor {
	s.launcher = l
	return s
}

// AddListener registers a lifecycle listener.
func (s *Supervisor) AddListener(l LifecycleListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start launches an encoder session for the stream. Starting a stream that
// is already running returns ErrAlreadyRunning without side effects.
func (s *Supervisor) Start(ctx context.Context, stream *models.Stream) (string, error) {
	if stream.MediaFileID == nil {
		return "", ErrNoMedia
	}
	media, err := s.media.GetByID(ctx, *stream.MediaFileID)
	if err != nil {
		return "", fmt.Errorf("loading media for stream %s: %w", stream.ID, err)
	}
	if media == nil {
		return "", fmt.Errorf("%w: media file %s not found", ErrNoMedia, *stream.MediaFileID)
	}

	s.mu.Lock()
	if existing, ok := s.sessions[stream.ID]; ok {
		s.mu.Unlock()
		s.logger.Debug("start ignored, session active",
			"stream_id", stream.ID, "session_id", existing.id)
		return existing.id, ErrAlreadyRunning
	}

	// Reserve the slot before launching so a concurrent start for the same
	// stream cannot race past the check.
	sess := &session{
		id:        uuid.New().String(),
		streamID:  stream.ID,
		userID:    stream.UserID,
		startedAt: time.Now(),
	}
	s.sessions[stream.ID] = sess
	s.mu.Unlock()

	proc, err := s.launcher.Launch(s.runCtx, stream, media)
	if err != nil {
		s.mu.Lock()
		delete(s.sessions, stream.ID)
		s.mu.Unlock()
		return "", fmt.Errorf("launching encoder for stream %s: %w", stream.ID, err)
	}
	sess.proc = proc

	if err := s.streams.MarkLive(ctx, stream.ID, sess.startedAt); err != nil {
		s.logger.Error("marking stream live failed", "stream_id", stream.ID, "error", err)
	}

	s.logger.Info("encoder session started",
		"stream_id", stream.ID,
		"stream_name", stream.Name,
		"session_id", sess.id,
		"pid", proc.Pid())

	s.notifyStarted(stream, sess.id)

	s.wg.Add(1)
	go s.wait(sess)

	return sess.id, nil
}

// Stop ends the session for a stream, waiting up to the configured grace
// period before killing the process. The stopped status transition is
// applied by the session waiter once the process has exited. When no session
// exists the stream row is still settled to its resting status, so a row
// left live by an earlier failure is repaired, and ErrNotRunning is
// returned.
func (s *Supervisor) Stop(ctx context.Context, streamID models.ULID, cause StopCause) error {
	s.mu.Lock()
	sess, ok := s.sessions[streamID]
	if !ok {
		s.mu.Unlock()
		s.settleWithoutSession(ctx, streamID)
		return ErrNotRunning
	}
	if sess.cause == "" {
		sess.cause = cause
	}
	proc := sess.proc
	s.mu.Unlock()

	s.logger.Info("stopping encoder session",
		"stream_id", streamID, "session_id", sess.id, "cause", cause)

	if err := proc.Stop(s.cfg.StopGracePeriod); err != nil {
		return fmt.Errorf("stopping encoder for stream %s: %w", streamID, err)
	}
	return nil
}

// settleWithoutSession applies the resting status to a stream that was asked
// to stop while no process was running.
func (s *Supervisor) settleWithoutSession(ctx context.Context, streamID models.ULID) {
	stream, err := s.streams.GetByID(ctx, streamID)
	if err != nil || stream == nil {
		if err != nil {
			s.logger.Error("loading stream for sessionless stop",
				"stream_id", streamID, "error", err)
		}
		return
	}

	next := stream.NextStatus()
	if err := s.streams.ApplyStopped(ctx, stream.ID, next, stream.ClearsScheduleOnStop(), ""); err != nil {
		s.logger.Error("settling sessionless stop",
			"stream_id", stream.ID, "error", err)
		return
	}
	s.logger.Info("stop without running session, status settled",
		"stream_id", stream.ID, "next_status", next)
}

// StopSession ends the session only if the given session id is still the
// active one. Stale duration timers use this so they never kill a newer run.
func (s *Supervisor) StopSession(ctx context.Context, streamID models.ULID, sessionID string, cause StopCause) error {
	s.mu.RLock()
	sess, ok := s.sessions[streamID]
	s.mu.RUnlock()
	if !ok || sess.id != sessionID {
		return ErrNotRunning
	}
	return s.Stop(ctx, streamID, cause)
}

// StopAll gracefully ends every active session. Used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]models.ULID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id models.ULID) {
			defer wg.Done()
			if err := s.Stop(ctx, id, CauseShutdown); err != nil && !errors.Is(err, ErrNotRunning) {
				s.logger.Error("stopping session on shutdown", "stream_id", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// Shutdown stops all sessions and waits for their waiters to finish.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.StopAll(ctx)
	s.wg.Wait()
	s.cancel()
}

// IsActive reports whether the stream has a running session.
func (s *Supervisor) IsActive(streamID models.ULID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[streamID]
	return ok
}

// SessionID returns the active session id for a stream, empty if none.
func (s *Supervisor) SessionID(streamID models.ULID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[streamID]; ok {
		return sess.id
	}
	return ""
}

// ActiveCount returns the number of running sessions owned by a user.
func (s *Supervisor) ActiveCount(userID models.ULID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.userID == userID {
			count++
		}
	}
	return count
}

// Sessions returns a snapshot of all active sessions.
func (s *Supervisor) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		info := SessionInfo{
			SessionID: sess.id,
			StreamID:  sess.streamID,
			UserID:    sess.userID,
			StartedAt: sess.startedAt,
		}
		if sess.proc != nil {
			info.PID = sess.proc.Pid()
			info.Stats = sess.proc.Stats()
		}
		out = append(out, info)
	}
	return out
}

// Logs returns the captured encoder output for a running stream.
func (s *Supervisor) Logs(streamID models.ULID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[streamID]
	if !ok {
		return nil, ErrNotRunning
	}
	return sess.proc.Logs(), nil
}

// wait blocks until the session process exits, then applies the stopped
// transition and notifies listeners. This is the single exit path for every
// session, whatever caused the exit.
func (s *Supervisor) wait(sess *session) {
	defer s.wg.Done()

	<-sess.proc.Done()
	exitErr := sess.proc.ExitErr()

	s.mu.Lock()
	// Another session may have replaced ours; only remove our own entry.
	if cur, ok := s.sessions[sess.streamID]; ok && cur.id == sess.id {
		delete(s.sessions, sess.streamID)
	}
	cause := sess.cause
	s.mu.Unlock()

	if cause == "" {
		cause = CauseEncoderExit
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := s.streams.GetByID(ctx, sess.streamID)
	if err != nil || stream == nil {
		s.logger.Error("loading stream after session exit",
			"stream_id", sess.streamID, "error", err)
		return
	}

	lastError := ""
	if cause == CauseEncoderExit && exitErr != nil {
		lastError = s.describeExit(sess, exitErr)
	}

	next := stream.NextStatus()
	if err := s.streams.ApplyStopped(ctx, stream.ID, next, stream.ClearsScheduleOnStop(), lastError); err != nil {
		s.logger.Error("applying stopped transition",
			"stream_id", stream.ID, "error", err)
	}

	s.logger.Info("encoder session ended",
		"stream_id", stream.ID,
		"session_id", sess.id,
		"cause", cause,
		"next_status", next,
		"error", exitErr)

	s.notifyStopped(stream, sess.id, cause, exitErr)
}

// describeExit builds an operator-facing error string from the exit error
// and the tail of the encoder output.
func (s *Supervisor) describeExit(sess *session, exitErr error) string {
	msg := fmt.Sprintf("encoder exited: %v", exitErr)
	logs := sess.proc.Logs()
	if n := len(logs); n > 0 {
		tail := logs
		if n > 5 {
			tail = logs[n-5:]
		}
		msg += "; output: " + strings.Join(tail, " | ")
	}
	if len(msg) > 4000 {
		msg = msg[:4000]
	}
	return msg
}

func (s *Supervisor) notifyStarted(stream *models.Stream, sessionID string) {
	s.listenerMu.RLock()
	listeners := make([]LifecycleListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.StreamStarted(stream, sessionID)
	}
}

func (s *Supervisor) notifyStopped(stream *models.Stream, sessionID string, cause StopCause, exitErr error) {
	s.listenerMu.RLock()
	listeners := make([]LifecycleListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.StreamStopped(stream, sessionID, cause, exitErr)
	}
}
