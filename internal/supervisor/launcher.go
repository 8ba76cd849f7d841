package supervisor

import (
	"context"
	"time"

	"github.com/streamloop/streamloop/internal/config"
	"github.com/streamloop/streamloop/internal/encoder"
	"github.com/streamloop/streamloop/internal/models"
)

// Process is a running encoder process as the supervisor sees it.
type Process interface {
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// ExitErr returns the exit error, valid after Done is closed.
	ExitErr() error
	// Stop terminates the process, killing it after the grace period.
	Stop(grace time.Duration) error
	// Pid returns the operating system process id.
	Pid() int
	// Logs returns the captured diagnostic output, oldest first.
	Logs() []string
	// Stats returns current resource usage, nil when unavailable.
	Stats() *encoder.ProcessStats
}

// Launcher starts encoder processes for streams. Tests substitute a fake.
type Launcher interface {
	Launch(ctx context.Context, stream *models.Stream, media *models.MediaFile) (Process, error)
}

type encoderLauncher struct {
	cfg config.EncoderConfig
}

// NewEncoderLauncher returns the FFmpeg-backed launcher.
func NewEncoderLauncher(cfg config.EncoderConfig) Launcher {
	return &encoderLauncher{cfg: cfg}
}

func (l *encoderLauncher) Launch(ctx context.Context, stream *models.Stream, media *models.MediaFile) (Process, error) {
	cmd := encoder.BuildStreamCommand(l.cfg.BinaryPath, l.cfg.LogLevel, stream, media)
	buf := encoder.NewLogBuffer(l.cfg.LogBufferLines)
	if err := cmd.Start(ctx, buf, l.cfg.MonitorInterval); err != nil {
		return nil, err
	}
	return &encoderProcess{cmd: cmd, buf: buf}, nil
}

type encoderProcess struct {
	cmd *encoder.Command
	buf *encoder.LogBuffer
}

func (p *encoderProcess) Done() <-chan struct{}          { return p.cmd.Done() }
func (p *encoderProcess) ExitErr() error                 { return p.cmd.ExitErr() }
func (p *encoderProcess) Stop(grace time.Duration) error { return p.cmd.Stop(grace) }
func (p *encoderProcess) Pid() int                       { return p.cmd.Pid() }
func (p *encoderProcess) Logs() []string                 { return p.buf.Lines() }
func (p *encoderProcess) Stats() *encoder.ProcessStats   { return p.cmd.Stats() }

var _ Process = (*encoderProcess)(nil)
var _ Launcher = (*encoderLauncher)(nil)
