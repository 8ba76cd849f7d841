// Package encoder builds and controls external encoder (FFmpeg) processes.
// The encoder itself is an opaque external binary; this package only
// assembles invocations, supervises the child process handle, and captures
// its diagnostic output.
package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/streamloop/streamloop/internal/models"
)

// Builder assembles an FFmpeg command with a fluent API.
type Builder struct {
	binary     string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
}

// NewBuilder creates a new encoder command builder.
func NewBuilder(binaryPath string) *Builder {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Builder{
		binary:   binaryPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *Builder) LogLevel(level string) *Builder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// RealTime reads input at its native frame rate, required for live relay.
func (b *Builder) RealTime() *Builder {
	b.inputArgs = append(b.inputArgs, "-re")
	return b
}

// LoopInput loops the input indefinitely.
func (b *Builder) LoopInput() *Builder {
	b.inputArgs = append(b.inputArgs, "-stream_loop", "-1")
	return b
}

// Input sets the input source.
func (b *Builder) Input(input string) *Builder {
	b.input = input
	return b
}

// VideoCodec sets the video codec.
func (b *Builder) VideoCodec(codec string) *Builder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *Builder) AudioCodec(codec string) *Builder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *Builder) VideoBitrate(bitrate string) *Builder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	}
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *Builder) AudioBitrate(bitrate string) *Builder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	}
	return b
}

// Resolution scales the output to WxH.
func (b *Builder) Resolution(res string) *Builder {
	if res != "" {
		b.outputArgs = append(b.outputArgs, "-s", res)
	}
	return b
}

// Framerate sets the output frame rate.
func (b *Builder) Framerate(fps int) *Builder {
	if fps > 0 {
		b.outputArgs = append(b.outputArgs, "-r", strconv.Itoa(fps))
	}
	return b
}

// AudioOnlyVideo synthesizes a black video track for audio-only media so
// RTMP ingest endpoints that require video accept the stream.
func (b *Builder) AudioOnlyVideo() *Builder {
	b.globalArgs = append(b.globalArgs, "-f", "lavfi", "-i", "color=c=black:s=1280x720:r=30")
	b.outputArgs = append(b.outputArgs, "-shortest")
	return b
}

// FLVOutput targets an RTMP(S) endpoint with the FLV muxer.
func (b *Builder) FLVOutput(endpoint string) *Builder {
	b.outputArgs = append(b.outputArgs, "-f", "flv")
	b.output = endpoint
	return b
}

// Build assembles the command.
func (b *Builder) Build() *Command {
	args := []string{"-loglevel", b.logLevel, "-hide_banner"}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary: b.binary,
		Args:   args,
		done:   make(chan struct{}),
	}
}

// BuildStreamCommand assembles the relay invocation for a stream and its
// attached media.
func BuildStreamCommand(binaryPath, logLevel string, stream *models.Stream, media *models.MediaFile) *Command {
	endpoint := strings.TrimRight(stream.IngestURL, "/") + "/" + stream.StreamKey

	b := NewBuilder(binaryPath).LogLevel(logLevel).RealTime()
	if models.BoolVal(stream.LoopMedia) {
		b.LoopInput()
	}
	b.Input(media.Path)

	if media.IsAudio() {
		b.AudioOnlyVideo().VideoCodec("libx264")
	} else if stream.VideoBitrate == "" && stream.Resolution == "" && stream.Framerate == 0 {
		// No re-encode requested: pass the video track through untouched.
		b.VideoCodec("copy")
	} else {
		b.VideoCodec("libx264").
			VideoBitrate(stream.VideoBitrate).
			Resolution(stream.Resolution).
			Framerate(stream.Framerate)
	}

	b.AudioCodec("aac").AudioBitrate(stream.AudioBitrate)

	return b.FLVOutput(endpoint).Build()
}

// Command is a started or startable encoder process.
type Command struct {
	Binary string
	Args   []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	exitErr error
	done    chan struct{}

	logBuf  *LogBuffer
	monitor *Monitor
}

// String returns the command line for diagnostics. The stream key is part
// of the output URL, so callers must not log this at info level.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the encoder process. Stderr lines are captured into the
// given ring buffer and the done channel is closed once the process exits.
func (c *Command) Start(ctx context.Context, logBuf *LogBuffer, monitorInterval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.logBuf = logBuf

	if monitorInterval > 0 {
		c.monitor = NewMonitor(cmd.Process.Pid, monitorInterval)
		c.monitor.Start()
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if logBuf != nil {
				logBuf.Append(scanner.Text())
			}
		}
	}()

	go func() {
		<-stderrDone
		err := cmd.Wait()

		c.mu.Lock()
		c.exitErr = err
		if c.monitor != nil {
			c.monitor.Stop()
		}
		c.mu.Unlock()

		close(c.done)
	}()

	return nil
}

// Done returns a channel closed when the process has exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// ExitErr returns the process exit error, valid after Done is closed.
func (c *Command) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// Pid returns the process id, or zero before start.
func (c *Command) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Uptime returns how long the process has been running.
func (c *Command) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// Stop terminates the process: SIGTERM first, SIGKILL after the grace
// period. Returns once the process has exited.
func (c *Command) Stop(grace time.Duration) error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may already be gone; fall through to wait.
		select {
		case <-c.done:
			return nil
		default:
		}
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
	}

	if err := cmd.Process.Kill(); err != nil {
		select {
		case <-c.done:
			return nil
		default:
			return fmt.Errorf("killing encoder: %w", err)
		}
	}

	<-c.done
	return nil
}

// Stats returns current process resource statistics, nil when monitoring
// is disabled.
func (c *Command) Stats() *ProcessStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitor == nil {
		return nil
	}
	stats := c.monitor.Stats()
	return &stats
}
