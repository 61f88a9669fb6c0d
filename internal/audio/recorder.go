package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wakelog/internal/ports"
)

const (
	defaultStartGrace = 250 * time.Millisecond
	defaultStopGrace  = 1200 * time.Millisecond
	stderrTailBytes   = 4096
)

// Recorder captures raw s16le PCM from the microphone by running ffmpeg (or a
// compatible command) and reading its stdout.
type Recorder struct {
	command    string
	startGrace time.Duration
	stopGrace  time.Duration
	log        zerolog.Logger
}

func NewRecorder(command string, logger zerolog.Logger) *Recorder {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	return &Recorder{
		command:    command,
		startGrace: defaultStartGrace,
		stopGrace:  defaultStopGrace,
		log:        logger.With().Str("component", "recorder").Logger(),
	}
}

// Start launches the recorder. A process that exits within the start grace
// period is reported as a failure together with the tail of its stderr.
func (r *Recorder) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, r.command, recorderArgs(cfg)...)
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder %s: %w", r.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		detail := stderr.String()
		if err != nil {
			return nil, fmt.Errorf("recorder exited during startup: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("recorder exited during startup: %s", detail)
	case <-time.After(r.startGrace):
	}

	r.log.Debug().
		Str("device", cfg.InputDevice).
		Str("format", cfg.InputFormat).
		Int("sample_rate", cfg.SampleRate).
		Msg("recorder started")

	return &recording{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		exited:    exited,
		stopGrace: r.stopGrace,
		log:       r.log,
	}, nil
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func recorderArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// recording is one running capture process.
type recording struct {
	stdout    io.ReadCloser
	stderr    *tailBuffer
	process   *os.Process
	exited    <-chan error
	stopGrace time.Duration
	log       zerolog.Logger

	captured atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

func (s *recording) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	s.captured.Add(int64(n))
	return n, err
}

func (s *recording) Close() error {
	return s.Stop()
}

// Stop interrupts the process, kills it after the stop grace period, and
// closes its output. A non-zero exit caused by the interrupt is not an error.
func (s *recording) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		var err error
		select {
		case err = <-s.exited:
		case <-time.After(s.stopGrace):
			s.log.Warn().Dur("grace", s.stopGrace).Msg("recorder ignored interrupt, killing")
			_ = s.process.Kill()
			err = <-s.exited
		}
		s.stopErr = exitError(err)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil {
			if detail := s.stderr.String(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}

		s.log.Debug().Int64("bytes", s.captured.Load()).Err(s.stopErr).Msg("recorder stopped")
	})
	return s.stopErr
}

func exitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
