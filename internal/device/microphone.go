package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-interviewer/internal/audio"
)

// ExecMicrophone captures audio by running a recorder command that writes
// raw PCM to stdout, e.g. `arecord -q -f S16_LE -r 16000 -c 1 -t raw`.
type ExecMicrophone struct {
	Command string
	Args    []string
}

// NewExecMicrophone creates a microphone backed by an external recorder
func NewExecMicrophone(command string, args []string) *ExecMicrophone {
	return &ExecMicrophone{Command: command, Args: args}
}

// Open starts the recorder. The process is not bound to ctx: it lives
// until the returned stream is closed.
func (m *ExecMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(m.Command, m.Args...)
	stderr := &stderrTail{max: 512}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder %q: %w", m.Command, err)
	}

	log.Debug().
		Str("command", m.Command).
		Int("pid", cmd.Process.Pid).
		Msg("Microphone opened")

	s := &execStream{cmd: cmd, stdout: stdout, stderr: stderr}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type execStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *stderrTail

	mu       sync.Mutex
	closed   bool
	waitOnce sync.Once
	waitErr  error
}

func (s *execStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Read returns recorder output. When the recorder exits on its own with a
// failure status, the exit is reported as an error instead of io.EOF.
func (s *execStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		return n, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return n, io.EOF
	}

	if werr := s.wait(); werr != nil {
		if msg := s.stderr.String(); msg != "" {
			return n, fmt.Errorf("recorder exited: %w: %s", werr, msg)
		}
		return n, fmt.Errorf("recorder exited: %w", werr)
	}
	return n, io.EOF
}

// Close stops the recorder and reaps it. Safe to call more than once.
func (s *execStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()

	log.Debug().Int("pid", s.cmd.Process.Pid).Msg("Microphone released")
	return nil
}

// FileMicrophone replays a PCM or WAV file as if it were a live microphone.
// It is used for headless runs and tests.
type FileMicrophone struct {
	Path string
	// Realtime paces the stream at the audio's natural rate
	Realtime bool
	// ChunkDuration is the amount of audio per read (default 100ms)
	ChunkDuration time.Duration
	Format        audio.Format
}

// NewFileMicrophone creates a microphone that streams the given file
func NewFileMicrophone(path string, format audio.Format, realtime bool) *FileMicrophone {
	return &FileMicrophone{Path: path, Format: format, Realtime: realtime}
}

// Open reads the whole file. WAV files are unwrapped; anything else is
// treated as raw PCM in the configured format.
func (m *FileMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("open microphone input: %w", err)
	}

	format := m.Format
	if pcm, f, err := audio.DecodeWAV(data); err == nil {
		data, format = pcm, f
	} else if !errors.Is(err, audio.ErrNotWAV) {
		return nil, fmt.Errorf("microphone input %s: %w", m.Path, err)
	}
	if format.SampleRate == 0 {
		format = audio.DefaultFormat
	}

	chunkDur := m.ChunkDuration
	if chunkDur <= 0 {
		chunkDur = 100 * time.Millisecond
	}
	chunk := int(int64(format.BytesPerSecond()) * int64(chunkDur) / int64(time.Second))
	chunk -= chunk % 2
	if chunk < 2 {
		chunk = 2
	}

	return &fileStream{
		data:     data,
		chunk:    chunk,
		interval: chunkDur,
		realtime: m.Realtime,
		done:     make(chan struct{}),
	}, nil
}

type fileStream struct {
	data     []byte
	pos      int
	chunk    int
	interval time.Duration
	realtime bool

	closeOnce sync.Once
	done      chan struct{}
}

func (s *fileStream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}

	if s.realtime {
		t := time.NewTimer(s.interval)
		select {
		case <-s.done:
			t.Stop()
			return 0, io.EOF
		case <-t.C:
		}
	}

	end := s.pos + s.chunk
	if end > len(s.data) {
		end = len(s.data)
	}
	n := copy(p, s.data[s.pos:end])
	s.pos += n
	return n, nil
}

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
