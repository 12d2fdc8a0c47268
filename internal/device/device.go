// Package device provides the local audio endpoints the interview runs on:
// a microphone producing raw 16-bit PCM and a speaker that plays question
// audio.
package device

import (
	"bytes"
	"context"
	"io"

	"github.com/lexiqai/voice-interviewer/internal/audio"
)

// Microphone opens a live capture stream of little-endian 16-bit PCM.
// Closing the stream releases the device.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Speaker plays an audio asset to completion. Play returns ctx.Err() when
// cancelled before the asset finishes.
type Speaker interface {
	Play(ctx context.Context, asset audio.Asset) error
}

// stderrTail keeps the last bytes a child process wrote to stderr, for
// error messages.
type stderrTail struct {
	buf bytes.Buffer
	max int
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.buf.Write(p)
	if over := s.buf.Len() - s.max; over > 0 {
		s.buf.Next(over)
	}
	return len(p), nil
}

func (s *stderrTail) String() string {
	return string(bytes.TrimSpace(s.buf.Bytes()))
}
