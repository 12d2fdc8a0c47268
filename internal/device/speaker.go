package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-interviewer/internal/audio"
)

// ErrEmptyAsset is returned when asked to play an asset with no data
var ErrEmptyAsset = errors.New("nothing to play")

// ExecSpeaker plays audio by piping it into a player command that reads
// from stdin, e.g. `ffplay -nodisp -autoexit -loglevel quiet -`.
type ExecSpeaker struct {
	Command string
	Args    []string
}

// NewExecSpeaker creates a speaker backed by an external player
func NewExecSpeaker(command string, args []string) *ExecSpeaker {
	return &ExecSpeaker{Command: command, Args: args}
}

// Play blocks until the player exits. Cancelling ctx kills the player.
func (s *ExecSpeaker) Play(ctx context.Context, asset audio.Asset) error {
	if asset.Empty() {
		return ErrEmptyAsset
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Stdin = bytes.NewReader(asset.Data)
	stderr := &stderrTail{max: 512}
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("player %q: %w: %s", s.Command, err, msg)
		}
		return fmt.Errorf("player %q: %w", s.Command, err)
	}

	log.Debug().
		Str("mime", asset.MIMEType).
		Int("bytes", len(asset.Data)).
		Dur("elapsed", time.Since(start)).
		Msg("Question audio played")
	return nil
}

// NullSpeaker discards audio, optionally taking Delay to "play" it.
type NullSpeaker struct {
	Delay time.Duration
}

// Play waits for Delay or ctx, whichever comes first
func (s NullSpeaker) Play(ctx context.Context, asset audio.Asset) error {
	if asset.Empty() {
		return ErrEmptyAsset
	}
	if s.Delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
