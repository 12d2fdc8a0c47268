package interview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-interviewer/internal/audio"
)

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("playback did not finish")
		return nil
	}
}

func TestPlaybackManager_AutoplayOncePerQuestion(t *testing.T) {
	speaker := newFakeSpeaker()
	p := NewPlaybackManager(speaker)
	require.NoError(t, p.Load("q1", testAsset))
	assert.Equal(t, PlaybackLoading, p.State())

	done := make(chan error, 1)
	require.NoError(t, p.Play(context.Background(), func(err error) { done <- err }))
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, PlaybackEnded, p.State())

	assert.ErrorIs(t, p.Play(context.Background(), nil), ErrAutoplayAttempted)

	// a new question gets its own automatic attempt
	require.NoError(t, p.Load("q2", testAsset))
	require.NoError(t, p.Play(context.Background(), func(err error) { done <- err }))
	assert.NoError(t, waitDone(t, done))
	assert.Equal(t, 2, speaker.Plays())
}

func TestPlaybackManager_FailureIsReported(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.set(false, errors.New("autoplay blocked"))
	p := NewPlaybackManager(speaker)
	require.NoError(t, p.Load("q1", testAsset))

	done := make(chan error, 1)
	require.NoError(t, p.Play(context.Background(), func(err error) { done <- err }))

	err := waitDone(t, done)
	var pe *PlaybackError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "q1", pe.QuestionID)
	assert.False(t, pe.Manual)
	assert.Equal(t, PlaybackFailed, p.State())
	assert.Equal(t, 1, speaker.Plays())
}

func TestPlaybackManager_ManualPlay(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.set(true, nil)
	p := NewPlaybackManager(speaker)
	require.NoError(t, p.Load("q1", testAsset))

	done := make(chan error, 4)
	require.NoError(t, p.ManualPlay(context.Background(), func(err error) { done <- err }))
	assert.Equal(t, PlaybackPlaying, p.State())
	assert.ErrorIs(t, p.ManualPlay(context.Background(), nil), ErrPlaybackBusy)

	speaker.release <- nil
	assert.NoError(t, waitDone(t, done))

	// repeatable once idle, and manual play counts as the question's attempt
	require.NoError(t, p.ManualPlay(context.Background(), func(err error) { done <- err }))
	speaker.release <- nil
	assert.NoError(t, waitDone(t, done))
	assert.ErrorIs(t, p.Play(context.Background(), nil), ErrAutoplayAttempted)
}

func TestPlaybackManager_StopDropsCallback(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.set(true, nil)
	p := NewPlaybackManager(speaker)
	require.NoError(t, p.Load("q1", testAsset))

	called := make(chan error, 1)
	require.NoError(t, p.Play(context.Background(), func(err error) { called <- err }))
	p.Stop()

	assert.Equal(t, PlaybackIdle, p.State())
	select {
	case err := <-called:
		t.Fatalf("callback fired after Stop: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	// safe when idle
	p.Stop()
}

func TestPlaybackManager_LoadEmptyAsset(t *testing.T) {
	p := NewPlaybackManager(newFakeSpeaker())

	err := p.Load("q1", audio.Asset{})
	var pe *PlaybackError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrNoAsset)
	assert.Equal(t, PlaybackFailed, p.State())
	assert.ErrorIs(t, p.Play(context.Background(), nil), ErrNoAsset)
	assert.ErrorIs(t, p.ManualPlay(context.Background(), nil), ErrNoAsset)
}

func TestPlaybackManager_LoadStopsCurrent(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.set(true, nil)
	p := NewPlaybackManager(speaker)
	require.NoError(t, p.Load("q1", testAsset))
	require.NoError(t, p.Play(context.Background(), nil))

	require.NoError(t, p.Load("q2", testAsset))
	assert.Equal(t, PlaybackLoading, p.State())
	assert.Equal(t, "q2", p.QuestionID())
}
