package interview

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/device"
)

// PlaybackManager owns the speaker and the current question's audio.
// Automatic playback happens at most once per question id; anything after
// that is a manual replay.
type PlaybackManager struct {
	speaker device.Speaker

	mu         sync.Mutex
	questionID string
	asset      audio.Asset
	state      PlaybackState
	autoplayed map[string]bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewPlaybackManager creates a playback manager for the given speaker
func NewPlaybackManager(speaker device.Speaker) *PlaybackManager {
	return &PlaybackManager{
		speaker:    speaker,
		autoplayed: make(map[string]bool),
	}
}

// Load stops any current playback and prepares a question's audio
func (p *PlaybackManager) Load(questionID string, asset audio.Asset) error {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.questionID = questionID
	p.asset = asset
	if asset.Empty() {
		p.state = PlaybackFailed
		return &PlaybackError{QuestionID: questionID, Err: ErrNoAsset}
	}
	p.state = PlaybackLoading
	return nil
}

// Play starts the automatic playback of the loaded question. done is
// called once with the outcome unless Stop interrupts it first.
func (p *PlaybackManager) Play(ctx context.Context, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asset.Empty() {
		return ErrNoAsset
	}
	if p.autoplayed[p.questionID] {
		return ErrAutoplayAttempted
	}
	if p.state == PlaybackPlaying {
		return ErrPlaybackBusy
	}
	p.autoplayed[p.questionID] = true
	p.startLocked(ctx, false, done)
	return nil
}

// ManualPlay replays the loaded question from the start
func (p *PlaybackManager) ManualPlay(ctx context.Context, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asset.Empty() {
		return ErrNoAsset
	}
	if p.state == PlaybackPlaying {
		return ErrPlaybackBusy
	}
	p.autoplayed[p.questionID] = true
	p.startLocked(ctx, true, done)
	return nil
}

func (p *PlaybackManager) startLocked(parent context.Context, manual bool, done func(error)) {
	ctx, cancel := context.WithCancel(parent)
	finished := make(chan struct{})

	p.state = PlaybackPlaying
	p.cancel = cancel
	p.done = finished

	questionID, asset := p.questionID, p.asset
	go func() {
		defer close(finished)
		err := p.speaker.Play(ctx, asset)

		p.mu.Lock()
		current := p.done == finished
		if current {
			switch {
			case err == nil:
				p.state = PlaybackEnded
			case errors.Is(err, context.Canceled):
				p.state = PlaybackIdle
			default:
				p.state = PlaybackFailed
			}
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		cancel()

		if current && done != nil {
			if err != nil {
				err = &PlaybackError{QuestionID: questionID, Manual: manual, Err: err}
			}
			done(err)
		}
	}()
}

// Stop halts playback and waits for the speaker to let go. The pending
// done callback is dropped. Safe to call when nothing is playing.
func (p *PlaybackManager) Stop() {
	p.mu.Lock()
	cancel, finished := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	if p.state == PlaybackPlaying {
		p.state = PlaybackIdle
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if finished != nil {
		<-finished
	}
}

// State returns the playback state of the loaded question
func (p *PlaybackManager) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// QuestionID returns the id of the loaded question
func (p *PlaybackManager) QuestionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.questionID
}
