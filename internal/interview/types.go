package interview

import (
	"errors"
	"fmt"

	"github.com/lexiqai/voice-interviewer/internal/audio"
)

// Phase is the round phase of an interview session
type Phase int

const (
	PhaseAwaitingQuestion Phase = iota
	PhasePlayingAudio
	PhaseRecording
	PhaseSubmitting
	PhaseComplete
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingQuestion:
		return "awaiting_question"
	case PhasePlayingAudio:
		return "playing_audio"
	case PhaseRecording:
		return "recording"
	case PhaseSubmitting:
		return "submitting"
	case PhaseComplete:
		return "complete"
	case PhaseErrored:
		return "errored"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PlaybackState is the state of the current question's audio
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackLoading
	PlaybackPlaying
	PlaybackEnded
	PlaybackFailed
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackLoading:
		return "loading"
	case PlaybackPlaying:
		return "playing"
	case PlaybackEnded:
		return "ended"
	case PlaybackFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s PlaybackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CaptureState is the state of the microphone for the current round
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureAcquiring
	CaptureRecording
	CaptureFinalizing
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureAcquiring:
		return "acquiring"
	case CaptureRecording:
		return "recording"
	case CaptureFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s CaptureState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Question is one interview question
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type,omitempty"`
}

// AnswerPayload is what gets submitted for one round. A nil Audio means
// nothing was captured.
type AnswerPayload struct {
	QuestionID string
	Audio      []byte
	Timeout    bool
	ForceEnd   bool
}

// HasAudio reports whether the payload carries captured audio
func (p AnswerPayload) HasAudio() bool {
	return len(p.Audio) > 0
}

// NextQuestion continues the interview
type NextQuestion struct {
	Question Question
	Audio    audio.Asset
}

// Evaluation is the final report handed over when the interview ends
type Evaluation struct {
	OverallPerformance string `json:"overall_performance"`
	WeakPoints         string `json:"weak_points"`
	Improvements       string `json:"improvements"`
}

// RoundOutcome is the service's verdict on one answer. Exactly one of
// Next and Evaluation is set.
type RoundOutcome struct {
	Message    string
	Transcript string
	Feedback   string
	Next       *NextQuestion
	Evaluation *Evaluation
}

// Round is a finished question/answer cycle, as handed to a RoundRecorder
type Round struct {
	SessionID  string
	Number     int
	Question   Question
	AudioBytes int
	Timeout    bool
	ForceEnd   bool
	Transcript string
	Feedback   string
}

// SessionState is a point-in-time view of the session, published after
// every transition.
type SessionState struct {
	SessionID        string        `json:"session_id"`
	Phase            Phase         `json:"phase"`
	Question         *Question     `json:"question,omitempty"`
	Round            int           `json:"round"`
	Playback         PlaybackState `json:"playback"`
	Capture          CaptureState  `json:"capture"`
	TimerArmed       bool          `json:"timer_armed"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Speaking         bool          `json:"speaking"`
	Transcript       string        `json:"transcript,omitempty"`
	Feedback         string        `json:"feedback,omitempty"`
	Status           string        `json:"status,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	CanReplay        bool          `json:"can_replay"`
	CanResubmit      bool          `json:"can_resubmit"`
	Terminal         bool          `json:"terminal"`
}

// Validate checks the session invariants that must hold in every
// published state.
func (s SessionState) Validate() error {
	var errs []error

	if s.Playback == PlaybackPlaying && s.Capture == CaptureRecording {
		errs = append(errs, errors.New("playback and capture active at once"))
	}
	if s.TimerArmed != (s.Capture == CaptureRecording) {
		errs = append(errs, fmt.Errorf("countdown armed=%v with capture %s", s.TimerArmed, s.Capture))
	}

	switch s.Phase {
	case PhaseRecording:
		if s.Capture != CaptureRecording {
			errs = append(errs, fmt.Errorf("phase recording with capture %s", s.Capture))
		}
	case PhasePlayingAudio:
		if s.Capture != CaptureIdle && s.Capture != CaptureAcquiring {
			errs = append(errs, fmt.Errorf("phase playing_audio with capture %s", s.Capture))
		}
	case PhaseSubmitting, PhaseComplete, PhaseErrored:
		if s.Capture != CaptureIdle {
			errs = append(errs, fmt.Errorf("phase %s with capture %s", s.Phase, s.Capture))
		}
		if s.Playback == PlaybackPlaying {
			errs = append(errs, fmt.Errorf("phase %s with playback playing", s.Phase))
		}
	}

	if s.Terminal && s.Phase != PhaseComplete {
		errs = append(errs, fmt.Errorf("terminal in phase %s", s.Phase))
	}
	if s.Phase != PhaseAwaitingQuestion && s.Question == nil {
		errs = append(errs, fmt.Errorf("phase %s without a question", s.Phase))
	}

	return errors.Join(errs...)
}
