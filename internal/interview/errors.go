package interview

import (
	"errors"
	"fmt"
)

// ErrorKind is the user-facing error category shown in SessionState
type ErrorKind string

const (
	ErrorKindDevice     ErrorKind = "device"
	ErrorKindPlayback   ErrorKind = "playback"
	ErrorKindSubmission ErrorKind = "submission"
)

var (
	ErrAutoplayAttempted = errors.New("question audio was already played automatically")
	ErrPlaybackBusy      = errors.New("playback already in progress")
	ErrNoAsset           = errors.New("no question audio loaded")
	ErrAlreadyRecording  = errors.New("microphone already in use")
	ErrAlreadyRunning    = errors.New("session loop already running")
)

// DeviceError means the microphone could not be opened or stopped
// delivering audio.
type DeviceError struct {
	Op  string // "open" or "read"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("microphone %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// PlaybackError means the question audio could not be loaded or played
type PlaybackError struct {
	QuestionID string
	Manual     bool
	Err        error
}

func (e *PlaybackError) Error() string {
	mode := "autoplay"
	if e.Manual {
		mode = "manual play"
	}
	return fmt.Sprintf("question %s %s: %v", e.QuestionID, mode, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// SubmissionKind classifies a failed submission
type SubmissionKind string

const (
	SubmissionTransport   SubmissionKind = "transport"
	SubmissionStatus      SubmissionKind = "status"
	SubmissionMalformed   SubmissionKind = "malformed"
	SubmissionUnavailable SubmissionKind = "unavailable" // breaker open, nothing sent
	SubmissionInvalid     SubmissionKind = "invalid"     // rejected locally, nothing sent
)

// SubmissionError means an answer did not produce a usable RoundOutcome
type SubmissionError struct {
	Kind       SubmissionKind
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Kind == SubmissionStatus {
		return fmt.Sprintf("submission failed (%s %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
