package interview

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_Validate(t *testing.T) {
	q := &Question{ID: "q1", Text: "Tell me about yourself."}

	tests := []struct {
		name  string
		state SessionState
		valid bool
	}{
		{"awaiting", SessionState{Phase: PhaseAwaitingQuestion}, true},
		{"playing", SessionState{Phase: PhasePlayingAudio, Question: q, Playback: PlaybackPlaying}, true},
		{"acquiring", SessionState{Phase: PhasePlayingAudio, Question: q, Playback: PlaybackEnded, Capture: CaptureAcquiring}, true},
		{"recording", SessionState{Phase: PhaseRecording, Question: q, Capture: CaptureRecording, TimerArmed: true}, true},
		{"complete", SessionState{Phase: PhaseComplete, Question: q, Terminal: true}, true},
		{"errored", SessionState{Phase: PhaseErrored, Question: q, Error: "boom", CanResubmit: true}, true},

		{"play while recording", SessionState{Phase: PhaseRecording, Question: q, Playback: PlaybackPlaying, Capture: CaptureRecording, TimerArmed: true}, false},
		{"timer without capture", SessionState{Phase: PhasePlayingAudio, Question: q, TimerArmed: true}, false},
		{"capture without timer", SessionState{Phase: PhaseRecording, Question: q, Capture: CaptureRecording}, false},
		{"recording phase idle capture", SessionState{Phase: PhaseRecording, Question: q}, false},
		{"submitting with capture", SessionState{Phase: PhaseSubmitting, Question: q, Capture: CaptureFinalizing}, false},
		{"terminal not complete", SessionState{Phase: PhaseErrored, Question: q, Terminal: true}, false},
		{"no question", SessionState{Phase: PhaseSubmitting}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSessionState_JSON(t *testing.T) {
	s := SessionState{
		SessionID:  "sess-1",
		Phase:      PhaseRecording,
		Question:   &Question{ID: "q1", Text: "Why Go?"},
		Capture:    CaptureRecording,
		Playback:   PlaybackEnded,
		TimerArmed: true,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "recording", m["phase"])
	assert.Equal(t, "recording", m["capture"])
	assert.Equal(t, "ended", m["playback"])
	assert.NotContains(t, m, "error")
}

func TestAnswerPayload_HasAudio(t *testing.T) {
	assert.False(t, AnswerPayload{}.HasAudio())
	assert.False(t, AnswerPayload{Audio: []byte{}}.HasAudio())
	assert.True(t, AnswerPayload{Audio: []byte{1}}.HasAudio())
}
