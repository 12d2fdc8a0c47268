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

func TestController_SubmitThenNextQuestion(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.service.queue(nextQuestionReply("q2", "Why Go?"))

	h.ctrl.Initialize(Question{ID: "q1", Text: "Tell me about yourself"}, testAsset)
	stream := h.recording()

	s := h.ctrl.Snapshot()
	assert.True(t, s.TimerArmed)
	assert.True(t, h.timer.Armed())
	assert.GreaterOrEqual(t, s.RemainingSeconds, 59)
	assert.Equal(t, CaptureRecording, s.Capture)
	assert.True(t, h.everSaw(func(s SessionState) bool {
		return s.Phase == PhasePlayingAudio && s.Question.ID == "q1"
	}))

	pcm := loudPCM(16000)
	_, err := stream.w.Write(pcm)
	require.NoError(t, err)
	h.waitFor("speaking", func(s SessionState) bool { return s.Speaking })

	h.ctrl.Submit()
	s = h.waitFor("q2", func(s SessionState) bool { return s.Question != nil && s.Question.ID == "q2" })
	assert.Equal(t, 2, s.Round)
	assert.Equal(t, "I have five years of Go", s.Transcript)
	assert.Equal(t, "Good depth.", s.Feedback)

	// q2 plays automatically
	assert.True(t, h.everSaw(func(s SessionState) bool {
		return s.Phase == PhasePlayingAudio && s.Question.ID == "q2" && s.Playback == PlaybackPlaying
	}))
	require.Eventually(t, func() bool { return h.speaker.Plays() == 2 }, time.Second, time.Millisecond)

	reqs := h.service.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "sess-1", reqs[0].SessionID)
	assert.Equal(t, "q1", reqs[0].QuestionID)
	assert.False(t, reqs[0].Timeout)
	assert.False(t, reqs[0].ForceEnd)

	got, format, err := audio.DecodeWAV(reqs[0].Audio)
	require.NoError(t, err)
	assert.Equal(t, audio.DefaultFormat, format)
	assert.Equal(t, pcm, got)

	assert.True(t, stream.Closed(), "microphone must be released on submit")

	require.Eventually(t, func() bool { return len(h.rounds.Rounds()) == 1 }, time.Second, time.Millisecond)
	rounds := h.rounds.Rounds()
	assert.Equal(t, 1, rounds[0].Number)
	assert.Equal(t, "q1", rounds[0].Question.ID)
	assert.Equal(t, len(reqs[0].Audio), rounds[0].AudioBytes)
}

func TestController_TimeoutSubmitsOnce(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)
	h.service.queue(endReply(""))

	h.ctrl.Initialize(Question{ID: "q1", Text: "Describe a hard bug"}, testAsset)
	stream := h.recording()

	s := h.waitPhase(PhaseComplete)
	assert.True(t, s.Terminal)
	assert.Equal(t, transcriptTimedOut, s.Transcript)
	assert.Equal(t, "Interview concluded.", s.Status)
	require.NoError(t, h.result())

	time.Sleep(50 * time.Millisecond)
	reqs := h.service.Requests()
	require.Len(t, reqs, 1, "expiry must stop the round exactly once")
	assert.True(t, reqs[0].Timeout)
	assert.False(t, reqs[0].ForceEnd)
	assert.Nil(t, reqs[0].Audio, "silence submits no audio")

	assert.True(t, stream.Closed())
	assert.False(t, h.timer.Armed())

	calls := h.reporter.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Strong fundamentals", calls[0].OverallPerformance)
}

func TestController_ForceEndDuringPlayback(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.speaker.set(true, nil)
	h.service.queue(endReply(""))

	h.ctrl.Initialize(Question{ID: "q3", Text: "Where do you see yourself?"}, testAsset)
	h.waitFor("playing", func(s SessionState) bool { return s.Playback == PlaybackPlaying })

	h.ctrl.EndInterview()
	s := h.waitPhase(PhaseComplete)
	require.NoError(t, h.result())

	assert.True(t, s.Terminal)
	assert.Equal(t, transcriptSilent, s.Transcript)
	assert.NotEqual(t, PlaybackPlaying, s.Playback)

	reqs := h.service.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].ForceEnd)
	assert.False(t, reqs[0].Timeout)
	assert.Nil(t, reqs[0].Audio)
	assert.Equal(t, "q3", reqs[0].QuestionID)

	assert.Equal(t, 0, h.mic.Opens(), "no capture should start once the interview is ending")
	require.Len(t, h.reporter.Calls(), 1)

	// nothing starts after completion
	h.ctrl.ReplayQuestion()
	h.ctrl.Submit()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.speaker.Plays())
	assert.Len(t, h.service.Requests(), 1)
	assert.Len(t, h.reporter.Calls(), 1)
}

func TestController_MicrophoneDenied(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.mic.setErr(errors.New("permission denied"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	s := h.waitFor("device error", func(s SessionState) bool { return s.ErrorKind == ErrorKindDevice })

	assert.Equal(t, PhasePlayingAudio, s.Phase)
	assert.Equal(t, CaptureIdle, s.Capture)
	assert.Equal(t, PlaybackEnded, s.Playback, "playback state is left as it was")
	assert.False(t, s.TimerArmed)
	assert.True(t, s.CanReplay)
	assert.NotEmpty(t, s.Error)
	assert.False(t, h.timer.Armed())
	assert.False(t, h.everSaw(func(s SessionState) bool { return s.TimerArmed }))

	// user retries once the device is back
	h.mic.setErr(nil)
	h.ctrl.RetryMicrophone()
	h.recording()
	s = h.ctrl.Snapshot()
	assert.Empty(t, s.Error)
	assert.True(t, s.TimerArmed)
}

func TestController_AutoplayFailsThenManualPlay(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.speaker.set(false, errors.New("autoplay blocked"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	s := h.waitFor("playback error", func(s SessionState) bool { return s.ErrorKind == ErrorKindPlayback })
	assert.Equal(t, PhasePlayingAudio, s.Phase)
	assert.Equal(t, PlaybackFailed, s.Playback)
	assert.True(t, s.CanReplay)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.speaker.Plays(), "failed autoplay is not retried")
	assert.Equal(t, 0, h.mic.Opens())

	h.speaker.set(false, nil)
	h.ctrl.ReplayQuestion()
	h.recording()
	assert.Equal(t, 2, h.speaker.Plays())

	// replay is refused while recording
	h.ctrl.ReplayQuestion()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.speaker.Plays())
	assert.Equal(t, PhaseRecording, h.ctrl.Snapshot().Phase)
}

func TestController_SubmissionFailureThenResubmit(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.service.queue(failReply(503), nextQuestionReply("q2", "Why Go?"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	stream := h.recording()
	_, err := stream.w.Write(loudPCM(1600))
	require.NoError(t, err)
	h.ctrl.Submit()

	s := h.waitPhase(PhaseErrored)
	assert.Equal(t, ErrorKindSubmission, s.ErrorKind)
	assert.True(t, s.CanResubmit)
	assert.Equal(t, CaptureIdle, s.Capture)
	assert.False(t, s.TimerArmed)
	assert.True(t, stream.Closed())

	// a plain stop does nothing here
	h.ctrl.Submit()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.service.Requests(), 1, "no automatic resubmission")

	h.ctrl.Resubmit()
	h.waitFor("q2", func(s SessionState) bool { return s.Question.ID == "q2" })

	reqs := h.service.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Audio, reqs[1].Audio)
	assert.Equal(t, "q1", reqs[1].QuestionID)
}

func TestController_EndInterviewFromErrored(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.service.queue(failReply(500), endReply("bye"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	h.recording()
	h.ctrl.Submit()
	h.waitPhase(PhaseErrored)

	h.ctrl.EndInterview()
	s := h.waitPhase(PhaseComplete)
	assert.Equal(t, "bye", s.Transcript)

	reqs := h.service.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].ForceEnd)
	assert.Nil(t, reqs[1].Audio)
}

func TestController_SecondStopWhileSubmittingIsNoop(t *testing.T) {
	h := newHarness(t, time.Minute)
	gate := make(chan struct{})
	h.service.gate = gate
	h.service.queue(endReply("done"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	h.recording()

	h.ctrl.Submit()
	h.waitPhase(PhaseSubmitting)
	h.ctrl.Submit()
	h.ctrl.EndInterview()
	h.ctrl.RequestStop(true, false)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.service.Requests(), 1)

	close(gate)
	h.waitPhase(PhaseComplete)
	assert.Len(t, h.service.Requests(), 1)
	assert.Len(t, h.reporter.Calls(), 1)
}

func TestController_MicrophoneFailsMidRecording(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.service.queue(nextQuestionReply("q2", "Next"))

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	stream := h.recording()

	pcm := loudPCM(800)
	_, err := stream.w.Write(pcm)
	require.NoError(t, err)
	stream.w.CloseWithError(errUnplugged)

	s := h.waitPhase(PhaseErrored)
	assert.Equal(t, ErrorKindDevice, s.ErrorKind)
	assert.True(t, s.CanResubmit)
	assert.False(t, s.TimerArmed)
	assert.False(t, h.timer.Armed())
	assert.True(t, stream.Closed())

	h.ctrl.Resubmit()
	h.waitFor("q2", func(s SessionState) bool { return s.Question.ID == "q2" })

	reqs := h.service.Requests()
	require.Len(t, reqs, 1)
	got, _, err := audio.DecodeWAV(reqs[0].Audio)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}

func TestController_ForceEndWhileAcquiringMicrophone(t *testing.T) {
	speaker := newFakeSpeaker()
	service := &fakeService{}
	service.queue(endReply(""))
	mic := &blockingMic{entered: make(chan struct{}), release: make(chan struct{})}
	timer := NewCountdown(time.Minute, 10*time.Millisecond)

	ctrl := NewController(Config{
		Playback:   NewPlaybackManager(speaker),
		Recording:  NewRecordingManager(mic, audio.DefaultFormat, nil),
		Countdown:  timer,
		Submission: NewSubmissionClient(service, "sess-2", nil),
		Reporter:   &fakeReporter{},
	})
	var violations []error
	ctrl.Subscribe(func(s SessionState) {
		if err := s.Validate(); err != nil {
			violations = append(violations, err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	ctrl.Initialize(Question{ID: "q1"}, testAsset)
	select {
	case <-mic.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("microphone was never requested")
	}
	assert.Equal(t, CaptureAcquiring, ctrl.Snapshot().Capture)
	assert.False(t, timer.Armed())

	ctrl.EndInterview()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not complete")
	}

	reqs := service.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].ForceEnd)
	assert.Nil(t, reqs[0].Audio)
	assert.False(t, timer.Armed())
	assert.Empty(t, violations)
}

func TestController_CancelReleasesEverything(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	stream := h.recording()

	h.cancel()
	assert.ErrorIs(t, h.result(), context.Canceled)
	assert.True(t, stream.Closed())
	assert.True(t, h.mic.allReleased())
	assert.False(t, h.timer.Armed())
	assert.Equal(t, CaptureIdle, h.ctrl.Snapshot().Capture)
}

func TestController_InitializeOnce(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.speaker.set(true, nil)

	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	h.ctrl.Initialize(Question{ID: "other"}, testAsset)

	h.waitFor("playing", func(s SessionState) bool { return s.Playback == PlaybackPlaying })
	time.Sleep(20 * time.Millisecond)
	s := h.ctrl.Snapshot()
	assert.Equal(t, "q1", s.Question.ID)
	assert.Equal(t, 1, s.Round)
	assert.Equal(t, 1, h.speaker.Plays())
}

func TestController_StopBeforeRecordingIgnored(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.speaker.set(true, nil)

	h.ctrl.Submit() // before any question
	h.ctrl.Initialize(Question{ID: "q1"}, testAsset)
	h.waitFor("playing", func(s SessionState) bool { return s.Playback == PlaybackPlaying })

	h.ctrl.Submit() // plain stop during playback
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhasePlayingAudio, h.ctrl.Snapshot().Phase)
	assert.Empty(t, h.service.Requests())
}

func TestController_MissingAudioErrors(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.service.queue(endReply(""))

	h.ctrl.Initialize(Question{ID: "q1"}, audio.Asset{})
	s := h.waitPhase(PhaseErrored)
	assert.Equal(t, ErrorKindPlayback, s.ErrorKind)
	assert.False(t, s.CanResubmit)
	assert.Equal(t, 0, h.speaker.Plays())

	h.ctrl.EndInterview()
	h.waitPhase(PhaseComplete)
	require.Len(t, h.service.Requests(), 1)
	assert.True(t, h.service.Requests()[0].ForceEnd)
}

func TestController_RunTwice(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.Eventually(t, func() bool { return h.ctrl.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.ctrl.Run(context.Background()), ErrAlreadyRunning)
}

func TestController_StreamBrokenBeforeReadyIsHandled(t *testing.T) {
	mic := newFakeMic()
	recorder := NewRecordingManager(mic, audio.DefaultFormat, nil)
	timer := NewCountdown(time.Minute, 10*time.Millisecond)
	c := NewController(Config{
		Playback:   NewPlaybackManager(newFakeSpeaker()),
		Recording:  recorder,
		Countdown:  timer,
		Submission: NewSubmissionClient(&fakeService{}, "sess-1", nil),
		Reporter:   &fakeReporter{},
	})
	t.Cleanup(timer.Cancel)

	// drive the loop by hand so the failure is handled before the open
	c.ctx = context.Background()
	c.initialized = true
	c.round = 1
	c.question = &Question{ID: "q1", Text: "Why Go?"}
	c.phase = PhasePlayingAudio
	c.capture = CaptureAcquiring

	require.NoError(t, recorder.Start(context.Background(), nil, nil))
	stream := <-mic.opened
	stream.w.CloseWithError(errUnplugged)
	require.Eventually(t, func() bool { return recorder.Failed() != nil }, time.Second, time.Millisecond)

	c.handle(captureFailed{epoch: c.epoch, err: recorder.Failed()})
	assert.Equal(t, PhasePlayingAudio, c.phase, "failure before the open is dropped")

	c.handle(captureReady{epoch: c.epoch})
	s := c.Snapshot()
	require.NoError(t, s.Validate())
	assert.Equal(t, PhaseErrored, s.Phase)
	assert.Equal(t, ErrorKindDevice, s.ErrorKind)
	assert.Equal(t, CaptureIdle, s.Capture)
	assert.False(t, s.TimerArmed)
	assert.False(t, timer.Armed(), "countdown never armed on a dead microphone")
	assert.True(t, s.CanResubmit)
	assert.True(t, stream.Closed())
}

func TestController_SlowJournalDoesNotStallSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	gate := make(chan struct{})
	h.rounds.hold(gate)
	h.service.queue(nextQuestionReply("q2", "Why Go?"))

	h.ctrl.Initialize(Question{ID: "q1", Text: "Tell me about yourself"}, testAsset)
	h.recording()
	h.ctrl.Submit()

	// the next round starts while the first is still being written
	h.recording()
	h.waitFor("q2 recording", func(s SessionState) bool {
		return s.Phase == PhaseRecording && s.Question.ID == "q2"
	})
	assert.Empty(t, h.rounds.Rounds())

	close(gate)
	require.Eventually(t, func() bool { return len(h.rounds.Rounds()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "q1", h.rounds.Rounds()[0].Question.ID)
}

func TestController_PendingRoundsFlushedOnExit(t *testing.T) {
	h := newHarness(t, time.Minute)
	gate := make(chan struct{})
	h.rounds.hold(gate)
	h.service.queue(nextQuestionReply("q2", "Why Go?"))

	h.ctrl.Initialize(Question{ID: "q1", Text: "Tell me about yourself"}, testAsset)
	h.recording()
	h.ctrl.Submit()
	h.waitFor("q2", func(s SessionState) bool { return s.Question != nil && s.Question.ID == "q2" })

	h.cancel()
	time.AfterFunc(50*time.Millisecond, func() { close(gate) })
	require.ErrorIs(t, h.result(), context.Canceled)
	assert.Len(t, h.rounds.Rounds(), 1, "Run returns only after queued rounds are written")
}
