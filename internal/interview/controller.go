// Package interview runs one voice interview session: it plays each
// question, records the answer against a countdown, submits it and
// follows the evaluation service until it ends the interview.
package interview

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/observability"
)

const (
	transcriptTimedOut = "Answer timed out."
	transcriptSilent   = "No speech detected."
)

// Reporter receives the final evaluation, exactly once, when the session
// completes.
type Reporter interface {
	Report(sessionID string, eval Evaluation)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(sessionID string, eval Evaluation)

// Report implements Reporter
func (f ReporterFunc) Report(sessionID string, eval Evaluation) { f(sessionID, eval) }

// RoundRecorder persists finished rounds
type RoundRecorder interface {
	RecordRound(ctx context.Context, r Round) error
}

// Config wires a Controller to its collaborators
type Config struct {
	Playback   *PlaybackManager
	Recording  *RecordingManager
	Countdown  *Countdown
	Submission *SubmissionClient
	Reporter   Reporter

	Rounds  RoundRecorder          // optional
	Metrics *observability.Metrics // optional
}

// events posted to the controller loop
type (
	initEvent struct {
		question Question
		asset    audio.Asset
	}
	playbackDone struct {
		epoch  uint64
		manual bool
		err    error
	}
	captureReady struct {
		epoch uint64
		err   error
	}
	captureFailed struct {
		epoch uint64
		err   error
	}
	speakingChanged struct {
		epoch    uint64
		speaking bool
	}
	tickEvent struct {
		epoch     uint64
		remaining time.Duration
	}
	expiredEvent struct {
		epoch uint64
	}
	stopRequest struct {
		timeout  bool
		forceEnd bool
	}
	submitted struct {
		epoch   uint64
		payload AnswerPayload
		outcome *RoundOutcome
		err     error
	}
	manualPlayRequest   struct{}
	retryCaptureRequest struct{}
	resubmitRequest     struct{}
)

// Controller is the session state machine. Exported methods only post
// requests; all transitions run on the goroutine that calls Run, so
// session fields below the mailbox are never shared.
type Controller struct {
	sessionID string
	playback  *PlaybackManager
	recorder  *RecordingManager
	timer     *Countdown
	submitter *SubmissionClient
	reporter  Reporter
	rounds    RoundRecorder
	writer    *roundWriter
	metrics   *observability.Metrics
	logger    zerolog.Logger

	box     *mailbox
	running atomic.Bool
	done    chan struct{}

	// loop-owned
	ctx           context.Context
	epoch         uint64
	initialized   bool
	phase         Phase
	question      *Question
	round         int
	capture       CaptureState
	timerArmed    bool
	remaining     int
	speaking      bool
	transcript    string
	feedback      string
	status        string
	errMsg        string
	errKind       ErrorKind
	canReplay     bool
	pending       *AnswerPayload
	acquireCancel context.CancelFunc
	submitCancel  context.CancelFunc
	reported      bool

	snapMu    sync.RWMutex
	snap      SessionState
	obsMu     sync.Mutex
	observers map[int]func(SessionState)
	nextObs   int
}

// NewController creates a session controller. The session id is taken
// from the submission client.
func NewController(cfg Config) *Controller {
	sessionID := cfg.Submission.SessionID()
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics(sessionID)
	}

	c := &Controller{
		sessionID: sessionID,
		playback:  cfg.Playback,
		recorder:  cfg.Recording,
		timer:     cfg.Countdown,
		submitter: cfg.Submission,
		reporter:  cfg.Reporter,
		rounds:    cfg.Rounds,
		metrics:   metrics,
		logger:    observability.WithSession(sessionID).With().Str("component", "session").Logger(),
		box:       newMailbox(),
		done:      make(chan struct{}),
		phase:     PhaseAwaitingQuestion,
		remaining: int(cfg.Countdown.Duration().Seconds()),
		observers: make(map[int]func(SessionState)),
	}
	c.snap = c.buildState()
	return c
}

// Initialize hands the controller its first question. Only the first call
// has any effect.
func (c *Controller) Initialize(q Question, asset audio.Asset) {
	c.box.post(initEvent{question: q, asset: asset})
}

// RequestStop ends the current round. A plain stop needs an active
// recording; forceEnd works from any non-terminal phase and ends the
// interview.
func (c *Controller) RequestStop(timeout, forceEnd bool) {
	c.box.post(stopRequest{timeout: timeout, forceEnd: forceEnd})
}

// Submit stops recording and submits the answer
func (c *Controller) Submit() { c.RequestStop(false, false) }

// EndInterview stops whatever is happening and asks the service to end
// the interview.
func (c *Controller) EndInterview() { c.RequestStop(false, true) }

// ReplayQuestion plays the current question's audio again
func (c *Controller) ReplayQuestion() { c.box.post(manualPlayRequest{}) }

// RetryMicrophone tries to open the microphone again after it failed
func (c *Controller) RetryMicrophone() { c.box.post(retryCaptureRequest{}) }

// Resubmit sends the answer whose submission failed once more
func (c *Controller) Resubmit() { c.box.post(resubmitRequest{}) }

// Done is closed when the session completes
func (c *Controller) Done() <-chan struct{} { return c.done }

// SessionID returns the session id
func (c *Controller) SessionID() string { return c.sessionID }

// Snapshot returns the last published state
func (c *Controller) Snapshot() SessionState {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe registers fn to receive every published state. fn runs on the
// controller goroutine and must not block. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Run processes events until the session completes (nil) or ctx is done
// (ctx.Err()). Every exit releases the timer, microphone and speaker.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.ctx = ctx
	if c.rounds != nil {
		c.writer = newRoundWriter(c.rounds, c.logger)
		go c.writer.run(ctx)
	}
	defer c.shutdown()

	c.metrics.RecordSessionStart()
	c.logger.Info().Msg("Session started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Err(ctx.Err()).Msg("Session stopped before completion")
			return ctx.Err()

		case <-c.box.signal:
			for _, e := range c.box.drain() {
				c.handle(e)
				if c.phase == PhaseComplete {
					return nil
				}
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.timer.Cancel()
	c.timerArmed = false
	if c.acquireCancel != nil {
		c.acquireCancel()
		c.acquireCancel = nil
	}
	if c.submitCancel != nil {
		c.submitCancel()
		c.submitCancel = nil
	}
	c.playback.Stop()
	c.recorder.Stop()
	c.recorder.Finalize()
	c.capture = CaptureIdle
	c.speaking = false

	if c.initialized && c.phase != PhaseComplete {
		c.phase = PhaseErrored
		c.status = "Session stopped."
	}
	c.metrics.RecordSessionEnd(c.phase == PhaseComplete)
	c.publish()

	if c.writer != nil {
		c.writer.close()
	}
}

func (c *Controller) handle(e any) {
	switch ev := e.(type) {
	case initEvent:
		c.onInitialize(ev)
	case playbackDone:
		c.onPlaybackDone(ev)
	case captureReady:
		c.onCaptureReady(ev)
	case captureFailed:
		c.onCaptureFailed(ev)
	case speakingChanged:
		if ev.epoch == c.epoch && c.capture == CaptureRecording {
			c.speaking = ev.speaking
			c.publish()
		}
	case tickEvent:
		if ev.epoch == c.epoch && c.phase == PhaseRecording {
			c.remaining = int(math.Ceil(ev.remaining.Seconds()))
			c.publish()
		}
	case expiredEvent:
		if ev.epoch == c.epoch && c.phase == PhaseRecording {
			c.logger.Info().Str("question_id", c.question.ID).Msg("Answer time expired")
			c.timerArmed = false
			c.remaining = 0
			c.requestStop(true, false)
		}
	case stopRequest:
		c.requestStop(ev.timeout, ev.forceEnd)
	case manualPlayRequest:
		c.onManualPlay()
	case retryCaptureRequest:
		c.onRetryCapture()
	case resubmitRequest:
		c.onResubmit()
	case submitted:
		c.onSubmitted(ev)
	default:
		c.logger.Warn().Type("event", e).Msg("Unknown session event")
	}
}

func (c *Controller) onInitialize(ev initEvent) {
	if c.initialized {
		c.logger.Warn().Str("question_id", ev.question.ID).Msg("Session already initialized, ignoring")
		return
	}
	c.initialized = true
	c.round = 1
	c.startQuestion(ev.question, ev.asset)
}

// startQuestion makes q current and plays it automatically
func (c *Controller) startQuestion(q Question, asset audio.Asset) {
	c.epoch++
	c.question = &q
	c.capture = CaptureIdle
	c.timerArmed = false
	c.remaining = int(c.timer.Duration().Seconds())
	c.speaking = false
	c.pending = nil
	c.clearError()

	if err := c.playback.Load(q.ID, asset); err != nil {
		c.logger.Error().Err(err).Str("question_id", q.ID).Msg("Question audio could not be loaded")
		c.metrics.RecordError("load", "playback")
		c.enterErrored(ErrorKindPlayback, "Error loading question audio.")
		return
	}

	c.phase = PhasePlayingAudio
	c.status = "Playing question..."
	c.logger.Info().Str("question_id", q.ID).Int("round", c.round).Msg("Question loaded")

	epoch := c.epoch
	if err := c.playback.Play(c.ctx, func(err error) {
		c.box.post(playbackDone{epoch: epoch, err: err})
	}); err != nil {
		c.onPlaybackFailed(&PlaybackError{QuestionID: q.ID, Err: err})
		return
	}
	c.publish()
}

func (c *Controller) onPlaybackDone(ev playbackDone) {
	if ev.epoch != c.epoch || c.phase != PhasePlayingAudio {
		return
	}
	c.metrics.RecordPlayback(ev.manual, ev.err == nil)
	if ev.err != nil {
		c.onPlaybackFailed(ev.err)
		return
	}
	c.onPlaybackEnded()
}

// onPlaybackEnded moves from playback to capture
func (c *Controller) onPlaybackEnded() {
	if c.capture != CaptureIdle {
		return
	}
	c.startCapture()
}

// onPlaybackFailed stays on the question and offers a manual play
func (c *Controller) onPlaybackFailed(err error) {
	c.logger.Warn().Err(err).Str("question_id", c.question.ID).Msg("Question playback failed")
	c.canReplay = true
	c.errKind = ErrorKindPlayback

	var pe *PlaybackError
	if errors.As(err, &pe) && pe.Manual {
		c.errMsg = "Could not play audio. Please try again."
	} else {
		c.errMsg = "Audio could not autoplay. Replay the question to hear it."
	}
	c.status = "Waiting for manual playback."
	c.publish()
}

// startCapture requests the microphone. The countdown is armed only once
// the device is open.
func (c *Controller) startCapture() {
	ctx, cancel := context.WithCancel(c.ctx)
	c.acquireCancel = cancel
	c.capture = CaptureAcquiring
	c.status = "Opening microphone..."
	c.publish()

	epoch := c.epoch
	go func() {
		err := c.recorder.Start(ctx,
			func(err error) { c.box.post(captureFailed{epoch: epoch, err: err}) },
			func(speaking bool) { c.box.post(speakingChanged{epoch: epoch, speaking: speaking}) },
		)
		c.box.post(captureReady{epoch: epoch, err: err})
	}()
}

func (c *Controller) onCaptureReady(ev captureReady) {
	if ev.epoch != c.epoch || c.capture != CaptureAcquiring {
		// the round moved on; Start already released the device if it
		// saw the cancellation, and RequestStop released it otherwise
		return
	}
	if c.acquireCancel != nil {
		c.acquireCancel()
		c.acquireCancel = nil
	}

	if ev.err != nil {
		c.capture = CaptureIdle
		c.canReplay = true
		c.errKind = ErrorKindDevice
		c.errMsg = "Could not access microphone. Please ensure it is connected and permissions are granted."
		c.status = "Microphone unavailable. Retry the microphone or end the interview."
		c.metrics.RecordError("open", "microphone")
		c.logger.Warn().Err(ev.err).Str("question_id", c.question.ID).Msg("Microphone unavailable")
		c.publish()
		return
	}

	if c.playback.State() == PlaybackPlaying {
		c.playback.Stop()
	}

	// the stream may have broken before this event was handled, in which
	// case its captureFailed was dropped as not yet recording
	if err := c.recorder.Failed(); err != nil {
		c.phase = PhaseRecording
		c.onCaptureFailed(captureFailed{epoch: c.epoch, err: err})
		return
	}

	c.clearError()
	c.phase = PhaseRecording
	c.capture = CaptureRecording
	c.remaining = int(c.timer.Duration().Seconds())
	c.timerArmed = true
	epoch := c.epoch
	c.timer.Start(
		func(remaining time.Duration) { c.box.post(tickEvent{epoch: epoch, remaining: remaining}) },
		func() { c.box.post(expiredEvent{epoch: epoch}) },
	)
	c.status = "Recording... speak your answer."
	c.metrics.RecordRecordingStart()
	c.logger.Info().Str("question_id", c.question.ID).Msg("Recording started")
	c.publish()
}

// onCaptureFailed handles a microphone that broke mid-answer. What was
// captured is kept so the user can resubmit it.
func (c *Controller) onCaptureFailed(ev captureFailed) {
	if ev.epoch != c.epoch || c.phase != PhaseRecording {
		return
	}
	c.logger.Error().Err(ev.err).Str("question_id", c.question.ID).Msg("Microphone failed while recording")
	c.metrics.RecordError("read", "microphone")

	c.timer.Cancel()
	c.timerArmed = false
	c.recorder.Stop()
	captured := c.recorder.Finalize()
	c.capture = CaptureIdle

	c.pending = &AnswerPayload{QuestionID: c.question.ID, Audio: captured}
	c.enterErrored(ErrorKindDevice, "Microphone stopped working. Resubmit what was captured or end the interview.")
}

// requestStop ends the round and submits. Countdown cancellation and
// device release happen on every accepted stop.
func (c *Controller) requestStop(timeout, forceEnd bool) {
	switch {
	case c.phase == PhaseComplete:
		return
	case c.phase == PhaseSubmitting:
		c.logger.Debug().Msg("Submission in flight, ignoring stop")
		return
	case !c.initialized:
		c.logger.Warn().Msg("Stop requested before the first question")
		return
	case c.phase != PhaseRecording && !forceEnd:
		c.logger.Debug().Str("phase", c.phase.String()).Msg("Not recording, ignoring stop")
		return
	}

	c.timer.Cancel()
	c.timerArmed = false
	if c.acquireCancel != nil {
		c.acquireCancel()
		c.acquireCancel = nil
	}
	c.playback.Stop()

	wasRecording := c.capture == CaptureRecording
	if wasRecording {
		c.capture = CaptureFinalizing
	}
	c.recorder.Stop()
	captured := c.recorder.Finalize()
	if !wasRecording {
		captured = nil
	}
	c.capture = CaptureIdle

	if wasRecording {
		c.metrics.RecordRound(timeout, forceEnd)
		c.metrics.RecordAudioBytes(int64(len(captured)))
	}
	c.logger.Info().
		Str("question_id", c.question.ID).
		Bool("is_timeout", timeout).
		Bool("force_end", forceEnd).
		Int("audio_bytes", len(captured)).
		Msg("Round stopped")

	c.beginSubmit(AnswerPayload{
		QuestionID: c.question.ID,
		Audio:      captured,
		Timeout:    timeout,
		ForceEnd:   forceEnd,
	})
}

func (c *Controller) beginSubmit(p AnswerPayload) {
	c.epoch++
	c.phase = PhaseSubmitting
	c.pending = &p
	c.speaking = false
	c.clearError()
	if p.ForceEnd {
		c.status = "Ending interview..."
	} else {
		c.status = "Submitting answer..."
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.submitCancel = cancel
	c.metrics.RecordSubmissionStart()
	c.publish()

	epoch := c.epoch
	go func() {
		out, err := c.submitter.Submit(ctx, p)
		c.box.post(submitted{epoch: epoch, payload: p, outcome: out, err: err})
	}()
}

func (c *Controller) onSubmitted(ev submitted) {
	if ev.epoch != c.epoch || c.phase != PhaseSubmitting {
		return
	}
	if c.submitCancel != nil {
		c.submitCancel()
		c.submitCancel = nil
	}
	c.metrics.RecordSubmissionEnd(ev.err == nil)

	if ev.err != nil {
		c.onSubmissionFailed(ev.err)
		return
	}
	c.onSubmissionResult(ev.payload, *ev.outcome)
}

// onSubmissionResult either loads the next question or completes
func (c *Controller) onSubmissionResult(p AnswerPayload, out RoundOutcome) {
	c.transcript = out.Transcript
	if c.transcript == "" {
		if p.Timeout {
			c.transcript = transcriptTimedOut
		} else {
			c.transcript = transcriptSilent
		}
	}
	c.feedback = out.Feedback
	c.pending = nil
	c.recordRound(p)

	switch {
	case out.Evaluation != nil:
		c.complete(out)
	case out.Next != nil:
		c.round++
		c.startQuestion(out.Next.Question, out.Next.Audio)
		if out.Message != "" && c.phase == PhasePlayingAudio {
			c.status = out.Message
			c.publish()
		}
	}
}

func (c *Controller) onSubmissionFailed(err error) {
	c.logger.Error().Err(err).Str("question_id", c.question.ID).Msg("Answer submission failed")

	var se *SubmissionError
	kind := "transport"
	if errors.As(err, &se) {
		kind = string(se.Kind)
	}
	c.metrics.RecordError(kind, "submission")

	msg := "Submitting the answer failed. Resubmit or end the interview."
	if se != nil && se.Kind == SubmissionUnavailable {
		msg = "The evaluation service is unavailable. Resubmit later or end the interview."
	}
	c.enterErrored(ErrorKindSubmission, msg+" ("+err.Error()+")")
}

func (c *Controller) complete(out RoundOutcome) {
	c.epoch++
	c.phase = PhaseComplete
	c.capture = CaptureIdle
	c.timerArmed = false
	c.canReplay = false
	c.status = out.Message
	if c.status == "" {
		c.status = "Interview complete."
	}
	c.logger.Info().Int("rounds", c.round).Msg("Interview complete")
	c.metrics.RecordSessionEnd(true)
	c.publish()

	if !c.reported && c.reporter != nil {
		c.reported = true
		c.reporter.Report(c.sessionID, *out.Evaluation)
	}
	close(c.done)
}

// enterErrored leaves the session idle with an error the user can act on
func (c *Controller) enterErrored(kind ErrorKind, msg string) {
	c.epoch++
	c.timer.Cancel()
	c.timerArmed = false
	c.playback.Stop()
	c.phase = PhaseErrored
	c.capture = CaptureIdle
	c.speaking = false
	c.canReplay = false
	c.errKind = kind
	c.errMsg = msg
	c.status = "Error. End the interview or resubmit."
	c.publish()
}

func (c *Controller) onManualPlay() {
	if c.phase != PhasePlayingAudio || c.capture != CaptureIdle {
		c.logger.Debug().Str("phase", c.phase.String()).Msg("Manual play rejected")
		c.status = "Cannot play audio now. System might be busy or recording."
		c.publish()
		return
	}

	epoch := c.epoch
	err := c.playback.ManualPlay(c.ctx, func(err error) {
		c.box.post(playbackDone{epoch: epoch, manual: true, err: err})
	})
	if err != nil {
		c.status = "Cannot play audio now. Audio is already playing."
		c.publish()
		return
	}
	c.clearError()
	c.status = "Playing question..."
	c.publish()
}

func (c *Controller) onRetryCapture() {
	if c.phase != PhasePlayingAudio || c.capture != CaptureIdle || c.playback.State() == PlaybackPlaying {
		c.logger.Debug().Str("phase", c.phase.String()).Msg("Microphone retry rejected")
		return
	}
	c.clearError()
	c.startCapture()
}

func (c *Controller) onResubmit() {
	if c.phase != PhaseErrored || c.pending == nil {
		c.logger.Debug().Str("phase", c.phase.String()).Msg("Nothing to resubmit")
		return
	}
	c.logger.Info().Str("question_id", c.pending.QuestionID).Msg("Resubmitting answer")
	c.beginSubmit(*c.pending)
}

func (c *Controller) recordRound(p AnswerPayload) {
	if c.writer == nil || c.question == nil {
		return
	}
	r := Round{
		SessionID:  c.sessionID,
		Number:     c.round,
		Question:   *c.question,
		AudioBytes: len(p.Audio),
		Timeout:    p.Timeout,
		ForceEnd:   p.ForceEnd,
		Transcript: c.transcript,
		Feedback:   c.feedback,
	}
	c.writer.write(r)
}

func (c *Controller) clearError() {
	c.errMsg = ""
	c.errKind = ""
	c.canReplay = false
}

func (c *Controller) buildState() SessionState {
	s := SessionState{
		SessionID:        c.sessionID,
		Phase:            c.phase,
		Round:            c.round,
		Playback:         c.playback.State(),
		Capture:          c.capture,
		TimerArmed:       c.timerArmed,
		RemainingSeconds: c.remaining,
		Speaking:         c.speaking,
		Transcript:       c.transcript,
		Feedback:         c.feedback,
		Status:           c.status,
		Error:            c.errMsg,
		ErrorKind:        c.errKind,
		CanReplay:        c.canReplay,
		CanResubmit:      c.phase == PhaseErrored && c.pending != nil,
		Terminal:         c.phase == PhaseComplete,
	}
	if c.question != nil {
		q := *c.question
		s.Question = &q
	}
	return s
}

func (c *Controller) publish() {
	s := c.buildState()

	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()

	c.obsMu.Lock()
	fns := make([]func(SessionState), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
