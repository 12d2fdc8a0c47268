package interview

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/evaluator"
)

var testAsset = audio.Asset{MIMEType: audio.MIMEMpeg, Data: []byte("ID3 question audio")}

// fakeSpeaker returns err immediately, or blocks until released when block
// is set.
type fakeSpeaker struct {
	mu      sync.Mutex
	plays   int
	err     error
	block   bool
	release chan error
	playing chan struct{}
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{release: make(chan error, 8), playing: make(chan struct{}, 8)}
}

func (s *fakeSpeaker) Play(ctx context.Context, asset audio.Asset) error {
	s.mu.Lock()
	s.plays++
	block, err := s.block, s.err
	s.mu.Unlock()

	select {
	case s.playing <- struct{}{}:
	default:
	}
	if !block {
		return err
	}
	select {
	case err := <-s.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSpeaker) set(block bool, err error) {
	s.mu.Lock()
	s.block, s.err = block, err
	s.mu.Unlock()
}

func (s *fakeSpeaker) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

// fakeStream is a microphone stream fed by the test through a pipe
type fakeStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.r.Close()
}

func (s *fakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	opened  chan *fakeStream
}

func newFakeMic() *fakeMic {
	return &fakeMic{opened: make(chan *fakeStream, 8)}
}

func (m *fakeMic) Open(ctx context.Context) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, w := io.Pipe()
	s := &fakeStream{r: r, w: w}
	m.streams = append(m.streams, s)
	m.opened <- s
	return s, nil
}

func (m *fakeMic) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *fakeMic) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// allReleased reports whether every stream ever opened has been closed
func (m *fakeMic) allReleased() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.streams {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// fakeService answers submissions from a queue of replies
type fakeService struct {
	mu       sync.Mutex
	requests []evaluator.SubmitRequest
	replies  []func() (*evaluator.SubmitResponse, error)
	gate     chan struct{}
}

func (f *fakeService) SubmitAnswer(ctx context.Context, req evaluator.SubmitRequest) (*evaluator.SubmitResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var reply func() (*evaluator.SubmitResponse, error)
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &evaluator.Error{Op: "submit answer", Kind: evaluator.KindTransport, Err: ctx.Err()}
		}
	}
	if reply == nil {
		return nil, &evaluator.Error{Op: "submit answer", Kind: evaluator.KindStatus, StatusCode: 500, Detail: "no reply queued"}
	}
	return reply()
}

func (f *fakeService) queue(replies ...func() (*evaluator.SubmitResponse, error)) {
	f.mu.Lock()
	f.replies = append(f.replies, replies...)
	f.mu.Unlock()
}

func (f *fakeService) Requests() []evaluator.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evaluator.SubmitRequest(nil), f.requests...)
}

func nextQuestionReply(id, text string) func() (*evaluator.SubmitResponse, error) {
	return func() (*evaluator.SubmitResponse, error) {
		return &evaluator.SubmitResponse{
			Transcript:  "I have five years of Go",
			Feedback:    "Good depth.",
			NextAction:  evaluator.ActionNextQuestion,
			Question:    &evaluator.Question{ID: id, Text: text, Type: "technical_foundational"},
			AudioBase64: base64.StdEncoding.EncodeToString([]byte("ID3 " + id)),
		}, nil
	}
}

func endReply(transcript string) func() (*evaluator.SubmitResponse, error) {
	return func() (*evaluator.SubmitResponse, error) {
		return &evaluator.SubmitResponse{
			Transcript: transcript,
			NextAction: evaluator.ActionEndInterview,
			Message:    "Interview concluded.",
			OverallEvaluation: &evaluator.OverallEvaluation{
				OverallPerformance: "Strong fundamentals",
				WeakPoints:         "System design depth",
				Improvements:       "Practice capacity planning",
			},
		}, nil
	}
}

func failReply(status int) func() (*evaluator.SubmitResponse, error) {
	return func() (*evaluator.SubmitResponse, error) {
		return nil, &evaluator.Error{Op: "submit answer", Kind: evaluator.KindStatus, StatusCode: status, Detail: "boom"}
	}
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []Evaluation
}

func (r *fakeReporter) Report(sessionID string, eval Evaluation) {
	r.mu.Lock()
	r.calls = append(r.calls, eval)
	r.mu.Unlock()
}

func (r *fakeReporter) Calls() []Evaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Evaluation(nil), r.calls...)
}

// fakeRounds records rounds, holding each write until gate is closed
// when one is set.
type fakeRounds struct {
	mu     sync.Mutex
	rounds []Round
	gate   chan struct{}
}

func (f *fakeRounds) RecordRound(ctx context.Context, r Round) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.rounds = append(f.rounds, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeRounds) hold(gate chan struct{}) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *fakeRounds) Rounds() []Round {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Round(nil), f.rounds...)
}

// harness runs a controller against fakes and checks the session
// invariants on every published state.
type harness struct {
	t        *testing.T
	ctrl     *Controller
	speaker  *fakeSpeaker
	mic      *fakeMic
	service  *fakeService
	reporter *fakeReporter
	rounds   *fakeRounds
	timer    *Countdown
	runErr   chan error
	cancel   context.CancelFunc

	mu         sync.Mutex
	violations []error
	states     []SessionState
}

func newHarness(t *testing.T, answerTime time.Duration) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		speaker:  newFakeSpeaker(),
		mic:      newFakeMic(),
		service:  &fakeService{},
		reporter: &fakeReporter{},
		rounds:   &fakeRounds{},
		timer:    NewCountdown(answerTime, 10*time.Millisecond),
		runErr:   make(chan error, 1),
	}

	h.ctrl = NewController(Config{
		Playback:   NewPlaybackManager(h.speaker),
		Recording:  NewRecordingManager(h.mic, audio.DefaultFormat, audio.NewLevelMeter(audio.LevelConfig{FrameSize: 160})),
		Countdown:  h.timer,
		Submission: NewSubmissionClient(h.service, "sess-1", nil),
		Reporter:   h.reporter,
		Rounds:     h.rounds,
	})
	h.ctrl.Subscribe(func(s SessionState) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
		if err := s.Validate(); err != nil {
			h.violations = append(h.violations, err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.runErr
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, v := range h.violations {
			t.Errorf("invariant violated: %v", v)
		}
	})
	return h
}

func (h *harness) waitFor(desc string, pred func(SessionState) bool) SessionState {
	h.t.Helper()
	var last SessionState
	require.Eventually(h.t, func() bool {
		last = h.ctrl.Snapshot()
		return pred(last)
	}, 2*time.Second, time.Millisecond, "waiting for %s", desc)
	return last
}

func (h *harness) waitPhase(p Phase) SessionState {
	h.t.Helper()
	return h.waitFor(p.String(), func(s SessionState) bool { return s.Phase == p })
}

// recording waits for the microphone to open and the phase to follow
func (h *harness) recording() *fakeStream {
	h.t.Helper()
	var stream *fakeStream
	select {
	case stream = <-h.mic.opened:
	case <-time.After(2 * time.Second):
		h.t.Fatal("microphone was never opened")
	}
	// short countdowns can leave Recording before a poll sees it
	require.Eventually(h.t, func() bool {
		return h.everSaw(func(s SessionState) bool { return s.Phase == PhaseRecording })
	}, 2*time.Second, time.Millisecond, "waiting for recording")
	return stream
}

func (h *harness) everSaw(pred func(SessionState) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.states {
		if pred(s) {
			return true
		}
	}
	return false
}

var errUnplugged = errors.New("device unplugged")

// result waits for Run to return and leaves the value for cleanup
func (h *harness) result() error {
	h.t.Helper()
	select {
	case err := <-h.runErr:
		h.runErr <- err
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return")
		return nil
	}
}

// loudPCM returns n samples well above the speech threshold
func loudPCM(n int) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = 5000
	}
	return audio.EncodePCM16(s)
}

// blockingMic holds Open until ctx is cancelled or the test releases it
type blockingMic struct {
	entered chan struct{}
	release chan struct{}
	stream  *fakeStream
}

func (m *blockingMic) Open(ctx context.Context) (io.ReadCloser, error) {
	close(m.entered)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.release:
		return m.stream, nil
	}
}
