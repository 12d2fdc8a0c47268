// Package console is the terminal front end of an interview: it prints
// session updates and turns typed commands into session actions.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interviewer/internal/interview"
	"github.com/lexiqai/voice-interviewer/internal/observability"
)

const transcriptLimit = 150

// Controls are the session actions reachable from the keyboard
type Controls interface {
	Submit()
	EndInterview()
	ReplayQuestion()
	RetryMicrophone()
	Resubmit()
}

// Console renders session state to out and reads commands from in
type Console struct {
	in       io.Reader
	out      io.Writer
	controls Controls
	logger   zerolog.Logger

	mu        sync.Mutex
	last      interview.SessionState
	hasLast   bool
	midTicker bool
}

// New creates a console. controls may be nil before a session exists.
func New(in io.Reader, out io.Writer, controls Controls) *Console {
	return &Console{
		in:       in,
		out:      out,
		controls: controls,
		logger:   observability.GetLogger().With().Str("component", "console").Logger(),
	}
}

// Help lists the keyboard commands
func Help() string {
	return "Commands: [s] submit answer  [e] end interview  [r] replay question  [m] retry microphone  [u] resubmit  [h] help"
}

// Run reads commands until ctx is done. Closed input ends Run without
// error; the session keeps running.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug().Msg("Console input closed")
				return nil
			}
			c.Execute(line)
		}
	}
}

// Execute runs one typed command
func (c *Console) Execute(line string) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	if cmd == "" {
		return
	}
	if cmd == "h" || cmd == "help" || cmd == "?" {
		c.println(Hint.Render(Help()))
		return
	}
	if c.controls == nil {
		return
	}

	switch cmd {
	case "s", "submit":
		c.controls.Submit()
	case "e", "end":
		c.controls.EndInterview()
	case "r", "replay":
		c.controls.ReplayQuestion()
	case "m", "mic":
		c.controls.RetryMicrophone()
	case "u", "resubmit":
		c.controls.Resubmit()
	default:
		c.println(ErrorText.Render(fmt.Sprintf("Unknown command %q.", cmd)) + " " + Hint.Render(Help()))
	}
}

// Render prints what changed since the previous state. Countdown ticks
// rewrite a single line. Safe to use as a session subscriber.
func (c *Console) Render(s interview.SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.last, c.hasLast
	c.last, c.hasLast = s, true

	if had && onlyTimeChanged(prev, s) {
		if s.Phase == interview.PhaseRecording && s.RemainingSeconds != prev.RemainingSeconds {
			fmt.Fprintf(c.out, "\r%s", Timer.Render("Time left: "+FormatRemaining(s.RemainingSeconds)))
			c.midTicker = true
		}
		return
	}
	if c.midTicker {
		fmt.Fprintln(c.out)
		c.midTicker = false
	}

	if s.Question != nil && (!had || prev.Question == nil || prev.Question.ID != s.Question.ID) {
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, Title.Render(fmt.Sprintf("Question %d", s.Round)))
		fmt.Fprintln(c.out, Question.Render(s.Question.Text))
	}
	if s.Transcript != "" && (!had || s.Transcript != prev.Transcript) {
		fmt.Fprintln(c.out, Hint.Render("Your last transcribed answer:"), Transcript.Render(TruncateTranscript(s.Transcript)))
	}
	if s.Status != "" && (!had || s.Status != prev.Status) {
		fmt.Fprintln(c.out, Status.Render(s.Status))
	}
	if s.Error != "" && (!had || s.Error != prev.Error) {
		fmt.Fprintln(c.out, ErrorText.Render(s.Error))
	}
	if hint := actionHint(s); hint != "" && (!had || hint != actionHint(prev)) {
		fmt.Fprintln(c.out, Hint.Render(hint))
	}
}

// onlyTimeChanged reports whether b differs from a in display-only
// fields
func onlyTimeChanged(a, b interview.SessionState) bool {
	if !sameQuestion(a.Question, b.Question) {
		return false
	}
	a.Question, b.Question = nil, nil
	a.RemainingSeconds, b.RemainingSeconds = 0, 0
	a.Speaking, b.Speaking = false, false
	a.Playback, b.Playback = 0, 0
	return a == b
}

func sameQuestion(a, b *interview.Question) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func actionHint(s interview.SessionState) string {
	switch {
	case s.Terminal:
		return ""
	case s.CanResubmit:
		return "Type u to resubmit or e to end the interview."
	case s.CanReplay && s.ErrorKind == interview.ErrorKindDevice:
		return "Type m to retry the microphone, r to replay, or e to end."
	case s.CanReplay:
		return "Type r to play the question."
	case s.Phase == interview.PhaseRecording:
		return "Type s to submit your answer or e to end the interview."
	}
	return ""
}

// FormatRemaining renders seconds as m:ss
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// TruncateTranscript shortens long transcripts to 147 characters plus "..."
func TruncateTranscript(s string) string {
	r := []rune(s)
	if len(r) <= transcriptLimit {
		return s
	}
	return string(r[:transcriptLimit-3]) + "..."
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.midTicker {
		fmt.Fprintln(c.out)
		c.midTicker = false
	}
	fmt.Fprintln(c.out, s)
}
