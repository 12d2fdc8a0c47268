package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/voice-interviewer/internal/interview"
	"github.com/lexiqai/voice-interviewer/internal/journal"
)

const emptyField = "(none)"

// Report prints the final evaluation. It satisfies interview.Reporter.
func (c *Console) Report(sessionID string, eval interview.Evaluation) {
	c.println(RenderEvaluation(eval))
}

// Welcome prints the session header once the service accepted the resume
func (c *Console) Welcome(candidate, domain string, skills []string) {
	var b strings.Builder
	b.WriteString(Title.Render("Voice Interview"))
	b.WriteString("\n")
	if candidate != "" {
		fmt.Fprintf(&b, "Candidate: %s\n", candidate)
	}
	fmt.Fprintf(&b, "Domain: %s\n", domain)
	if len(skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(skills, ", "))
	}
	b.WriteString(Hint.Render(Help()))
	c.println(b.String())
}

// RenderEvaluation renders the final report card
func RenderEvaluation(eval interview.Evaluation) string {
	var b strings.Builder
	b.WriteString(Title.Render("Interview Evaluation"))
	section(&b, "Overall Performance", eval.OverallPerformance)
	section(&b, "Areas for Improvement", eval.WeakPoints)
	section(&b, "Suggestions for Improvement", eval.Improvements)
	return Card.Render(b.String())
}

func section(b *strings.Builder, heading, body string) {
	if strings.TrimSpace(body) == "" {
		body = emptyField
	}
	b.WriteString("\n\n")
	b.WriteString(Heading.Render(heading))
	b.WriteString("\n")
	b.WriteString(body)
}

// RenderSessions renders the journal listing, newest first
func RenderSessions(sessions []journal.Session) string {
	if len(sessions) == 0 {
		return Hint.Render("No interviews recorded yet.")
	}

	var b strings.Builder
	b.WriteString(Title.Render("Interview history"))
	for _, s := range sessions {
		state := "unfinished"
		if s.Evaluation != nil {
			state = "evaluated"
		}
		fmt.Fprintf(&b, "\n%s  %s  %-12s  %2d rounds  %s",
			s.StartedAt.Local().Format(time.DateTime), s.ID, s.Domain, s.Rounds, Status.Render(state))
	}
	return b.String()
}

// RenderSession renders one journaled session with its rounds
func RenderSession(s journal.Session, rounds []interview.Round) string {
	var b strings.Builder
	b.WriteString(Title.Render("Session " + s.ID))
	fmt.Fprintf(&b, "\nDomain: %s", s.Domain)
	if s.CandidateName != "" {
		fmt.Fprintf(&b, "\nCandidate: %s", s.CandidateName)
	}
	fmt.Fprintf(&b, "\nStarted: %s", s.StartedAt.Local().Format(time.DateTime))
	if s.EndedAt != nil {
		fmt.Fprintf(&b, "\nEnded: %s", s.EndedAt.Local().Format(time.DateTime))
	}

	for _, r := range rounds {
		b.WriteString("\n\n")
		b.WriteString(Question.Render(fmt.Sprintf("%d. %s", r.Number, r.Question.Text)))
		var flags []string
		if r.Timeout {
			flags = append(flags, "timed out")
		}
		if r.ForceEnd {
			flags = append(flags, "ended early")
		}
		if r.AudioBytes == 0 {
			flags = append(flags, "no audio")
		}
		if len(flags) > 0 {
			b.WriteString("  " + Hint.Render("("+strings.Join(flags, ", ")+")"))
		}
		if r.Transcript != "" {
			b.WriteString("\n   " + Transcript.Render(TruncateTranscript(r.Transcript)))
		}
		if r.Feedback != "" {
			b.WriteString("\n   " + r.Feedback)
		}
	}

	if s.Evaluation != nil {
		b.WriteString("\n\n")
		b.WriteString(RenderEvaluation(*s.Evaluation))
	}
	return b.String()
}
