package interview

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lexiqai/voice-interviewer/internal/audio"
	"github.com/lexiqai/voice-interviewer/internal/evaluator"
	"github.com/lexiqai/voice-interviewer/internal/observability"
	"github.com/lexiqai/voice-interviewer/internal/resilience"
)

// AnswerService is the part of the evaluation service a session submits to
type AnswerService interface {
	SubmitAnswer(ctx context.Context, req evaluator.SubmitRequest) (*evaluator.SubmitResponse, error)
}

// SubmissionClient sends answers for one session. It never retries; a
// breaker fails fast while the service is known to be down.
type SubmissionClient struct {
	service   AnswerService
	sessionID string
	breaker   *resilience.CircuitBreaker
}

// NewSubmissionClient creates a submission client. breaker may be nil.
func NewSubmissionClient(service AnswerService, sessionID string, breaker *resilience.CircuitBreaker) *SubmissionClient {
	return &SubmissionClient{service: service, sessionID: sessionID, breaker: breaker}
}

// SessionID returns the session answers are submitted to
func (c *SubmissionClient) SessionID() string {
	return c.sessionID
}

// Submit posts one answer and maps the reply to a RoundOutcome. Every
// failure is a *SubmissionError.
func (c *SubmissionClient) Submit(ctx context.Context, p AnswerPayload) (*RoundOutcome, error) {
	req := evaluator.SubmitRequest{
		SessionID:  c.sessionID,
		QuestionID: p.QuestionID,
		Audio:      p.Audio,
		Timeout:    p.Timeout,
		ForceEnd:   p.ForceEnd,
	}

	var resp *evaluator.SubmitResponse
	var callErr error
	call := func() error {
		resp, callErr = c.service.SubmitAnswer(ctx, req)
		if tripsBreaker(callErr) {
			if c.breaker != nil {
				observability.IncrementCircuitBreakerFailures(c.breaker.Name())
			}
			return callErr
		}
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Call(call); errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &SubmissionError{Kind: SubmissionUnavailable, Err: err}
		}
	} else {
		_ = call()
	}

	if callErr != nil {
		return nil, classify(callErr)
	}
	return toOutcome(resp)
}

// tripsBreaker reports whether err says the service itself is unhealthy
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var e *evaluator.Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case evaluator.KindTransport:
		return true
	case evaluator.KindStatus:
		return e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

func classify(err error) *SubmissionError {
	var e *evaluator.Error
	if !errors.As(err, &e) {
		return &SubmissionError{Kind: SubmissionTransport, Err: err}
	}
	switch e.Kind {
	case evaluator.KindStatus:
		return &SubmissionError{Kind: SubmissionStatus, StatusCode: e.StatusCode, Err: err}
	case evaluator.KindMalformed:
		return &SubmissionError{Kind: SubmissionMalformed, StatusCode: e.StatusCode, Err: err}
	case evaluator.KindInvalid:
		return &SubmissionError{Kind: SubmissionInvalid, Err: err}
	default:
		return &SubmissionError{Kind: SubmissionTransport, Err: err}
	}
}

func toOutcome(resp *evaluator.SubmitResponse) (*RoundOutcome, error) {
	if resp == nil {
		return nil, &SubmissionError{Kind: SubmissionMalformed, Err: errors.New("empty reply")}
	}
	out := &RoundOutcome{
		Message:    resp.Message,
		Transcript: resp.Transcript,
		Feedback:   resp.Feedback,
	}

	switch resp.NextAction {
	case evaluator.ActionNextQuestion:
		if resp.Question == nil {
			return nil, &SubmissionError{Kind: SubmissionMalformed, Err: errors.New("next_question without a question")}
		}
		asset, err := audio.AssetFromBase64(resp.AudioBase64)
		if err != nil {
			return nil, &SubmissionError{Kind: SubmissionMalformed, Err: fmt.Errorf("question %s audio: %w", resp.Question.ID, err)}
		}
		out.Next = &NextQuestion{
			Question: Question{ID: resp.Question.ID, Text: resp.Question.Text, Type: resp.Question.Type},
			Audio:    asset,
		}

	case evaluator.ActionEndInterview:
		if resp.OverallEvaluation == nil {
			return nil, &SubmissionError{Kind: SubmissionMalformed, Err: errors.New("end_interview without an evaluation")}
		}
		out.Evaluation = &Evaluation{
			OverallPerformance: resp.OverallEvaluation.OverallPerformance,
			WeakPoints:         resp.OverallEvaluation.WeakPoints,
			Improvements:       resp.OverallEvaluation.Improvements,
		}

	default:
		return nil, &SubmissionError{Kind: SubmissionMalformed, Err: fmt.Errorf("unknown next_action %q", resp.NextAction)}
	}

	return out, nil
}
