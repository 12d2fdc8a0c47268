// Package evaluator is the HTTP client for the remote evaluation service:
// it starts interview sessions from a resume and submits recorded answers.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-interviewer/internal/resilience"
)

const (
	pathStart   = "/start-interview"
	pathSubmit  = "/submit-answer"
	pathOpenAPI = "/openapi.json"

	// AnswerFileName is the multipart file name of a submitted answer
	AnswerFileName = "answer.wav"
)

var resumeExtensions = map[string]bool{".pdf": true, ".docx": true}

// Config holds evaluation service client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retry applies to session start only, and only for connection failures
	Retry *resilience.RetryConfig
}

// Client talks to the evaluation service
type Client struct {
	http     *resty.Client
	retry    *resilience.RetryConfig
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewClient creates a new evaluation service client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	v := validator.New()
	_ = v.RegisterValidation("resume_ext", func(fl validator.FieldLevel) bool {
		return resumeExtensions[strings.ToLower(filepath.Ext(fl.Field().String()))]
	})

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		retry:    cfg.Retry,
		validate: v,
		logger:   log.With().Str("component", "evaluator").Logger(),
	}
}

// StartInterview uploads the resume and returns the session id, the first
// question and its audio. Connection failures are retried; anything that
// reached the service is not.
func (c *Client) StartInterview(ctx context.Context, req StartRequest) (*StartResponse, error) {
	const op = "start interview"

	req.Domain = strings.TrimSpace(req.Domain)
	if err := c.validate.Struct(req); err != nil {
		return nil, &Error{Op: op, Kind: KindInvalid, Err: describeValidation(err)}
	}

	var out StartResponse
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetFileReader("resume", filepath.Base(req.FileName), bytes.NewReader(req.Resume)).
			SetMultipartFormData(map[string]string{"domain": req.Domain}).
			Post(pathStart)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Start interview request failed")
			return &Error{Op: op, Kind: KindTransport, Err: err}
		}
		return decode(op, resp, &out)
	}, c.retry, resilience.IsConnectionError)
	if err != nil {
		return nil, err
	}

	if err := out.Validate(); err != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, Err: err}
	}

	c.logger.Info().
		Str("session_id", out.SessionID).
		Str("question_id", out.Question.ID).
		Str("candidate", out.ResumeInfo.Name).
		Msg("Interview started")
	return &out, nil
}

// SubmitAnswer posts one answer and returns the service's verdict. It is
// never retried: a resend could be scored twice.
func (c *Client) SubmitAnswer(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	const op = "submit answer"

	if req.SessionID == "" || req.QuestionID == "" {
		return nil, &Error{Op: op, Kind: KindInvalid, Err: errors.New("session and question ids are required")}
	}

	r := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"session_id":  req.SessionID,
			"question_id": req.QuestionID,
			"is_timeout":  strconv.FormatBool(req.Timeout),
			"force_end":   strconv.FormatBool(req.ForceEnd),
		})
	if len(req.Audio) > 0 {
		r.SetFileReader("audio_file", AnswerFileName, bytes.NewReader(req.Audio))
	}

	start := time.Now()
	resp, err := r.Post(pathSubmit)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindTransport, Err: err}
	}

	var out SubmitResponse
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.StatusCode(), Err: err}
	}

	c.logger.Debug().
		Str("session_id", req.SessionID).
		Str("question_id", req.QuestionID).
		Bool("is_timeout", req.Timeout).
		Bool("force_end", req.ForceEnd).
		Int("audio_bytes", len(req.Audio)).
		Str("next_action", out.NextAction).
		Dur("latency", time.Since(start)).
		Msg("Answer submitted")
	return &out, nil
}

// Ping checks that the service is up by fetching its OpenAPI document
func (c *Client) Ping(ctx context.Context) error {
	const op = "ping"

	resp, err := c.http.R().SetContext(ctx).Get(pathOpenAPI)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Err: err}
	}
	if resp.IsError() {
		return statusError(op, resp)
	}
	return nil
}

func decode(op string, resp *resty.Response, out any) error {
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return statusError(op, resp)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Op: op, Kind: KindMalformed, StatusCode: resp.StatusCode(), Err: err}
	}
	return nil
}

func statusError(op string, resp *resty.Response) *Error {
	e := &Error{Op: op, Kind: KindStatus, StatusCode: resp.StatusCode()}

	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Detail != nil {
		switch d := body.Detail.(type) {
		case string:
			e.Detail = d
		default:
			// validation failures carry a list of field errors
			if b, err := json.Marshal(d); err == nil {
				e.Detail = string(b)
			}
		}
	} else {
		e.Detail = strings.TrimSpace(string(resp.Body()))
		if len(e.Detail) > 200 {
			e.Detail = e.Detail[:200]
		}
	}
	return e
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "FileName":
			msgs = append(msgs, "resume must be a .pdf or .docx file")
		case "Resume":
			msgs = append(msgs, "resume file is empty")
		case "Domain":
			msgs = append(msgs, "domain is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
