package evaluator

import "fmt"

// Next actions returned by /submit-answer
const (
	ActionNextQuestion = "next_question"
	ActionEndInterview = "end_interview"
)

// Question is one interview question as sent by the service
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"` // e.g. "generic", "resume_deep_dive", "hr_behavioral"
}

// ResumeInfo is the service's parse of the uploaded resume
type ResumeInfo struct {
	Name       string              `json:"name"`
	Email      string              `json:"email,omitempty"`
	Phone      string              `json:"phone,omitempty"`
	Experience string              `json:"experience,omitempty"`
	Skills     []string            `json:"skills"`
	Projects   []map[string]string `json:"projects"`
	Education  string              `json:"education,omitempty"`
	RawText    string              `json:"raw_text"`
}

// OverallEvaluation is the final report for a finished interview
type OverallEvaluation struct {
	OverallPerformance string `json:"overall_performance"`
	WeakPoints         string `json:"weak_points"`
	Improvements       string `json:"improvements"`
}

// StartRequest uploads a resume and selects the interview domain
type StartRequest struct {
	FileName string `validate:"required,resume_ext"`
	Resume   []byte `validate:"min=1"`
	Domain   string `validate:"required"`
}

// StartResponse is the reply to /start-interview
type StartResponse struct {
	SessionID   string     `json:"session_id"`
	Question    Question   `json:"question"`
	AudioBase64 string     `json:"audio_base64"`
	ResumeInfo  ResumeInfo `json:"resume_info"`
}

// Validate checks the fields the interview cannot run without
func (r *StartResponse) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("missing session_id")
	}
	if r.Question.ID == "" {
		return fmt.Errorf("missing question id")
	}
	if r.AudioBase64 == "" {
		return fmt.Errorf("missing audio_base64 for question %s", r.Question.ID)
	}
	return nil
}

// SubmitRequest is one answer. A nil Audio sends no file part.
type SubmitRequest struct {
	SessionID  string
	QuestionID string
	Audio      []byte
	Timeout    bool
	ForceEnd   bool
}

// SubmitResponse is the reply to /submit-answer
type SubmitResponse struct {
	Message           string             `json:"message,omitempty"`
	Transcript        string             `json:"transcript"`
	Feedback          string             `json:"feedback"`
	NextAction        string             `json:"next_action"`
	Question          *Question          `json:"question,omitempty"`
	AudioBase64       string             `json:"audio_base64,omitempty"`
	OverallEvaluation *OverallEvaluation `json:"overall_evaluation,omitempty"`
}

// Validate checks that next_action is known and carries what it needs
func (r *SubmitResponse) Validate() error {
	switch r.NextAction {
	case ActionNextQuestion:
		if r.Question == nil || r.Question.ID == "" {
			return fmt.Errorf("next_question without a question")
		}
		if r.AudioBase64 == "" {
			return fmt.Errorf("next_question %s without audio", r.Question.ID)
		}
	case ActionEndInterview:
		if r.OverallEvaluation == nil {
			return fmt.Errorf("end_interview without overall_evaluation")
		}
	default:
		return fmt.Errorf("unknown next_action %q", r.NextAction)
	}
	return nil
}

type errorBody struct {
	Detail any `json:"detail"`
}
