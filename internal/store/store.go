package store

import (
	"errors"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

var ErrNotFound = errors.New("store: not found")

// State is the coarse lifecycle of a session.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
)

// Session is one scheduled occurrence of an interview, addressed by token.
type Session struct {
	ID          string
	Token       string
	InterviewID string
	// ExpiresAt is zero when the token never expires.
	ExpiresAt time.Time
	State     State
}

// Expired reports whether the token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Completion is the compiled record of a finished interview.
type Completion struct {
	SessionID       string           `json:"sessionId"`
	InterviewID     string           `json:"interviewId"`
	Transcript      []interview.Turn `json:"transcript"`
	QuestionsAsked  []string         `json:"questionsAsked"`
	DurationMinutes int              `json:"durationMinutes"`
	CompletedAt     time.Time        `json:"completedAt"`
}

// TranscriptRecord is what has been persisted for a session so far. Final is
// false for partial transcripts.
type TranscriptRecord struct {
	SessionID       string           `json:"sessionId"`
	InterviewID     string           `json:"interviewId"`
	State           State            `json:"state"`
	Final           bool             `json:"final"`
	Turns           []interview.Turn `json:"turns"`
	QuestionsAsked  []string         `json:"questionsAsked,omitempty"`
	DurationMinutes int              `json:"durationMinutes,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}
