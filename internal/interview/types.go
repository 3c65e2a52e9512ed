package interview

import (
	"context"
	"time"
)

// Transcriber turns a batch of 16kHz little-endian PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, hints Hints) (string, error)
}

// Hints narrow recognition for a single batch.
type Hints struct {
	Language string
	// Prompt is the question currently being answered.
	Prompt   string
	Keyterms []string
}

// Synthesizer renders text as audio in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Oracle judges whether an answer deserves a follow-up question.
// Any error is treated by the engine as "no follow-up".
type Oracle interface {
	NeedsFollowUp(ctx context.Context, question, criteria, response string) (bool, error)
}

// Mode selects who drives question progression.
type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeAssisted   Mode = "assisted"
)

// ParseMode maps a stored mode string to a Mode, defaulting to autonomous.
func ParseMode(s string) Mode {
	if Mode(s) == ModeAssisted {
		return ModeAssisted
	}
	return ModeAutonomous
}

// Question is immutable for the lifetime of a session.
type Question struct {
	ID                 string        `json:"id"`
	Text               string        `json:"text"`
	FollowUps          []string      `json:"followUps,omitempty"`
	EvaluationCriteria string        `json:"evaluationCriteria,omitempty"`
	TimeAllocation     time.Duration `json:"timeAllocation,omitempty"`
	IsRequired         bool          `json:"isRequired"`
	Category           string        `json:"category,omitempty"`
}

// Category groups questions; providers return categories in presentation order.
type Category struct {
	Name      string
	Questions []Question
}

// Flatten returns questions in category order then in-category order.
func Flatten(categories []Category) []Question {
	var out []Question
	for _, c := range categories {
		for _, q := range c.Questions {
			if q.Category == "" {
				q.Category = c.Name
			}
			out = append(out, q)
		}
	}
	return out
}

// Interview is the metadata and question list an engine runs against.
type Interview struct {
	ID            string
	CandidateName string
	JobTitle      string
	CompanyName   string
	Mode          Mode
	MaxDuration   time.Duration
	Language      string
	VoiceID       string
	Questions     []Question
}

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerAI        Speaker = "ai"
	SpeakerCandidate Speaker = "candidate"
)

// Turn is one entry in the append-only transcript.
type Turn struct {
	Index      int       `json:"index"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	QuestionID string    `json:"questionId,omitempty"`
}
