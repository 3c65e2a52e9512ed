package interview

import "time"

// EventType names an outbound event.
type EventType string

const (
	EventSessionReady       EventType = "session_ready"
	EventAISpeaking         EventType = "ai_speaking"
	EventAIListening        EventType = "ai_listening"
	EventAIThinking         EventType = "ai_thinking"
	EventTranscriptUpdate   EventType = "transcript_update"
	EventInterviewStarted   EventType = "interview_started"
	EventQuestionStarted    EventType = "question_started"
	EventQuestionCompleted  EventType = "question_completed"
	EventInterviewCompleted EventType = "interview_completed"
	EventError              EventType = "error"
	EventAudio              EventType = "audio"
)

// Error codes carried by engine-emitted error events.
const (
	CodeTranscriptionFailed = "transcription_failed"
	CodeSynthesisFailed     = "synthesis_failed"
)

// Event is one entry of the engine's ordered output stream. Seq increases by
// one per event; Audio is only set for EventAudio.
type Event struct {
	Seq   uint64
	Type  EventType
	Data  any
	Audio []byte
}

// UtteranceKind classifies what the AI is saying.
type UtteranceKind string

const (
	KindIntro    UtteranceKind = "intro"
	KindQuestion UtteranceKind = "question"
	KindFollowUp UtteranceKind = "follow_up"
	KindClosing  UtteranceKind = "closing"
)

type SpeakingData struct {
	Text       string        `json:"text"`
	Kind       UtteranceKind `json:"kind"`
	QuestionID string        `json:"questionId,omitempty"`
}

type StartedData struct {
	InterviewID    string `json:"interviewId"`
	CandidateName  string `json:"candidateName"`
	JobTitle       string `json:"jobTitle"`
	CompanyName    string `json:"companyName,omitempty"`
	Mode           Mode   `json:"mode"`
	TotalQuestions int    `json:"totalQuestions"`
}

type QuestionData struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	Category   string `json:"category,omitempty"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
}

type QuestionCompletedData struct {
	QuestionID string `json:"questionId"`
	Index      int    `json:"index"`
}

// CompletedData is the payload of interview_completed.
type CompletedData struct {
	Transcript      []Turn   `json:"transcript"`
	QuestionsAsked  []string `json:"questionsAsked"`
	DurationMinutes int      `json:"durationMinutes"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AudioData struct {
	Text string `json:"text"`
}

// Snapshot is a consistent copy of engine state. Seq is the sequence number of
// the last event emitted before the copy was taken.
type Snapshot struct {
	Seq            uint64     `json:"-"`
	InterviewID    string     `json:"interviewId"`
	CandidateName  string     `json:"candidateName"`
	JobTitle       string     `json:"jobTitle"`
	CompanyName    string     `json:"companyName,omitempty"`
	Mode           Mode       `json:"mode"`
	Status         Status     `json:"status"`
	QuestionIndex  int        `json:"currentQuestionIndex"`
	FollowUpIndex  int        `json:"currentFollowUpIndex"`
	TotalQuestions int        `json:"totalQuestions"`
	QuestionsAsked []string   `json:"questionsAsked"`
	Transcript     []Turn     `json:"transcript"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
}
