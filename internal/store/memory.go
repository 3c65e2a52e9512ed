package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

// Memory is an in-process store used for local runs and tests.
type Memory struct {
	mu         sync.Mutex
	interviews map[string]interview.Interview
	sessions   map[string]*Session // by token
	turns      map[string]map[int]interview.Turn
	finals     map[string]Completion
}

func NewMemory() *Memory {
	return &Memory{
		interviews: make(map[string]interview.Interview),
		sessions:   make(map[string]*Session),
		turns:      make(map[string]map[int]interview.Turn),
		finals:     make(map[string]Completion),
	}
}

// PutInterview registers or replaces an interview definition.
func (m *Memory) PutInterview(iv interview.Interview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interviews[iv.ID] = iv
}

// PutSession registers a session. A blank State means PENDING.
func (m *Memory) PutSession(s Session) {
	if s.State == "" {
		s.State = StatePending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = &s
}

func (m *Memory) LoadSession(_ context.Context, token string) (Session, interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return Session{}, interview.Interview{}, ErrNotFound
	}
	iv, ok := m.interviews[s.InterviewID]
	if !ok {
		return Session{}, interview.Interview{}, ErrNotFound
	}
	iv.Questions = append([]interview.Question(nil), iv.Questions...)
	return *s, iv, nil
}

func (m *Memory) SetState(_ context.Context, token string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return ErrNotFound
	}
	if s.State != StateCompleted {
		s.State = state
	}
	return nil
}

func (m *Memory) AppendTurns(_ context.Context, sessionID string, turns []interview.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.turns[sessionID]
	if !ok {
		stored = make(map[int]interview.Turn)
		m.turns[sessionID] = stored
	}
	for _, t := range turns {
		if _, dup := stored[t.Index]; !dup {
			stored[t.Index] = t
		}
	}
	return nil
}

func (m *Memory) SaveFinal(_ context.Context, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.finals[c.SessionID]; !done {
		m.finals[c.SessionID] = c
	}
	return nil
}

func (m *Memory) Transcript(_ context.Context, token string) (TranscriptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return TranscriptRecord{}, ErrNotFound
	}
	rec := TranscriptRecord{SessionID: s.ID, InterviewID: s.InterviewID, State: s.State}
	if c, ok := m.finals[s.ID]; ok {
		completedAt := c.CompletedAt
		rec.Final = true
		rec.Turns = append([]interview.Turn(nil), c.Transcript...)
		rec.QuestionsAsked = append([]string(nil), c.QuestionsAsked...)
		rec.DurationMinutes = c.DurationMinutes
		rec.CompletedAt = &completedAt
		return rec, nil
	}
	for _, t := range m.turns[s.ID] {
		rec.Turns = append(rec.Turns, t)
	}
	sort.Slice(rec.Turns, func(i, j int) bool { return rec.Turns[i].Index < rec.Turns[j].Index })
	return rec, nil
}
