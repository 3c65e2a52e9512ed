package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

type fixtureFile struct {
	Interviews []fixtureInterview `yaml:"interviews"`
	Sessions   []fixtureSession   `yaml:"sessions"`
}

type fixtureInterview struct {
	ID                 string            `yaml:"id"`
	CandidateName      string            `yaml:"candidateName"`
	JobTitle           string            `yaml:"jobTitle"`
	CompanyName        string            `yaml:"companyName"`
	Mode               string            `yaml:"mode"`
	MaxDurationMinutes int               `yaml:"maxDurationMinutes"`
	Language           string            `yaml:"language"`
	VoiceID            string            `yaml:"voiceId"`
	Categories         []fixtureCategory `yaml:"categories"`
}

type fixtureCategory struct {
	Name      string            `yaml:"name"`
	Questions []fixtureQuestion `yaml:"questions"`
}

type fixtureQuestion struct {
	ID                    string   `yaml:"id"`
	Text                  string   `yaml:"text"`
	FollowUps             []string `yaml:"followUps"`
	EvaluationCriteria    string   `yaml:"evaluationCriteria"`
	TimeAllocationMinutes int      `yaml:"timeAllocationMinutes"`
	IsRequired            *bool    `yaml:"isRequired"`
}

type fixtureSession struct {
	ID          string     `yaml:"id"`
	Token       string     `yaml:"token"`
	InterviewID string     `yaml:"interviewId"`
	ExpiresAt   *time.Time `yaml:"expiresAt"`
	State       string     `yaml:"state"`
}

// LoadFixtureFile seeds a memory store from a YAML file.
func LoadFixtureFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return LoadFixture(f)
}

// LoadFixture seeds a memory store from YAML describing interviews and the
// sessions that run them.
func LoadFixture(r io.Reader) (*Memory, error) {
	var doc fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	m := NewMemory()
	for i, fi := range doc.Interviews {
		if fi.ID == "" {
			return nil, fmt.Errorf("fixture: interview %d has no id", i)
		}
		if _, dup := m.interviews[fi.ID]; dup {
			return nil, fmt.Errorf("fixture: duplicate interview %q", fi.ID)
		}
		iv := interview.Interview{
			ID:            fi.ID,
			CandidateName: fi.CandidateName,
			JobTitle:      fi.JobTitle,
			CompanyName:   fi.CompanyName,
			Mode:          interview.ParseMode(fi.Mode),
			MaxDuration:   time.Duration(fi.MaxDurationMinutes) * time.Minute,
			Language:      fi.Language,
			VoiceID:       fi.VoiceID,
		}
		categories := make([]interview.Category, 0, len(fi.Categories))
		for ci, fc := range fi.Categories {
			c := interview.Category{Name: fc.Name}
			for qi, fq := range fc.Questions {
				if fq.Text == "" {
					return nil, fmt.Errorf("fixture: interview %q question %d.%d has no text", fi.ID, ci, qi)
				}
				q := interview.Question{
					ID:                 fq.ID,
					Text:               fq.Text,
					FollowUps:          fq.FollowUps,
					EvaluationCriteria: fq.EvaluationCriteria,
					TimeAllocation:     time.Duration(fq.TimeAllocationMinutes) * time.Minute,
					IsRequired:         fq.IsRequired == nil || *fq.IsRequired,
				}
				if q.ID == "" {
					q.ID = fmt.Sprintf("%s-q%d-%d", fi.ID, ci+1, qi+1)
				}
				c.Questions = append(c.Questions, q)
			}
			categories = append(categories, c)
		}
		iv.Questions = interview.Flatten(categories)
		m.interviews[iv.ID] = iv
	}

	for i, fs := range doc.Sessions {
		if fs.Token == "" {
			return nil, fmt.Errorf("fixture: session %d has no token", i)
		}
		if _, ok := m.interviews[fs.InterviewID]; !ok {
			return nil, fmt.Errorf("fixture: session %q references unknown interview %q", fs.Token, fs.InterviewID)
		}
		if _, dup := m.sessions[fs.Token]; dup {
			return nil, fmt.Errorf("fixture: duplicate session token %q", fs.Token)
		}
		s := Session{ID: fs.ID, Token: fs.Token, InterviewID: fs.InterviewID, State: State(fs.State)}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if fs.ExpiresAt != nil {
			s.ExpiresAt = *fs.ExpiresAt
		}
		switch s.State {
		case "":
			s.State = StatePending
		case StatePending, StateInProgress, StateCompleted:
		default:
			return nil, fmt.Errorf("fixture: session %q has unknown state %q", fs.Token, fs.State)
		}
		m.sessions[s.Token] = &s
	}
	return m, nil
}
