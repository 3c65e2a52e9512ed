package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

// Archive writes each completed transcript as a JSON object at
// transcripts/<interviewId>/<sessionId>.json.
type Archive struct {
	up Uploader
}

func NewArchive(up Uploader) *Archive {
	return &Archive{up: up}
}

func Key(c store.Completion) string {
	interviewID := c.InterviewID
	if interviewID == "" {
		interviewID = "unknown"
	}
	return path.Join("transcripts", interviewID, c.SessionID+".json")
}

// Completed implements the recorder's completion sink.
func (a *Archive) Completed(ctx context.Context, c store.Completion) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := a.up.Upload(ctx, Key(c), "application/json", data); err != nil {
		return fmt.Errorf("archive transcript %s: %w", c.SessionID, err)
	}
	return nil
}
