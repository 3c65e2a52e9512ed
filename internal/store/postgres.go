package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is the durable store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// LoadSession resolves a token to its session and the interview it runs.
func (s *Postgres) LoadSession(ctx context.Context, token string) (Session, interview.Interview, error) {
	var (
		sess       Session
		iv         interview.Interview
		expiresAt  *time.Time
		state      string
		mode       string
		maxMinutes int
	)
	err := s.pool.QueryRow(ctx, `
		SELECT s.id::text, s.token, s.interview_id::text, s.expires_at, s.lifecycle_state,
		       i.candidate_name, i.job_title, i.company_name, i.mode, i.max_duration_minutes,
		       i.language, i.voice_id
		FROM interview_sessions s
		JOIN interviews i ON i.id = s.interview_id
		WHERE s.token = $1`, token,
	).Scan(&sess.ID, &sess.Token, &sess.InterviewID, &expiresAt, &state,
		&iv.CandidateName, &iv.JobTitle, &iv.CompanyName, &mode, &maxMinutes,
		&iv.Language, &iv.VoiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, interview.Interview{}, ErrNotFound
	}
	if err != nil {
		return Session{}, interview.Interview{}, fmt.Errorf("load session: %w", err)
	}
	if expiresAt != nil {
		sess.ExpiresAt = *expiresAt
	}
	sess.State = State(state)
	iv.ID = sess.InterviewID
	iv.Mode = interview.ParseMode(mode)
	iv.MaxDuration = time.Duration(maxMinutes) * time.Minute

	categories, err := s.loadCategories(ctx, sess.InterviewID)
	if err != nil {
		return Session{}, interview.Interview{}, err
	}
	iv.Questions = interview.Flatten(categories)
	return sess, iv, nil
}

func (s *Postgres) loadCategories(ctx context.Context, interviewID string) ([]interview.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, c.name, q.id::text, q.text, q.follow_ups, q.evaluation_criteria,
		       q.time_allocation_minutes, q.is_required
		FROM question_categories c
		JOIN questions q ON q.category_id = c.id
		WHERE c.interview_id = $1
		ORDER BY c.position, q.position`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var (
		categories []interview.Category
		lastID     string
	)
	for rows.Next() {
		var (
			catID, catName string
			q              interview.Question
			minutes        int
		)
		if err := rows.Scan(&catID, &catName, &q.ID, &q.Text, &q.FollowUps, &q.EvaluationCriteria, &minutes, &q.IsRequired); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.TimeAllocation = time.Duration(minutes) * time.Minute
		if catID != lastID {
			categories = append(categories, interview.Category{Name: catName})
			lastID = catID
		}
		last := &categories[len(categories)-1]
		last.Questions = append(last.Questions, q)
	}
	return categories, rows.Err()
}

// SetState records a lifecycle change, stamping start and completion times.
// A COMPLETED session keeps its state.
func (s *Postgres) SetState(ctx context.Context, token string, state State) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interview_sessions
		SET lifecycle_state = $2::text,
		    started_at = CASE WHEN $2::text = 'IN_PROGRESS' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $2::text = 'COMPLETED' THEN now() ELSE completed_at END
		WHERE token = $1 AND lifecycle_state <> 'COMPLETED'`, token, string(state))
	if err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM interview_sessions WHERE token = $1)`, token).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// AppendTurns inserts transcript turns. Turns already stored under the same
// index are skipped, so a retried batch is harmless.
func (s *Postgres) AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`
			INSERT INTO transcript_turns (id, session_id, seq, speaker, text, question_id, spoken_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, seq) DO NOTHING`,
			uuid.New(), sessionID, t.Index, string(t.Speaker), t.Text, t.QuestionID, t.Timestamp)
	}
	br := s.pool.SendBatch(ctx, batch)
	for range turns {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert turns: %w", err)
	}
	slog.Debug("store: inserted turns", "session_id", sessionID, "count", len(turns))
	return nil
}

// SaveFinal stores the compiled transcript once; later calls are no-ops.
func (s *Postgres) SaveFinal(ctx context.Context, c Completion) error {
	transcript, err := json.Marshal(c.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	asked, err := json.Marshal(c.QuestionsAsked)
	if err != nil {
		return fmt.Errorf("marshal questions asked: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO final_transcripts (session_id, transcript, questions_asked, duration_minutes, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`,
		c.SessionID, transcript, asked, c.DurationMinutes, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert final transcript: %w", err)
	}
	return nil
}

// Transcript returns the final transcript when one exists, otherwise the turns
// persisted so far.
func (s *Postgres) Transcript(ctx context.Context, token string) (TranscriptRecord, error) {
	var (
		rec   TranscriptRecord
		state string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, interview_id::text, lifecycle_state FROM interview_sessions WHERE token = $1`, token,
	).Scan(&rec.SessionID, &rec.InterviewID, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return TranscriptRecord{}, ErrNotFound
	}
	if err != nil {
		return TranscriptRecord{}, fmt.Errorf("load session: %w", err)
	}
	rec.State = State(state)

	var (
		transcript, asked []byte
		completedAt       time.Time
	)
	err = s.pool.QueryRow(ctx, `
		SELECT transcript, questions_asked, duration_minutes, completed_at
		FROM final_transcripts WHERE session_id = $1`, rec.SessionID,
	).Scan(&transcript, &asked, &rec.DurationMinutes, &completedAt)
	switch {
	case err == nil:
		if err := json.Unmarshal(transcript, &rec.Turns); err != nil {
			return TranscriptRecord{}, fmt.Errorf("decode final transcript: %w", err)
		}
		if err := json.Unmarshal(asked, &rec.QuestionsAsked); err != nil {
			return TranscriptRecord{}, fmt.Errorf("decode questions asked: %w", err)
		}
		rec.Final = true
		rec.CompletedAt = &completedAt
		return rec, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return TranscriptRecord{}, fmt.Errorf("load final transcript: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, speaker, text, question_id, spoken_at
		FROM transcript_turns WHERE session_id = $1 ORDER BY seq`, rec.SessionID)
	if err != nil {
		return TranscriptRecord{}, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t       interview.Turn
			speaker string
		)
		if err := rows.Scan(&t.Index, &speaker, &t.Text, &t.QuestionID, &t.Timestamp); err != nil {
			return TranscriptRecord{}, fmt.Errorf("scan turn: %w", err)
		}
		t.Speaker = interview.Speaker(speaker)
		rec.Turns = append(rec.Turns, t)
	}
	return rec, rows.Err()
}
