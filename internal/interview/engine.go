package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("interview: already started")
	ErrCompleted      = errors.New("interview: session completed")
	ErrTranscription  = errors.New("interview: transcription failed")
	ErrSynthesis      = errors.New("interview: synthesis failed")
	ErrOracle         = errors.New("interview: oracle failed")
)

// Command is a manager instruction that bypasses response analysis.
type Command string

const (
	CommandNextQuestion Command = "next_question"
	CommandEndInterview Command = "end_interview"
)

// Config tunes an engine. Zero values fall back to defaults.
type Config struct {
	AudioFlushBytes      int
	ShortAnswerWords     int
	OracleTimeout        time.Duration
	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	// EndFlushTimeout bounds how long End waits for an in-flight transcription.
	EndFlushTimeout time.Duration
	DefaultLanguage string
	DefaultVoiceID  string
}

func (c Config) withDefaults() Config {
	if c.AudioFlushBytes <= 0 {
		c.AudioFlushBytes = 96000 // ~3s of 16kHz PCM16
	}
	if c.ShortAnswerWords <= 0 {
		c.ShortAnswerWords = 20
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 10 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 20 * time.Second
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = 30 * time.Second
	}
	if c.EndFlushTimeout <= 0 {
		c.EndFlushTimeout = 15 * time.Second
	}
	return c
}

// Dependencies are the engine's collaborators. Oracle may be nil, in which
// case only the short-answer heuristic requests follow-ups.
type Dependencies struct {
	Transcriber Transcriber
	Synthesizer Synthesizer
	Oracle      Oracle
	Logger      *slog.Logger
	Now         func() time.Time
}

type engineState struct {
	status         Status
	questionIndex  int
	followUpIndex  int
	questionsAsked []string
	transcript     []Turn
	startTime      time.Time
	lastActivity   time.Time
}

// Engine runs one interview. All output is published, in order, on Events.
//
// turnMu serializes actions that change progress (start, analysis, commands,
// end). mu guards state and the outbox and is never held across a call to a
// speech service or the oracle.
type Engine struct {
	iv    Interview
	cfg   Config
	deps  Dependencies
	log   *slog.Logger
	audio *AudioBuffer

	ctx    context.Context
	cancel context.CancelFunc

	turnMu sync.Mutex

	mu     sync.Mutex
	state  engineState
	ending bool
	seq    uint64
	outbox []Event

	wake   chan struct{}
	events chan Event
}

// New constructs an engine and starts its event pump. Call Close to stop it.
func New(iv Interview, deps Dependencies, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		iv:     iv,
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger.With("interview_id", iv.ID),
		audio:  NewAudioBuffer(cfg.AudioFlushBytes),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		events: make(chan Event, 64),
	}
	go e.pump()
	return e
}

// Events is the engine's single ordered output stream. It is closed after Close.
func (e *Engine) Events() <-chan Event { return e.events }

// Close stops the event pump and cancels background transcription.
func (e *Engine) Close() { e.cancel() }

func (e *Engine) pump() {
	defer close(e.events)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}
		e.mu.Lock()
		batch := e.outbox
		e.outbox = nil
		e.mu.Unlock()
		for _, ev := range batch {
			select {
			case e.events <- ev:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) emitLocked(typ EventType, data any) {
	e.seq++
	e.outbox = append(e.outbox, Event{Seq: e.seq, Type: typ, Data: data})
	e.signal()
}

func (e *Engine) emitAudioLocked(text string, audio []byte) {
	e.seq++
	e.outbox = append(e.outbox, Event{Seq: e.seq, Type: EventAudio, Data: AudioData{Text: text}, Audio: audio})
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) transitionLocked(in Input) error {
	next, err := e.state.status.Next(in)
	if err != nil {
		return err
	}
	if next != e.state.status {
		e.log.Debug("interview: transition", "from", e.state.status, "to", next, "input", in)
	}
	e.state.status = next
	return nil
}

func (e *Engine) appendTurnLocked(speaker Speaker, text, questionID string) Turn {
	t := Turn{
		Index:      len(e.state.transcript),
		Speaker:    speaker,
		Text:       text,
		Timestamp:  e.deps.Now(),
		QuestionID: questionID,
	}
	e.state.transcript = append(e.state.transcript, t)
	e.emitLocked(EventTranscriptUpdate, t)
	return t
}

// Snapshot returns a consistent copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		Seq:            e.seq,
		InterviewID:    e.iv.ID,
		CandidateName:  e.iv.CandidateName,
		JobTitle:       e.iv.JobTitle,
		CompanyName:    e.iv.CompanyName,
		Mode:           e.iv.Mode,
		Status:         e.state.status,
		QuestionIndex:  e.state.questionIndex,
		FollowUpIndex:  e.state.followUpIndex,
		TotalQuestions: len(e.iv.Questions),
		QuestionsAsked: append([]string{}, e.state.questionsAsked...),
		Transcript:     append([]Turn{}, e.state.transcript...),
	}
	if !e.state.startTime.IsZero() {
		st := e.state.startTime
		s.StartedAt = &st
	}
	return s
}

// Status returns the current stage.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.status
}

// Start introduces the interview and asks the first question.
func (e *Engine) Start(ctx context.Context) error {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	e.mu.Lock()
	if e.ending {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	if err := e.transitionLocked(InputStart); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, e.state.status)
	}
	now := e.deps.Now()
	e.state.startTime = now
	e.state.lastActivity = now
	e.emitLocked(EventInterviewStarted, StartedData{
		InterviewID:    e.iv.ID,
		CandidateName:  e.iv.CandidateName,
		JobTitle:       e.iv.JobTitle,
		CompanyName:    e.iv.CompanyName,
		Mode:           e.iv.Mode,
		TotalQuestions: len(e.iv.Questions),
	})
	e.mu.Unlock()

	e.speak(ctx, utterance{kind: KindIntro, text: introText(e.iv)})

	e.mu.Lock()
	if len(e.iv.Questions) == 0 {
		_ = e.transitionLocked(InputExhausted)
		e.mu.Unlock()
		e.finish(ctx)
		return nil
	}
	_ = e.transitionLocked(InputIntroQueued)
	u := e.askLocked(0)
	e.mu.Unlock()
	e.speak(ctx, u)
	return nil
}

// Accept buffers a decoded audio fragment and starts a transcription when a
// batch is ready. It never waits for transcription.
func (e *Engine) Accept(fragment []byte) error {
	e.mu.Lock()
	if e.state.status == StatusCompleted {
		e.mu.Unlock()
		return ErrCompleted
	}
	e.state.lastActivity = e.deps.Now()
	e.mu.Unlock()

	if batch, ok := e.audio.Append(fragment); ok {
		go e.transcribe(e.ctx, batch)
	}
	return nil
}

// Command applies a manager command.
func (e *Engine) Command(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandEndInterview:
		return e.End(ctx)
	case CommandNextQuestion:
		e.turnMu.Lock()
		defer e.turnMu.Unlock()
		e.mu.Lock()
		if e.ending {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s while ending", ErrInvalidTransition, cmd)
		}
		if e.state.status != StatusQuestioning {
			st := e.state.status
			e.mu.Unlock()
			return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, cmd, st)
		}
		e.mu.Unlock()
		e.advance(ctx)
		return nil
	default:
		return fmt.Errorf("interview: unknown command %q", cmd)
	}
}

// End transcribes any remaining audio, speaks the closing and completes the
// interview. Calling it on a completed interview is a no-op.
func (e *Engine) End(ctx context.Context) error {
	e.mu.Lock()
	if e.state.status == StatusCompleted {
		e.mu.Unlock()
		return nil
	}
	e.ending = true
	e.mu.Unlock()

	e.drainAudio(ctx)

	e.turnMu.Lock()
	defer e.turnMu.Unlock()
	e.mu.Lock()
	if e.state.status == StatusCompleted {
		e.mu.Unlock()
		return nil
	}
	if err := e.transitionLocked(InputEnd); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()
	e.finish(ctx)
	return nil
}

func (e *Engine) drainAudio(ctx context.Context) {
	timer := time.NewTimer(e.cfg.EndFlushTimeout)
	defer timer.Stop()
	select {
	case <-e.audio.Idle():
	case <-timer.C:
		e.log.Warn("interview: in-flight transcription still running at end")
		return
	case <-ctx.Done():
		return
	}
	if batch, ok := e.audio.Flush(); ok {
		e.transcribe(ctx, batch)
	}
}

// transcribe owns the buffer's in-flight slot until Release hands back nothing.
func (e *Engine) transcribe(ctx context.Context, batch []byte) {
	for {
		e.handleBatch(ctx, batch)
		next, ok := e.audio.Release()
		if !ok {
			return
		}
		batch = next
	}
}

func (e *Engine) handleBatch(ctx context.Context, batch []byte) {
	e.mu.Lock()
	hints := e.hintsLocked()
	e.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TranscriptionTimeout)
	text, err := e.deps.Transcriber.Transcribe(tctx, batch, hints)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTranscription, err)
		e.log.Warn("interview: transcription failed", "bytes", len(batch), "error", err)
		e.mu.Lock()
		e.emitLocked(EventError, ErrorData{Code: CodeTranscriptionFailed, Message: err.Error()})
		e.mu.Unlock()
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e.mu.Lock()
	if e.state.status == StatusCompleted {
		e.mu.Unlock()
		e.log.Warn("interview: dropping transcript that arrived after completion", "chars", len(text))
		return
	}
	e.appendTurnLocked(SpeakerCandidate, text, e.openQuestionIDLocked())
	analyze := e.iv.Mode == ModeAutonomous && !e.ending && e.state.status == StatusQuestioning
	at := cursor{question: e.state.questionIndex, followUp: e.state.followUpIndex}
	e.mu.Unlock()

	if analyze {
		e.analyze(ctx, text, at)
	}
}

type cursor struct{ question, followUp int }

// analyze runs the response-analysis protocol for an answer given at cursor at.
// Answers overtaken by a newer question or follow-up are not analyzed again.
func (e *Engine) analyze(ctx context.Context, response string, at cursor) {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	e.mu.Lock()
	if e.state.status != StatusQuestioning || e.ending ||
		e.state.questionIndex != at.question || e.state.followUpIndex != at.followUp {
		e.mu.Unlock()
		return
	}
	q := e.iv.Questions[e.state.questionIndex]
	e.emitLocked(EventAIThinking, nil)
	e.mu.Unlock()

	if at.followUp < len(q.FollowUps) && e.needsFollowUp(ctx, q, response) {
		e.mu.Lock()
		_ = e.transitionLocked(InputFollowUp)
		e.state.followUpIndex++
		e.mu.Unlock()
		e.speak(ctx, utterance{kind: KindFollowUp, text: q.FollowUps[at.followUp], questionID: q.ID, awaitsReply: true})
		return
	}
	e.advance(ctx)
}

func (e *Engine) needsFollowUp(ctx context.Context, q Question, response string) bool {
	if wordCount(response) < e.cfg.ShortAnswerWords {
		return true
	}
	if e.deps.Oracle == nil {
		return false
	}
	octx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()
	need, err := e.deps.Oracle.NeedsFollowUp(octx, q.Text, q.EvaluationCriteria, response)
	if err != nil {
		e.log.Warn("interview: oracle unavailable, continuing", "question_id", q.ID, "error", fmt.Errorf("%w: %v", ErrOracle, err))
		return false
	}
	return need
}

// advance completes the open question and asks the next one or closes.
// Callers hold turnMu.
func (e *Engine) advance(ctx context.Context) {
	e.mu.Lock()
	if e.state.status != StatusQuestioning {
		e.mu.Unlock()
		return
	}
	cur := e.state.questionIndex
	e.emitLocked(EventQuestionCompleted, QuestionCompletedData{QuestionID: e.iv.Questions[cur].ID, Index: cur})
	next := cur + 1
	if next >= len(e.iv.Questions) || e.timeUpLocked() {
		_ = e.transitionLocked(InputExhausted)
		e.mu.Unlock()
		e.finish(ctx)
		return
	}
	_ = e.transitionLocked(InputAdvance)
	u := e.askLocked(next)
	e.mu.Unlock()
	e.speak(ctx, u)
}

func (e *Engine) askLocked(idx int) utterance {
	q := e.iv.Questions[idx]
	e.state.questionIndex = idx
	e.state.followUpIndex = 0
	e.state.questionsAsked = append(e.state.questionsAsked, q.ID)
	return utterance{kind: KindQuestion, text: q.Text, questionID: q.ID, index: idx, awaitsReply: true}
}

func (e *Engine) timeUpLocked() bool {
	if e.iv.MaxDuration <= 0 || e.state.startTime.IsZero() {
		return false
	}
	return e.deps.Now().Sub(e.state.startTime) >= e.iv.MaxDuration
}

// finish speaks the closing and completes. The status must already be CLOSING.
func (e *Engine) finish(ctx context.Context) {
	e.speak(ctx, utterance{kind: KindClosing, text: closingText(e.iv)})

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(InputClosingQueued); err != nil {
		e.log.Error("interview: cannot complete", "error", err)
		return
	}
	now := e.deps.Now()
	if e.state.startTime.IsZero() {
		e.state.startTime = now
	}
	e.emitLocked(EventInterviewCompleted, CompletedData{
		Transcript:      append([]Turn{}, e.state.transcript...),
		QuestionsAsked:  append([]string{}, e.state.questionsAsked...),
		DurationMinutes: int(math.Round(now.Sub(e.state.startTime).Minutes())),
	})
	e.log.Info("interview: completed", "questions_asked", len(e.state.questionsAsked), "turns", len(e.state.transcript))
}

type utterance struct {
	kind        UtteranceKind
	text        string
	questionID  string
	index       int
	awaitsReply bool
}

// speak records the utterance, announces it and delivers synthesized audio.
// The transcript entry stands even when synthesis fails.
func (e *Engine) speak(ctx context.Context, u utterance) {
	e.mu.Lock()
	e.appendTurnLocked(SpeakerAI, u.text, u.questionID)
	if u.kind == KindQuestion {
		e.emitLocked(EventQuestionStarted, QuestionData{
			QuestionID: u.questionID,
			Text:       u.text,
			Category:   e.iv.Questions[u.index].Category,
			Index:      u.index,
			Total:      len(e.iv.Questions),
		})
	}
	e.emitLocked(EventAISpeaking, SpeakingData{Text: u.text, Kind: u.kind, QuestionID: u.questionID})
	e.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SynthesisTimeout)
	audio, err := e.deps.Synthesizer.Synthesize(sctx, u.text, e.voiceID())
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSynthesis, err)
		e.log.Warn("interview: synthesis failed", "kind", u.kind, "error", err)
		e.emitLocked(EventError, ErrorData{Code: CodeSynthesisFailed, Message: err.Error()})
	} else {
		e.emitAudioLocked(u.text, audio)
	}
	if u.awaitsReply {
		e.emitLocked(EventAIListening, nil)
	}
}

func (e *Engine) voiceID() string {
	if e.iv.VoiceID != "" {
		return e.iv.VoiceID
	}
	return e.cfg.DefaultVoiceID
}

func (e *Engine) openQuestionIDLocked() string {
	if e.state.status != StatusQuestioning || e.state.questionIndex >= len(e.iv.Questions) {
		return ""
	}
	return e.iv.Questions[e.state.questionIndex].ID
}

func (e *Engine) hintsLocked() Hints {
	h := Hints{Language: e.iv.Language}
	if h.Language == "" {
		h.Language = e.cfg.DefaultLanguage
	}
	if e.state.status == StatusQuestioning && e.state.questionIndex < len(e.iv.Questions) {
		h.Prompt = e.iv.Questions[e.state.questionIndex].Text
	}
	for _, term := range []string{e.iv.JobTitle, e.iv.CompanyName} {
		if term != "" {
			h.Keyterms = append(h.Keyterms, term)
		}
	}
	return h
}

func wordCount(s string) int { return len(strings.Fields(s)) }
