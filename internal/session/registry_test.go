package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/protocol"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []protocol.Frame
	closed bool
	fail   bool
}

func (c *fakeConn) Send(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.frames...)
}

func (c *fakeConn) count(typ interview.EventType) int {
	n := 0
	for _, f := range c.snapshot() {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) errorCodes() []string {
	var codes []string
	for _, f := range c.snapshot() {
		if d, ok := f.Data.(interview.ErrorData); ok && f.Type == interview.EventError {
			codes = append(codes, d.Code)
		}
	}
	return codes
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeRecorder struct {
	mu     sync.Mutex
	turns  map[string][]interview.Turn
	finals []store.Completion
}

func (r *fakeRecorder) AppendTurn(_ context.Context, sessionID string, t interview.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns == nil {
		r.turns = make(map[string][]interview.Turn)
	}
	r.turns[sessionID] = append(r.turns[sessionID], t)
}

func (r *fakeRecorder) Finalize(_ context.Context, _ string, c store.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, c)
	return nil
}

func (r *fakeRecorder) turnCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns[sessionID])
}

func (r *fakeRecorder) finalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals)
}

type stubSynth struct{}

func (stubSynth) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte{0, 0}, nil
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, []byte, interview.Hints) (string, error) {
	return s.text, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func questions(n int) []interview.Question {
	qs := make([]interview.Question, n)
	for i := range qs {
		qs[i] = interview.Question{ID: "q" + string(rune('a'+i)), Text: "question " + string(rune('a'+i))}
	}
	return qs
}

type harness struct {
	reg *Registry
	mem *store.Memory
	rec *fakeRecorder
}

func newHarness(t *testing.T, mode interview.Mode, nq int, cfg Config) *harness {
	t.Helper()
	mem := store.NewMemory()
	mem.PutInterview(interview.Interview{
		ID:            "iv-1",
		CandidateName: "Ada",
		JobTitle:      "Engineer",
		Mode:          mode,
		Questions:     questions(nq),
	})
	mem.PutSession(store.Session{ID: "sess-1", Token: "tok-1", InterviewID: "iv-1"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &fakeRecorder{}
	reg := NewRegistry(Dependencies{
		Provider:  mem,
		Lifecycle: mem,
		Recorder:  rec,
		NewEngine: func(iv interview.Interview) *interview.Engine {
			return interview.New(iv, interview.Dependencies{
				Transcriber: stubTranscriber{text: strings.Repeat("word ", 25)},
				Synthesizer: stubSynth{},
				Logger:      logger,
			}, interview.Config{AudioFlushBytes: 4})
		},
		Logger: logger,
	}, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &harness{reg: reg, mem: mem, rec: rec}
}

func (h *harness) connect(t *testing.T, role Role) (*Binding, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	b, err := h.reg.Connect(context.Background(), "tok-1", role, c)
	if err != nil {
		t.Fatalf("Connect(%s): %v", role, err)
	}
	return b, c
}

func (h *harness) send(b *Binding, raw string) {
	h.reg.Dispatch(context.Background(), b, []byte(raw))
}

func TestConnect_RejectsBadTokens(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	h.mem.PutSession(store.Session{ID: "s-exp", Token: "expired", InterviewID: "iv-1", ExpiresAt: time.Now().Add(-time.Minute)})
	h.mem.PutSession(store.Session{ID: "s-done", Token: "done", InterviewID: "iv-1", State: store.StateCompleted})

	cases := []struct {
		token string
		want  error
	}{
		{"missing", ErrInvalidToken},
		{"expired", ErrExpired},
		{"done", ErrAlreadyCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			_, err := h.reg.Connect(context.Background(), tc.token, RoleCandidate, &fakeConn{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if h.reg.Engine(tc.token) != nil {
				t.Fatalf("hub created for rejected token")
			}
		})
	}
	if st := h.reg.Stats(); st.Sessions != 0 {
		t.Fatalf("expected no live sessions, got %d", st.Sessions)
	}
}

func TestConnect_SessionReadyFirst(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 2, Config{})
	_, c := h.connect(t, RoleCandidate)
	frames := c.snapshot()
	if len(frames) != 1 || frames[0].Type != interview.EventSessionReady {
		t.Fatalf("expected a single session_ready, got %+v", frames)
	}
	snap := frames[0].Data.(interview.Snapshot)
	if snap.Status != interview.StatusNotStarted || snap.TotalQuestions != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestReconnectWithinGraceReattaches(t *testing.T) {
	h := newHarness(t, interview.ModeAssisted, 3, Config{GracePeriod: time.Minute})
	b, c := h.connect(t, RoleCandidate)
	h.send(b, `{"type":"candidate_ready"}`)
	waitFor(t, "first question", func() bool { return c.count(interview.EventAIListening) == 1 })

	before := h.reg.Engine("tok-1")
	h.reg.Disconnect(b)

	_, c2 := h.connect(t, RoleCandidate)
	if got := h.reg.Engine("tok-1"); got != before {
		t.Fatalf("reconnect produced a different engine")
	}
	snap := c2.snapshot()[0].Data.(interview.Snapshot)
	if snap.Status != interview.StatusQuestioning || snap.QuestionIndex != 0 {
		t.Fatalf("unexpected cursor after reconnect %+v", snap)
	}
	if len(snap.Transcript) != 2 {
		t.Fatalf("expected intro and first question in transcript, got %d turns", len(snap.Transcript))
	}
}

func TestReconnectClosesStaleCandidate(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	_, stale := h.connect(t, RoleCandidate)
	_, fresh := h.connect(t, RoleCandidate)
	if !stale.isClosed() {
		t.Fatalf("stale candidate connection left open")
	}
	if fresh.isClosed() {
		t.Fatalf("fresh connection closed")
	}
}

func TestGraceExpiryDiscardsHub(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{GracePeriod: 20 * time.Millisecond})
	b, _ := h.connect(t, RoleCandidate)
	_, obs := h.connect(t, RoleObserver)
	h.reg.Disconnect(b)
	waitFor(t, "hub removal", func() bool { return h.reg.Engine("tok-1") == nil })
	waitFor(t, "observer close", obs.isClosed)
}

func TestObserverJoiningLateGetsSnapshotBeforeLiveEvents(t *testing.T) {
	h := newHarness(t, interview.ModeAssisted, 5, Config{})
	cand, c := h.connect(t, RoleCandidate)
	obs1, _ := h.connect(t, RoleObserver)

	h.send(cand, `{"type":"candidate_ready"}`)
	waitFor(t, "first question", func() bool { return c.count(interview.EventAIListening) == 1 })
	for i := 0; i < 3; i++ {
		h.send(obs1, `{"type":"manager_command","command":"next_question"}`)
		want := i + 2
		waitFor(t, "next question", func() bool { return c.count(interview.EventAIListening) == want })
	}

	_, late := h.connect(t, RoleObserver)
	frames := late.snapshot()
	if len(frames) == 0 || frames[0].Type != interview.EventSessionReady {
		t.Fatalf("first frame must be session_ready, got %+v", frames)
	}
	snap := frames[0].Data.(interview.Snapshot)
	if len(snap.QuestionsAsked) != 4 || len(snap.Transcript) != 5 {
		t.Fatalf("snapshot missing earlier progress: asked=%d turns=%d", len(snap.QuestionsAsked), len(snap.Transcript))
	}

	h.send(obs1, `{"type":"manager_command","command":"next_question"}`)
	waitFor(t, "live question", func() bool { return late.count(interview.EventQuestionStarted) == 1 })

	for _, f := range late.snapshot()[1:] {
		switch d := f.Data.(type) {
		case interview.Turn:
			if d.Index < len(snap.Transcript) {
				t.Fatalf("turn %d delivered again after snapshot", d.Index)
			}
		case interview.QuestionData:
			if d.Index != 4 {
				t.Fatalf("unexpected question index %d", d.Index)
			}
		}
	}
}

func TestMalformedMessagesGoToSenderOnly(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	cand, c := h.connect(t, RoleCandidate)
	obs, o := h.connect(t, RoleObserver)

	h.send(cand, `{not json`)
	h.send(cand, `{"type":"manager_command","command":"next_question"}`)
	h.send(cand, `{"type":"audio_chunk","data":"AAE="}`+"x")
	h.send(obs, `{"type":"audio_chunk","data":"AAE="}`)
	h.send(obs, `{"type":"manager_command","command":"skip"}`)

	if got := c.errorCodes(); len(got) != 3 {
		t.Fatalf("candidate error frames = %v", got)
	}
	if got := o.errorCodes(); len(got) != 2 {
		t.Fatalf("observer error frames = %v", got)
	}
	for _, code := range append(c.errorCodes(), o.errorCodes()...) {
		if code != protocol.CodeMalformed {
			t.Fatalf("unexpected code %q", code)
		}
	}
	if st := h.reg.Engine("tok-1").Status(); st != interview.StatusNotStarted {
		t.Fatalf("session affected by malformed input: %s", st)
	}
}

func TestUndecodableAudioIsMalformed(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	cand, c := h.connect(t, RoleCandidate)
	// three bytes is not whole PCM16 samples
	h.send(cand, `{"type":"audio_chunk","data":"AAEC"}`)
	if got := c.errorCodes(); len(got) != 1 || got[0] != protocol.CodeMalformed {
		t.Fatalf("error frames = %v", got)
	}
}

func TestInvalidCommandReportedToSender(t *testing.T) {
	h := newHarness(t, interview.ModeAssisted, 1, Config{})
	_, c := h.connect(t, RoleCandidate)
	obs, o := h.connect(t, RoleObserver)
	h.send(obs, `{"type":"manager_command","command":"next_question"}`)
	waitFor(t, "invalid_command frame", func() bool { return len(o.errorCodes()) == 1 })
	if o.errorCodes()[0] != protocol.CodeInvalidCommand {
		t.Fatalf("got %v", o.errorCodes())
	}
	if len(c.errorCodes()) != 0 {
		t.Fatalf("candidate received the observer's error")
	}
}

func TestBroadcastSurvivesFailingConnection(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	cand, c := h.connect(t, RoleCandidate)
	broken := &fakeConn{fail: true}
	if _, err := h.reg.Connect(context.Background(), "tok-1", RoleObserver, broken); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, healthy := h.connect(t, RoleObserver)

	h.send(cand, `{"type":"candidate_ready"}`)
	waitFor(t, "candidate events", func() bool { return c.count(interview.EventQuestionStarted) == 1 })
	waitFor(t, "healthy observer events", func() bool { return healthy.count(interview.EventQuestionStarted) == 1 })
}

func TestCompletionPersistsAndClosesHub(t *testing.T) {
	h := newHarness(t, interview.ModeAssisted, 1, Config{})
	cand, c := h.connect(t, RoleCandidate)
	_, o := h.connect(t, RoleObserver)

	h.send(cand, `{"type":"candidate_ready"}`)
	waitFor(t, "question", func() bool { return c.count(interview.EventAIListening) == 1 })
	h.send(cand, `{"type":"audio_chunk","data":"AAAAAA=="}`)
	waitFor(t, "in progress", func() bool {
		s, _, _ := h.mem.LoadSession(context.Background(), "tok-1")
		return s.State == store.StateInProgress
	})
	h.send(cand, `{"type":"end_interview"}`)
	h.send(cand, `{"type":"end_interview"}`)

	waitFor(t, "hub removal", func() bool { return h.reg.Engine("tok-1") == nil })
	waitFor(t, "connections closed", func() bool { return c.isClosed() && o.isClosed() })

	if n := c.count(interview.EventInterviewCompleted); n != 1 {
		t.Fatalf("candidate saw %d interview_completed frames", n)
	}
	frames := o.snapshot()
	if frames[len(frames)-1].Type != interview.EventInterviewCompleted {
		t.Fatalf("last observer frame = %s", frames[len(frames)-1].Type)
	}
	if n := h.rec.finalCount(); n != 1 {
		t.Fatalf("finalize called %d times", n)
	}
	done := h.rec.finals[0]
	if done.SessionID != "sess-1" || len(done.QuestionsAsked) != 1 {
		t.Fatalf("unexpected completion %+v", done)
	}
	if got, want := h.rec.turnCount("sess-1"), len(done.Transcript); got != want {
		t.Fatalf("recorded %d turns, transcript has %d", got, want)
	}
	s, _, _ := h.mem.LoadSession(context.Background(), "tok-1")
	if s.State != store.StateCompleted {
		t.Fatalf("lifecycle state = %s", s.State)
	}

	_, err := h.reg.Connect(context.Background(), "tok-1", RoleObserver, &fakeConn{})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("connect after completion: %v", err)
	}

	h.send(cand, `{"type":"audio_chunk","data":"AAAAAA=="}`)
	codes := c.errorCodes()
	if len(codes) != 1 || codes[0] != protocol.CodeSessionCompleted {
		t.Fatalf("audio after completion: %v", codes)
	}
}

func TestObserverBeforeCandidateIsRefused(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{GracePeriod: 20 * time.Millisecond})
	o := &fakeConn{}
	if _, err := h.reg.Connect(context.Background(), "tok-1", RoleObserver, o); !errors.Is(err, ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}
	if h.reg.Engine("tok-1") != nil {
		t.Fatalf("observer created an engine")
	}
	if _, err := h.reg.Connect(context.Background(), "nope", RoleObserver, &fakeConn{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown token must still be ErrInvalidToken, got %v", err)
	}

	h.connect(t, RoleCandidate)
	if _, o := h.connect(t, RoleObserver); o.count(interview.EventSessionReady) != 1 {
		t.Fatalf("observer missing session_ready once the candidate is live")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"candidate", RoleCandidate, true},
		{"observer", RoleObserver, true},
		{"", "", false},
		{"admin", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseRole(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRole(%q) = %q %v, want %q %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	_, c := h.connect(t, RoleCandidate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !c.isClosed() {
		t.Fatalf("connection left open after shutdown")
	}
	if _, err := h.reg.Connect(context.Background(), "tok-1", RoleCandidate, &fakeConn{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after shutdown: %v", err)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, interview.ModeAutonomous, 1, Config{})
	h.connect(t, RoleCandidate)
	h.connect(t, RoleObserver)
	h.connect(t, RoleObserver)
	st := h.reg.Stats()
	if st.Sessions != 1 || st.Connections != 3 || len(st.Live) != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !st.Live[0].CandidateConnected || st.Live[0].Observers != 2 {
		t.Fatalf("unexpected live entry %+v", st.Live[0])
	}
}
