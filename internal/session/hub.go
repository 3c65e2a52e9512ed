package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/protocol"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

// Conn is the outbound side of one client connection. Send must be safe for
// concurrent use; Close flushes frames already sent and then closes.
type Conn interface {
	Send(f protocol.Frame) error
	Close() error
}

type attachReq struct {
	b    *Binding
	done chan error
}

// hub fans one engine's events out to its connections. Bindings, the grace
// timer and the finished flag are owned by the run goroutine.
type hub struct {
	r      *Registry
	sess   store.Session
	engine *interview.Engine
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	attach chan attachReq
	detach chan *Binding
	done   chan struct{}

	candidate *Binding
	observers map[string]*Binding
	grace     *time.Timer
	finished  bool

	active        sync.Once
	candidates    atomic.Int32
	observerCount atomic.Int32
}

func newHub(r *Registry, sess store.Session, engine *interview.Engine) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		r:         r,
		sess:      sess,
		engine:    engine,
		log:       r.log.With("token", shortToken(sess.Token), "session_id", sess.ID),
		ctx:       ctx,
		cancel:    cancel,
		attach:    make(chan attachReq),
		detach:    make(chan *Binding),
		done:      make(chan struct{}),
		observers: make(map[string]*Binding),
	}
}

// admit refuses new connections to an expired or finished session.
func (h *hub) admit(now time.Time) error {
	if h.sess.Expired(now) {
		return ErrExpired
	}
	if h.engine.Status() == interview.StatusCompleted {
		return ErrAlreadyCompleted
	}
	return nil
}

func (h *hub) join(ctx context.Context, b *Binding) error {
	req := attachReq{b: b, done: make(chan error, 1)}
	select {
	case h.attach <- req:
	case <-h.done:
		return errHubGone
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-h.done:
		return errHubGone
	}
}

func (h *hub) run() {
	defer h.r.wg.Done()
	defer close(h.done)
	defer h.teardown()
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("session: hub panic", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	events := h.engine.Events()
	for {
		var graceC <-chan time.Time
		if h.grace != nil {
			graceC = h.grace.C
		}
		select {
		case <-h.ctx.Done():
			return
		case req := <-h.attach:
			req.done <- h.handleAttach(req.b)
		case b := <-h.detach:
			h.handleDetach(b)
		case <-graceC:
			h.grace = nil
			if h.candidate == nil {
				h.log.Info("session: grace period expired, discarding engine")
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if h.handleEvent(ev) {
				return
			}
		}
	}
}

func (h *hub) teardown() {
	h.cancel()
	h.r.remove(h)
	h.engine.Close()
	if h.grace != nil {
		h.grace.Stop()
		h.grace = nil
	}
	if h.candidate != nil {
		h.closeBinding(h.candidate)
		h.candidate = nil
		h.candidates.Store(0)
	}
	for id, b := range h.observers {
		h.closeBinding(b)
		delete(h.observers, id)
	}
	h.observerCount.Store(0)
}

func (h *hub) handleAttach(b *Binding) error {
	if h.finished {
		return ErrAlreadyCompleted
	}
	switch b.Role {
	case RoleCandidate:
		if old := h.candidate; old != nil {
			h.log.Info("session: candidate reconnected, closing stale connection", "stale_conn", old.ID)
			h.closeBinding(old)
		}
		h.candidate = b
		h.candidates.Store(1)
		if h.grace != nil {
			h.grace.Stop()
			h.grace = nil
			h.log.Info("session: candidate back within grace period")
		}
	default:
		h.observers[b.ID] = b
		h.observerCount.Store(int32(len(h.observers)))
	}

	snap := h.engine.Snapshot()
	b.since = snap.Seq
	if err := b.conn.Send(protocol.SessionReady(snap)); err != nil {
		h.log.Warn("session: send session_ready failed", "conn", b.ID, "role", b.Role, "error", err)
	}
	h.log.Info("session: connection attached", "conn", b.ID, "role", b.Role, "seq", snap.Seq)
	return nil
}

func (h *hub) handleDetach(b *Binding) {
	switch b.Role {
	case RoleCandidate:
		if h.candidate != b {
			return
		}
		h.candidate = nil
		h.candidates.Store(0)
	default:
		if _, ok := h.observers[b.ID]; !ok {
			return
		}
		delete(h.observers, b.ID)
		h.observerCount.Store(int32(len(h.observers)))
	}
	h.log.Info("session: connection detached", "conn", b.ID, "role", b.Role)

	// Observers alone keep a hub alive only while they stay connected.
	if h.candidate == nil && h.grace == nil && !h.finished &&
		(b.Role == RoleCandidate || len(h.observers) == 0) {
		h.grace = time.NewTimer(h.r.cfg.GracePeriod)
		h.log.Info("session: grace period started", "grace", h.r.cfg.GracePeriod)
	}
}

// handleEvent reports whether the hub is finished.
func (h *hub) handleEvent(ev interview.Event) bool {
	if ev.Type == interview.EventTranscriptUpdate {
		if t, ok := ev.Data.(interview.Turn); ok {
			h.r.deps.Recorder.AppendTurn(h.ctx, h.sess.ID, t)
		}
	}

	h.broadcast(ev.Seq, protocol.FromEvent(ev))

	if ev.Type != interview.EventInterviewCompleted {
		return false
	}
	h.finished = true
	data, _ := ev.Data.(interview.CompletedData)
	h.complete(data)
	return true
}

func (h *hub) broadcast(seq uint64, f protocol.Frame) {
	send := func(b *Binding) {
		if seq <= b.since {
			return
		}
		if err := b.conn.Send(f); err != nil {
			h.log.Warn("session: send failed", "conn", b.ID, "role", b.Role, "type", f.Type, "error", err)
		}
	}
	if h.candidate != nil {
		send(h.candidate)
	}
	for _, b := range h.observers {
		send(b)
	}
}

// complete persists the finished interview. The hub is torn down afterwards,
// which closes every connection once the completion frame has been flushed.
func (h *hub) complete(data interview.CompletedData) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), h.r.cfg.PersistTimeout)
	defer cancel()

	if err := h.r.deps.Lifecycle.SetState(ctx, h.sess.Token, store.StateCompleted); err != nil {
		h.log.Error("session: mark completed failed", "error", err)
	}
	c := store.Completion{
		SessionID:       h.sess.ID,
		InterviewID:     h.sess.InterviewID,
		Transcript:      data.Transcript,
		QuestionsAsked:  data.QuestionsAsked,
		DurationMinutes: data.DurationMinutes,
		CompletedAt:     h.r.deps.Now(),
	}
	if err := h.r.deps.Recorder.Finalize(ctx, h.sess.ID, c); err != nil {
		h.log.Error("session: finalize transcript failed", "error", err)
		return
	}
	h.log.Info("session: interview completed", "questions_asked", len(data.QuestionsAsked), "duration_minutes", data.DurationMinutes)
}

func (h *hub) closeBinding(b *Binding) {
	if err := b.conn.Close(); err != nil {
		h.log.Debug("session: close connection", "conn", b.ID, "error", err)
	}
}

func (h *hub) dispatch(_ context.Context, b *Binding, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.reply(b, de.Code, de.Error())
		} else {
			h.reply(b, protocol.CodeMalformed, err.Error())
		}
		return
	}

	switch m := msg.(type) {
	case protocol.AudioChunk:
		if !h.requireRole(b, RoleCandidate, protocol.TypeAudioChunk) {
			return
		}
		pcm, err := b.decoder.Decode(m.Data)
		if err != nil {
			h.reply(b, protocol.CodeMalformed, fmt.Sprintf("undecodable audio: %v", err))
			return
		}
		if err := h.engine.Accept(pcm); errors.Is(err, interview.ErrCompleted) {
			h.reply(b, protocol.CodeSessionCompleted, "interview has already completed")
			return
		}
		h.markActive()
	case protocol.CandidateReady:
		if !h.requireRole(b, RoleCandidate, protocol.TypeCandidateReady) {
			return
		}
		h.markActive()
		h.r.spawn(func() {
			err := h.engine.Start(h.ctx)
			if errors.Is(err, interview.ErrAlreadyStarted) {
				h.log.Debug("session: candidate_ready after start ignored")
				return
			}
			if err != nil {
				h.log.Error("session: start failed", "error", err)
			}
		})
	case protocol.EndInterview:
		if !h.requireRole(b, RoleCandidate, protocol.TypeEndInterview) {
			return
		}
		h.r.spawn(func() {
			if err := h.engine.End(h.ctx); err != nil {
				h.log.Error("session: end failed", "error", err)
			}
		})
	case protocol.ManagerCommand:
		if !h.requireRole(b, RoleObserver, protocol.TypeManagerCommand) {
			return
		}
		h.r.spawn(func() {
			err := h.engine.Command(h.ctx, m.Command)
			if errors.Is(err, interview.ErrInvalidTransition) {
				h.reply(b, protocol.CodeInvalidCommand, err.Error())
				return
			}
			if err != nil {
				h.log.Error("session: manager command failed", "command", m.Command, "error", err)
			}
		})
	}
}

func (h *hub) requireRole(b *Binding, want Role, typ string) bool {
	if b.Role == want {
		return true
	}
	h.reply(b, protocol.CodeMalformed, fmt.Sprintf("%s is not accepted from role %s", typ, b.Role))
	return false
}

// markActive moves the session to IN_PROGRESS on first candidate activity.
func (h *hub) markActive() {
	h.active.Do(func() {
		h.r.spawn(func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), h.r.cfg.PersistTimeout)
			defer cancel()
			if err := h.r.deps.Lifecycle.SetState(ctx, h.sess.Token, store.StateInProgress); err != nil {
				h.log.Warn("session: mark in progress failed", "error", err)
			}
		})
	})
}

func (h *hub) reply(b *Binding, code, message string) {
	if err := b.conn.Send(protocol.Error(code, message)); err != nil {
		h.log.Warn("session: send error frame failed", "conn", b.ID, "code", code, "error", err)
	}
}
