package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/audio"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

var (
	ErrInvalidToken     = errors.New("session: invalid token")
	ErrExpired          = errors.New("session: token expired")
	ErrAlreadyCompleted = errors.New("session: interview already completed")
	ErrClosed           = errors.New("session: registry closed")
	// ErrNotLive is returned to observers of a session no candidate has opened yet.
	ErrNotLive = errors.New("session: interview not live")

	errHubGone = errors.New("session: hub closed")
)

// Role is the kind of participant behind a connection.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleObserver  Role = "observer"
)

// ParseRole accepts "candidate" and "observer". Anything else, including an
// empty role, is rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCandidate:
		return RoleCandidate, true
	case RoleObserver:
		return RoleObserver, true
	default:
		return "", false
	}
}

// Provider resolves a session token to its session and interview.
type Provider interface {
	LoadSession(ctx context.Context, token string) (store.Session, interview.Interview, error)
}

// Lifecycle records coarse session state.
type Lifecycle interface {
	SetState(ctx context.Context, token string, state store.State) error
}

// Recorder persists transcript turns as they happen and the compiled record at
// the end. AppendTurn must not block.
type Recorder interface {
	AppendTurn(ctx context.Context, sessionID string, turn interview.Turn)
	Finalize(ctx context.Context, sessionID string, c store.Completion) error
}

type Config struct {
	// GracePeriod is how long an engine survives without a candidate connection.
	GracePeriod time.Duration
	// PersistTimeout bounds completion persistence.
	PersistTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 60 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 30 * time.Second
	}
	return c
}

type Dependencies struct {
	Provider  Provider
	Lifecycle Lifecycle
	Recorder  Recorder
	// NewEngine builds the engine for a freshly loaded interview.
	NewEngine func(iv interview.Interview) *interview.Engine
	// NewDecoder builds the audio decoder for a candidate connection.
	// Nil means PCM16 passthrough.
	NewDecoder func() (audio.Decoder, error)
	Logger     *slog.Logger
	Now        func() time.Time
}

// Registry owns every live interview, keyed by session token.
type Registry struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	mu     sync.Mutex
	hubs   map[string]*hub
	closed bool
	wg     sync.WaitGroup
}

func NewRegistry(deps Dependencies, cfg Config) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewDecoder == nil {
		deps.NewDecoder = func() (audio.Decoder, error) { return audio.PCM16{}, nil }
	}
	return &Registry{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  deps.Logger,
		hubs: make(map[string]*hub),
	}
}

// Binding is one attached connection.
type Binding struct {
	ID    string
	Role  Role
	Token string

	conn    Conn
	hub     *hub
	decoder audio.Decoder
	// since is the last event sequence already covered by session_ready.
	// Only the hub goroutine touches it.
	since uint64
}

// Connect validates token, attaches conn to the session's hub (creating it on
// first use) and delivers the session_ready snapshot.
func (r *Registry) Connect(ctx context.Context, token string, role Role, conn Conn) (*Binding, error) {
	b := &Binding{ID: uuid.NewString(), Role: role, Token: token, conn: conn}
	if role == RoleCandidate {
		dec, err := r.deps.NewDecoder()
		if err != nil {
			return nil, fmt.Errorf("session: audio decoder: %w", err)
		}
		b.decoder = dec
	}

	for attempt := 0; attempt < 2; attempt++ {
		h, err := r.hubFor(ctx, token, role)
		if err != nil {
			return nil, err
		}
		b.hub = h
		err = h.join(ctx, b)
		if errors.Is(err, errHubGone) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errHubGone
}

// hubFor returns the live hub for token. Only a candidate creates one.
func (r *Registry) hubFor(ctx context.Context, token string, role Role) (*hub, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	h := r.hubs[token]
	r.mu.Unlock()
	if h != nil {
		return h, h.admit(r.deps.Now())
	}

	sess, iv, err := r.deps.Provider.LoadSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if sess.Expired(r.deps.Now()) {
		return nil, ErrExpired
	}
	if sess.State == store.StateCompleted {
		return nil, ErrAlreadyCompleted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if existing := r.hubs[token]; existing != nil {
		return existing, existing.admit(r.deps.Now())
	}
	if role != RoleCandidate {
		return nil, ErrNotLive
	}
	h = newHub(r, sess, r.deps.NewEngine(iv))
	r.hubs[token] = h
	r.wg.Add(1)
	go h.run()
	h.log.Info("session: engine created", "questions", len(iv.Questions), "mode", iv.Mode)
	return h, nil
}

// Dispatch decodes and routes one inbound frame from b.
func (r *Registry) Dispatch(ctx context.Context, b *Binding, raw []byte) {
	b.hub.dispatch(ctx, b, raw)
}

// Disconnect detaches b. A candidate leaving starts the grace period.
func (r *Registry) Disconnect(b *Binding) {
	if b == nil || b.hub == nil {
		return
	}
	select {
	case b.hub.detach <- b:
	case <-b.hub.done:
	}
}

// Engine returns the live engine for token, or nil.
func (r *Registry) Engine(token string) *interview.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.hubs[token]; h != nil {
		return h.engine
	}
	return nil
}

// SessionStats describes one live session.
type SessionStats struct {
	SessionID          string           `json:"sessionId"`
	InterviewID        string           `json:"interviewId"`
	Status             interview.Status `json:"status"`
	CandidateConnected bool             `json:"candidateConnected"`
	Observers          int              `json:"observers"`
}

type Stats struct {
	Sessions    int            `json:"sessions"`
	Connections int            `json:"connections"`
	Live        []SessionStats `json:"live"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	hubs := make([]*hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	st := Stats{Sessions: len(hubs), Live: make([]SessionStats, 0, len(hubs))}
	for _, h := range hubs {
		candidate := h.candidates.Load() > 0
		observers := int(h.observerCount.Load())
		st.Connections += observers
		if candidate {
			st.Connections++
		}
		st.Live = append(st.Live, SessionStats{
			SessionID:          h.sess.ID,
			InterviewID:        h.sess.InterviewID,
			Status:             h.engine.Status(),
			CandidateConnected: candidate,
			Observers:          observers,
		})
	}
	return st
}

// Shutdown closes every hub and waits for their goroutines, or for ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	hubs := make([]*hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs f on a tracked goroutine unless the registry is shutting down.
func (r *Registry) spawn(f func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f()
	}()
	return true
}

func (r *Registry) remove(h *hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hubs[h.sess.Token] == h {
		delete(r.hubs, h.sess.Token)
	}
}

func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
