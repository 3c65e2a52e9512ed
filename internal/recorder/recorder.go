package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

var ErrPersistence = errors.New("recorder: persistence failed")

// Store is the durable side of the recorder.
type Store interface {
	AppendTurns(ctx context.Context, sessionID string, turns []interview.Turn) error
	SaveFinal(ctx context.Context, c store.Completion) error
}

// Sink is told about every interview whose final transcript has been stored.
type Sink interface {
	Completed(ctx context.Context, c store.Completion) error
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	// BufferMax caps pending turns per session; the oldest are dropped beyond it.
	BufferMax       int
	WriteTimeout    time.Duration
	FinalizeRetries uint64
	RetryBase       time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 16
	}
	if c.BufferMax <= 0 {
		c.BufferMax = 2000
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.FinalizeRetries == 0 {
		c.FinalizeRetries = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	return c
}

// Recorder buffers transcript turns per session and writes them in batches.
// A failed write puts the batch back in front of newer turns.
type Recorder struct {
	store Store
	sinks []Sink
	cfg   Config
	log   *slog.Logger

	mu              sync.Mutex
	pending         map[string][]interview.Turn
	consecutiveFail int

	// flushMu keeps writes for all sessions in order with their re-queues.
	flushMu sync.Mutex

	done chan struct{}
}

func New(s Store, cfg Config, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   s,
		sinks:   sinks,
		cfg:     cfg.withDefaults(),
		log:     logger,
		pending: make(map[string][]interview.Turn),
		done:    make(chan struct{}),
	}
}

// AppendTurn enqueues a turn. It never blocks on the store.
func (r *Recorder) AppendTurn(_ context.Context, sessionID string, turn interview.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.pending[sessionID]
	if len(buf) >= r.cfg.BufferMax {
		dropped := len(buf) - r.cfg.BufferMax + 1
		buf = buf[dropped:]
		r.log.Warn("recorder: buffer overflow, dropping oldest turns", "session_id", sessionID, "dropped", dropped)
	}
	buf = append(buf, turn)
	r.pending[sessionID] = buf

	if len(buf) >= r.cfg.FlushThreshold {
		go func() { _ = r.flushSession(context.Background(), sessionID) }()
	}
}

// Start runs the periodic flush until ctx is done, then flushes once more.
func (r *Recorder) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.flushAll(context.Background())
			case <-ctx.Done():
				r.flushAll(context.Background())
				close(r.done)
				return
			}
		}
	}()
}

// Wait blocks until the final flush after Start's context ends.
func (r *Recorder) Wait() {
	<-r.done
}

// Pending returns the number of turns not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, buf := range r.pending {
		n += len(buf)
	}
	return n
}

func (r *Recorder) flushAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.flushSession(ctx, id)
	}
}

func (r *Recorder) flushSession(ctx context.Context, sessionID string) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()
	if err := r.store.AppendTurns(wctx, sessionID, batch); err != nil {
		r.log.Error("recorder: failed to write turns", "session_id", sessionID, "count", len(batch), "error", err)
		r.requeue(sessionID, batch)
		return fmt.Errorf("%w: append turns: %v", ErrPersistence, err)
	}

	r.mu.Lock()
	r.consecutiveFail = 0
	r.mu.Unlock()
	r.log.Debug("recorder: turns flushed", "session_id", sessionID, "count", len(batch))
	return nil
}

func (r *Recorder) requeue(sessionID string, batch []interview.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFail++
	buf := append(batch, r.pending[sessionID]...)
	if len(buf) > r.cfg.BufferMax {
		buf = buf[len(buf)-r.cfg.BufferMax:]
	}
	r.pending[sessionID] = buf

	if r.consecutiveFail >= 3 {
		r.log.Error("recorder: consecutive write failures", "failures", r.consecutiveFail, "pending", len(buf))
	}
}

// Finalize writes any pending turns and the compiled transcript, retrying
// with exponential backoff, then notifies the sinks. Sink failures are logged
// and do not fail the call.
func (r *Recorder) Finalize(ctx context.Context, sessionID string, c store.Completion) error {
	backoff := retry.WithMaxRetries(r.cfg.FinalizeRetries, retry.NewExponential(r.cfg.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := r.flushSession(ctx, sessionID); err != nil {
			return retry.RetryableError(err)
		}
		if err := r.store.SaveFinal(ctx, c); err != nil {
			r.log.Warn("recorder: save final transcript failed", "session_id", sessionID, "attempt", attempt, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: save final: %v", ErrPersistence, err))
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return err
	}
	r.log.Info("recorder: final transcript stored", "session_id", sessionID, "turns", len(c.Transcript), "attempts", attempt)

	for _, s := range r.sinks {
		if err := s.Completed(ctx, c); err != nil {
			r.log.Warn("recorder: completion sink failed", "session_id", sessionID, "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
	return nil
}
