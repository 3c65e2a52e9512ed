package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/store"
)

const DefaultPrefix = "interviews"

// PublishFunc sends one message on subject.
type PublishFunc func(subject string, data []byte) error

// Publisher announces session lifecycle changes on NATS subjects under a
// common prefix: <prefix>.session.in_progress and <prefix>.session.completed.
type Publisher struct {
	publish PublishFunc
	prefix  string
	log     *slog.Logger
	nc      *nats.Conn
	now     func() time.Time
}

// New builds a publisher on top of an arbitrary publish function.
func New(publish PublishFunc, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{publish: publish, prefix: prefix, log: logger, now: time.Now}
}

// Connect dials NATS and returns a publisher that keeps reconnecting in the
// background.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("interview-engine"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("bus: NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("bus: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := New(nc.Publish, prefix, logger)
	p.nc = nc
	return p, nil
}

// Close drains the underlying connection, if any.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("bus: drain failed", "error", err)
	}
}

func (p *Publisher) Subject(event string) string {
	return p.prefix + ".session." + event
}

// CompletedMessage is published once a final transcript is stored.
type CompletedMessage struct {
	SessionID       string    `json:"sessionId"`
	InterviewID     string    `json:"interviewId"`
	QuestionsAsked  []string  `json:"questionsAsked"`
	Turns           int       `json:"turns"`
	DurationMinutes int       `json:"durationMinutes"`
	CompletedAt     time.Time `json:"completedAt"`
}

// StateMessage is published when a session changes lifecycle state.
type StateMessage struct {
	Token string      `json:"token"`
	State store.State `json:"state"`
	At    time.Time   `json:"at"`
}

// Completed implements the recorder's completion sink.
func (p *Publisher) Completed(_ context.Context, c store.Completion) error {
	return p.send(p.Subject("completed"), CompletedMessage{
		SessionID:       c.SessionID,
		InterviewID:     c.InterviewID,
		QuestionsAsked:  c.QuestionsAsked,
		Turns:           len(c.Transcript),
		DurationMinutes: c.DurationMinutes,
		CompletedAt:     c.CompletedAt,
	})
}

func (p *Publisher) send(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", subject, err)
	}
	if err := p.publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	p.log.Debug("bus: published", "subject", subject, "bytes", len(data))
	return nil
}

// StateStore is the lifecycle store being decorated.
type StateStore interface {
	SetState(ctx context.Context, token string, state store.State) error
}

// Lifecycle records state in the wrapped store and then announces
// IN_PROGRESS transitions. COMPLETED is announced by Completed, which carries
// the full record.
type Lifecycle struct {
	next StateStore
	pub  *Publisher
}

func (p *Publisher) Lifecycle(next StateStore) *Lifecycle {
	return &Lifecycle{next: next, pub: p}
}

func (l *Lifecycle) SetState(ctx context.Context, token string, state store.State) error {
	if err := l.next.SetState(ctx, token, state); err != nil {
		return err
	}
	if state != store.StateInProgress {
		return nil
	}
	msg := StateMessage{Token: token, State: state, At: l.pub.now()}
	if err := l.pub.send(l.pub.Subject("in_progress"), msg); err != nil {
		l.pub.log.Warn("bus: lifecycle publish failed", "error", err)
	}
	return nil
}
