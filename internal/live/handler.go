package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/auth"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/protocol"
	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/session"
)

// Sessions is the part of the registry the transport drives.
type Sessions interface {
	Connect(ctx context.Context, token string, role session.Role, conn session.Conn) (*session.Binding, error)
	Dispatch(ctx context.Context, b *session.Binding, raw []byte)
	Disconnect(b *session.Binding)
}

// Credentials verifies observer credentials.
type Credentials interface {
	Authenticate(r *http.Request) (auth.Claims, error)
}

type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	QueueSize       int
	MaxMessageBytes int64
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.PingInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	return c
}

// Handler serves the interview websocket.
type Handler struct {
	sessions Sessions
	creds    Credentials
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(sessions Sessions, creds Credentials, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		creds:    creds,
		cfg:      cfg.withDefaults(),
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			// Sessions are authorized by token, not origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("live: upgrade failed", "err", err)
		return
	}
	conn := newConn(ws, h.cfg, h.log)
	go conn.writeLoop()

	q := r.URL.Query()
	token := q.Get("token")
	role, ok := session.ParseRole(q.Get("role"))
	switch {
	case token == "":
		conn.reject(protocol.CodeInvalidToken, "token is required")
		return
	case q.Get("role") == "":
		conn.reject(protocol.CodeUnauthorized, "role is required")
		return
	case !ok:
		conn.reject(protocol.CodeUnauthorized, "unknown role")
		return
	}
	if role == session.RoleObserver {
		if h.creds == nil {
			conn.reject(protocol.CodeUnauthorized, "observers are disabled")
			return
		}
		if _, err := h.creds.Authenticate(r); err != nil {
			conn.reject(protocol.CodeUnauthorized, err.Error())
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := h.sessions.Connect(ctx, token, role, conn)
	if err != nil {
		code, msg := rejection(err)
		if code == protocol.CodeInternal {
			h.log.Error("live: connect failed", "err", err)
		}
		conn.reject(code, msg)
		return
	}
	h.log.Info("live: connected", "binding", b.ID, "role", role)

	h.readLoop(ctx, ws, conn, b)

	h.sessions.Disconnect(b)
	_ = conn.Close()
	h.log.Info("live: disconnected", "binding", b.ID, "role", role)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn, b *session.Binding) {
	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("live: read ended", "binding", b.ID, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		if mt != websocket.TextMessage {
			_ = conn.Send(protocol.Error(protocol.CodeMalformed, "frames must be JSON text"))
			continue
		}
		h.sessions.Dispatch(ctx, b, data)
	}
}

func rejection(err error) (code, message string) {
	switch {
	case errors.Is(err, session.ErrInvalidToken):
		return protocol.CodeInvalidToken, "unknown session token"
	case errors.Is(err, session.ErrNotLive):
		return protocol.CodeInvalidToken, "interview is not live yet"
	case errors.Is(err, session.ErrExpired):
		return protocol.CodeExpired, "session token has expired"
	case errors.Is(err, session.ErrAlreadyCompleted):
		return protocol.CodeAlreadyCompleted, "interview already completed"
	default:
		return protocol.CodeInternal, "session unavailable"
	}
}
