package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/protocol"
)

var (
	errConnClosed = errors.New("live: connection closed")
	errQueueFull  = errors.New("live: outbound queue full")
)

// wsConn serializes writes to one websocket through a single writer
// goroutine. Send never blocks the caller.
type wsConn struct {
	ws  *websocket.Conn
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	closed    bool
	queue     chan []byte
	closeCode int
	closeText string
}

func newConn(ws *websocket.Conn, cfg Config, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:        ws,
		cfg:       cfg,
		log:       logger,
		queue:     make(chan []byte, cfg.QueueSize),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *wsConn) Send(f protocol.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("live: encode %s frame: %w", f.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.queue <- payload:
		return nil
	default:
		return errQueueFull
	}
}

// Close lets the writer drain queued frames, then closes the socket.
func (c *wsConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *wsConn) closeWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.queue)
}

// reject writes an error frame and closes with a policy violation.
func (c *wsConn) reject(code, message string) {
	_ = c.Send(protocol.Error(code, message))
	c.closeWith(websocket.ClosePolicyViolation, code)
}

func (c *wsConn) writeLoop() {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case payload, ok := <-c.queue:
			if !ok {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText), deadline)
				_ = c.ws.Close()
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.abort(err)
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.abort(err)
				return
			}
		}
	}
}

// abort drops the socket after a failed write. The reader then fails and
// detaches the binding.
func (c *wsConn) abort(err error) {
	c.log.Debug("live: write failed", "err", err)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.ws.Close()
}
