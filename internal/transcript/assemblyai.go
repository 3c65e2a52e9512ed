package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

const defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

// chunkBytes is 100ms of 16kHz PCM16, inside the streaming API's 50-1000ms window.
const chunkBytes = 3200

// AssemblyAI transcribes a finished batch of audio over the v3 streaming API:
// it streams the batch, terminates the session and joins the final turns.
type AssemblyAI struct {
	apiKey string
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewAssemblyAI(apiKey string, logger *slog.Logger) *AssemblyAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssemblyAI{
		apiKey: apiKey,
		url:    defaultStreamingURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger,
	}
}

// turnMessage is the subset of a v3 "Turn" event we use.
type turnMessage struct {
	Type       string `json:"type"`
	TurnOrder  int    `json:"turn_order"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Transcript string `json:"transcript"`
	Formatted  bool   `json:"turn_is_formatted"`
}

type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type terminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Error string `json:"error"`
}

func (a *AssemblyAI) endpoint(h interview.Hints) (string, error) {
	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	if lang := strings.ToLower(strings.TrimSpace(h.Language)); lang != "" && !strings.HasPrefix(lang, "en") {
		params.Set("speech_model", "universal-streaming-multilingual")
	}
	if len(h.Keyterms) > 0 {
		terms, err := json.Marshal(h.Keyterms)
		if err != nil {
			return "", err
		}
		params.Set("keyterms_prompt", string(terms))
	}
	return a.url + "?" + params.Encode(), nil
}

func (a *AssemblyAI) Transcribe(ctx context.Context, pcm []byte, hints interview.Hints) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("AssemblyAI API key is empty")
	}
	if Silent(pcm) {
		return "", nil
	}
	wsURL, err := a.endpoint(hints)
	if err != nil {
		return "", fmt.Errorf("assemblyai: build url: %w", err)
	}

	conn, resp, err := a.dialer.DialContext(ctx, wsURL, http.Header{"Authorization": {a.apiKey}})
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("assemblyai: connect failed with status %d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("assemblyai: connect: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	type result struct {
		text string
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		text, err := a.collect(conn)
		resultCh <- result{text, err}
	}()

	if err := a.stream(conn, pcm); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("assemblyai: send audio: %w", err)
	}

	select {
	case r := <-resultCh:
		if r.err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *AssemblyAI) stream(conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.WriteJSON(map[string]string{"type": "Terminate"})
}

// collect reads events until Termination and returns the final turns in order.
func (a *AssemblyAI) collect(conn *websocket.Conn) (string, error) {
	turns := make(map[int]string)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return joinTurns(turns), nil
			}
			return "", fmt.Errorf("assemblyai: read: %w", err)
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &base); err != nil {
			a.log.Warn("assemblyai: undecodable message", "error", err)
			continue
		}
		switch base.Type {
		case "Begin":
			var msg beginMessage
			_ = json.Unmarshal(message, &msg)
			a.log.Debug("assemblyai: session began", "id", msg.ID, "expires_at", time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		case "Turn":
			var msg turnMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				a.log.Warn("assemblyai: undecodable turn", "error", err)
				continue
			}
			if msg.EndOfTurn && strings.TrimSpace(msg.Transcript) != "" {
				// the formatted revision of a turn replaces the raw one
				turns[msg.TurnOrder] = strings.TrimSpace(msg.Transcript)
			}
		case "Termination":
			var msg terminationMessage
			_ = json.Unmarshal(message, &msg)
			a.log.Debug("assemblyai: session terminated", "audio_seconds", msg.AudioDurationSeconds, "session_seconds", msg.SessionDurationSeconds)
			return joinTurns(turns), nil
		case "Error":
			var msg errorMessage
			_ = json.Unmarshal(message, &msg)
			return "", errors.New("assemblyai: " + msg.Error)
		default:
			a.log.Debug("assemblyai: ignoring message", "type", base.Type)
		}
	}
}

func joinTurns(turns map[int]string) string {
	order := make([]int, 0, len(turns))
	for k := range turns {
		order = append(order, k)
	}
	sort.Ints(order)
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, turns[k])
	}
	return strings.Join(parts, " ")
}
