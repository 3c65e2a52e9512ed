package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

func loudPCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], 3000)
	}
	return pcm
}

type fakeStreaming struct {
	mu       sync.Mutex
	query    url.Values
	auth     string
	received int
	frames   int
	replies  []string
}

func (f *fakeStreaming) handler(t *testing.T) http.Handler {
	up := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.Query()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Begin","id":"abc","expires_at":1700000000}`))
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.BinaryMessage {
				f.mu.Lock()
				f.received += len(data)
				f.frames++
				f.mu.Unlock()
				continue
			}
			var msg map[string]string
			_ = json.Unmarshal(data, &msg)
			if msg["type"] == "Terminate" {
				for _, reply := range f.replies {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
				}
				return
			}
		}
	})
}

func newTestAssemblyAI(srv *httptest.Server) *AssemblyAI {
	a := NewAssemblyAI("key-123", slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return a
}

func TestAssemblyAI_TranscribeJoinsFinalTurns(t *testing.T) {
	fake := &fakeStreaming{replies: []string{
		`{"type":"Turn","turn_order":1,"end_of_turn":false,"transcript":"partial"}`,
		`{"type":"Turn","turn_order":1,"end_of_turn":true,"transcript":"second part"}`,
		`{"type":"Turn","turn_order":0,"end_of_turn":true,"transcript":"first part"}`,
		`{"type":"Turn","turn_order":0,"end_of_turn":true,"turn_is_formatted":true,"transcript":"First part."}`,
		`{"type":"Termination","audio_duration_seconds":1.0,"session_duration_seconds":1.2}`,
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	a := newTestAssemblyAI(srv)
	pcm := loudPCM(8000) // 500ms
	text, err := a.Transcribe(context.Background(), pcm, interview.Hints{Language: "es", Keyterms: []string{"Acme"}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "First part. second part" {
		t.Fatalf("got %q", text)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.received != len(pcm) || fake.frames != 5 {
		t.Fatalf("server received %d bytes in %d frames", fake.received, fake.frames)
	}
	if fake.auth != "key-123" {
		t.Fatalf("authorization = %q", fake.auth)
	}
	if fake.query.Get("sample_rate") != "16000" || fake.query.Get("encoding") != "pcm_s16le" {
		t.Fatalf("unexpected audio params %v", fake.query)
	}
	if fake.query.Get("speech_model") != "universal-streaming-multilingual" {
		t.Fatalf("non-English hint did not select the multilingual model: %v", fake.query)
	}
	if fake.query.Get("keyterms_prompt") != `["Acme"]` {
		t.Fatalf("keyterms_prompt = %q", fake.query.Get("keyterms_prompt"))
	}
}

func TestAssemblyAI_EnglishUsesDefaultModel(t *testing.T) {
	fake := &fakeStreaming{replies: []string{`{"type":"Termination"}`}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	text, err := newTestAssemblyAI(srv).Transcribe(context.Background(), loudPCM(1600), interview.Hints{Language: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.query.Has("speech_model") || fake.query.Has("keyterms_prompt") {
		t.Fatalf("unexpected params %v", fake.query)
	}
}

func TestAssemblyAI_ErrorMessage(t *testing.T) {
	fake := &fakeStreaming{replies: []string{`{"type":"Error","error":"insufficient balance"}`}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := newTestAssemblyAI(srv).Transcribe(context.Background(), loudPCM(1600), interview.Hints{})
	if err == nil || !strings.Contains(err.Error(), "insufficient balance") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestAssemblyAI_SilenceSkipsNetwork(t *testing.T) {
	a := NewAssemblyAI("key", nil)
	a.url = "ws://127.0.0.1:1/never"
	text, err := a.Transcribe(context.Background(), make([]byte, 3200), interview.Hints{})
	if err != nil || text != "" {
		t.Fatalf("silent batch: %q %v", text, err)
	}
}

func TestAssemblyAI_ContextCancelled(t *testing.T) {
	stall := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-stall
	}))
	defer srv.Close()
	defer close(stall)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := newTestAssemblyAI(srv).Transcribe(ctx, loudPCM(1600), interview.Hints{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestAssemblyAI_MissingKey(t *testing.T) {
	if _, err := NewAssemblyAI("", nil).Transcribe(context.Background(), loudPCM(1600), interview.Hints{}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestSilent(t *testing.T) {
	cases := []struct {
		name string
		pcm  []byte
		want bool
	}{
		{"zeros", make([]byte, 640), true},
		{"loud", loudPCM(320), false},
		{"too short to judge", make([]byte, 10), false},
		{"large quiet batch", make([]byte, 32000), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Silent(tc.pcm); got != tc.want {
				t.Fatalf("Silent = %v, want %v", got, tc.want)
			}
		})
	}
}
