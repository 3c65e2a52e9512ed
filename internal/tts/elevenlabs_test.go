package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestElevenLabs_Synthesize(t *testing.T) {
	var (
		gotPath   string
		gotFormat string
		gotKey    string
		gotText   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body.Text
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	e := NewElevenLabsClient("xi-key", "default-voice")
	e.BaseURL = srv.URL

	audio, err := e.Synthesize(context.Background(), "Welcome.", "session-voice")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio) != 4 {
		t.Fatalf("audio length = %d", len(audio))
	}
	if gotPath != "/v1/text-to-speech/session-voice/stream" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotFormat != "pcm_48000" || gotKey != "xi-key" || gotText != "Welcome." {
		t.Fatalf("unexpected request format=%q key=%q text=%q", gotFormat, gotKey, gotText)
	}

	if _, err := e.Synthesize(context.Background(), "Hi.", ""); err != nil {
		t.Fatalf("Synthesize default voice: %v", err)
	}
	if gotPath != "/v1/text-to-speech/default-voice/stream" {
		t.Fatalf("default voice not used: %q", gotPath)
	}
}

func TestElevenLabs_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	e := NewElevenLabsClient("bad", "v")
	e.BaseURL = srv.URL
	if _, err := e.Synthesize(context.Background(), "Hi.", ""); err == nil {
		t.Fatalf("expected status error")
	}
	if _, err := NewElevenLabsClient("", "v").Synthesize(context.Background(), "Hi.", ""); err == nil {
		t.Fatalf("expected missing key error")
	}
}
