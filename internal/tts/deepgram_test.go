package tts

import (
	"context"
	"testing"
	"time"
)

func TestDeepgram_Synthesize_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := d.Synthesize(ctx, "hello", ""); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestDeepgram_Synthesize_EmptyText(t *testing.T) {
	d := NewDeepgramClient("key", "", nil)
	audio, err := d.Synthesize(context.Background(), "   ", "")
	if err != nil || len(audio) != 0 {
		t.Fatalf("empty text: %v %d", err, len(audio))
	}
}

func TestUtterance_EndsOnFlushed(t *testing.T) {
	u := newUtterance()
	_ = u.Binary([]byte{1, 2})
	_ = u.Binary([]byte{3, 4})
	_ = u.Flush(nil)
	if err := u.wait(context.Background(), time.Hour, time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := u.bytes(); len(got) != 4 || got[3] != 4 {
		t.Fatalf("unexpected audio %v", got)
	}
}

func TestUtterance_EndsWhenAudioGoesQuiet(t *testing.T) {
	u := newUtterance()
	_ = u.Binary([]byte{1, 2})
	start := time.Now()
	if err := u.wait(context.Background(), 20*time.Millisecond, 5*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("idle window not honoured")
	}
}

func TestUtterance_ServerError(t *testing.T) {
	u := newUtterance()
	_ = u.Error(nil)
	if err := u.wait(context.Background(), time.Hour, time.Second); err == nil {
		t.Fatalf("expected server error to surface")
	}
}

func TestUtterance_MaxWait(t *testing.T) {
	u := newUtterance()
	if err := u.wait(context.Background(), time.Hour, 30*time.Millisecond); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline, got %v", err)
	}
}
