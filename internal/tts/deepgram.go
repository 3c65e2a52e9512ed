package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// OutputSampleRate is the rate of the PCM16LE mono audio every synthesizer returns.
const OutputSampleRate = 48000

var errNoAudio = errors.New("deepgram: no audio received")

type DeepgramClient struct {
	apiKey string
	model  string
	// idleWindow ends a synthesis when audio stopped arriving and no Flushed
	// acknowledgement came back.
	idleWindow time.Duration
	maxWait    time.Duration
	log        *slog.Logger
}

func NewDeepgramClient(apiKey, model string, logger *slog.Logger) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		idleWindow: 400 * time.Millisecond,
		maxWait:    12 * time.Second,
		log:        logger,
	}
}

// Synthesize renders text with Deepgram Aura. A voiceID naming an Aura model
// ("aura-...") overrides the configured model.
func (d *DeepgramClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	model := d.model
	if strings.HasPrefix(voiceID, "aura") {
		model = voiceID
	}

	u := newUtterance()
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{},
		&clientinterfaces.WSSpeakOptions{Model: model, Encoding: "linear16", SampleRate: OutputSampleRate}, u)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.log.Warn("deepgram: flush failed", "model", model, "error", err)
	}

	if err := u.wait(ctx, d.idleWindow, d.maxWait); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			d.log.Warn("deepgram: synthesis hit max wait", "model", model, "bytes", u.size())
		} else {
			return nil, err
		}
	}
	pcm := u.bytes()
	if len(pcm) == 0 {
		return nil, errNoAudio
	}
	return pcm, nil
}

// utterance collects the audio of one synthesis from SDK callbacks.
type utterance struct {
	mu       sync.Mutex
	pcm      []byte
	lastRecv time.Time
	err      error
	flushed  chan struct{}
	once     sync.Once
}

func newUtterance() *utterance {
	return &utterance{flushed: make(chan struct{})}
}

func (u *utterance) wait(ctx context.Context, idle, maxWait time.Duration) error {
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.flushed:
			return u.failure()
		case <-deadline.C:
			return context.DeadlineExceeded
		case <-poll.C:
			u.mu.Lock()
			quiet := !u.lastRecv.IsZero() && time.Since(u.lastRecv) > idle
			err := u.err
			u.mu.Unlock()
			if err != nil {
				return err
			}
			if quiet {
				return nil
			}
		}
	}
}

func (u *utterance) failure() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *utterance) bytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.pcm...)
}

func (u *utterance) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pcm)
}

func (u *utterance) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	u.mu.Lock()
	u.pcm = append(u.pcm, data...)
	u.lastRecv = time.Now()
	u.mu.Unlock()
	return nil
}

func (u *utterance) Flush(*msginterfaces.FlushedResponse) error {
	u.once.Do(func() { close(u.flushed) })
	return nil
}

func (u *utterance) Error(er *msginterfaces.ErrorResponse) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		msg := "unknown error"
		if er != nil {
			msg = er.ErrMsg
		}
		u.err = fmt.Errorf("deepgram: %s", msg)
	}
	return nil
}

func (u *utterance) Open(*msginterfaces.OpenResponse) error         { return nil }
func (u *utterance) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (u *utterance) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (u *utterance) Close(*msginterfaces.CloseResponse) error       { return nil }
func (u *utterance) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (u *utterance) UnhandledEvent([]byte) error                    { return nil }
