package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/hraban/opus"
)

// SampleRate is the rate every decoder produces: 16kHz mono, 16-bit little endian.
const SampleRate = 16000

// maxFrameSamples covers the longest Opus frame (120ms) at SampleRate.
const maxFrameSamples = 1920

// Decoder turns one inbound audio_chunk payload into 16kHz PCM16LE mono.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// New returns a decoder for the configured input encoding ("pcm16" or "opus").
func New(encoding string) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "pcm16", "pcm_s16le", "linear16":
		return PCM16{}, nil
	case "opus":
		return NewOpus()
	default:
		return nil, fmt.Errorf("audio: unsupported input encoding %q", encoding)
	}
}

// PCM16 passes already-decoded PCM through unchanged.
type PCM16 struct{}

func (PCM16) Decode(frame []byte) ([]byte, error) {
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("audio: pcm16 frame has odd length %d", len(frame))
	}
	return frame, nil
}

// Opus decodes one Opus packet per chunk. Decoders carry inter-frame state, so
// each session owns its own.
type Opus struct {
	mu      sync.Mutex
	dec     *opus.Decoder
	samples []int16
}

func NewOpus() (*Opus, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decoder: %w", err)
	}
	return &Opus{dec: dec, samples: make([]int16, maxFrameSamples)}, nil
}

func (o *Opus) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.dec.Decode(frame, o.samples)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return samplesToPCM16LE(o.samples[:n]), nil
}

func samplesToPCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(s))
	}
	return out
}
