package interview

import "sync"

// AudioBuffer accumulates inbound PCM and hands out batches for transcription,
// at most one at a time. Producers never wait for the consumer: while a batch
// is in flight new fragments collect in a fresh buffer.
type AudioBuffer struct {
	threshold int

	mu       sync.Mutex
	chunks   [][]byte
	size     int
	inFlight bool
	idle     chan struct{}
}

// NewAudioBuffer returns a buffer that releases a batch once threshold bytes
// have accumulated.
func NewAudioBuffer(threshold int) *AudioBuffer {
	idle := make(chan struct{})
	close(idle)
	return &AudioBuffer{threshold: threshold, idle: idle}
}

// Append adds a fragment. When the threshold is reached and no batch is in
// flight, the accumulated audio is swapped out and returned; the caller then
// owns the in-flight slot until it calls Release.
func (b *AudioBuffer) Append(fragment []byte) ([]byte, bool) {
	if len(fragment) == 0 {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, fragment)
	b.size += len(fragment)
	if b.inFlight || b.size < b.threshold {
		return nil, false
	}
	b.acquireLocked()
	return b.takeLocked(), true
}

// Flush swaps out whatever is buffered regardless of size, unless a batch is
// already in flight or nothing is buffered.
func (b *AudioBuffer) Flush() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight || b.size == 0 {
		return nil, false
	}
	b.acquireLocked()
	return b.takeLocked(), true
}

// Release ends the current in-flight batch. If enough audio arrived meanwhile
// to cross the threshold, that audio is returned as the next batch and the
// caller keeps the in-flight slot.
func (b *AudioBuffer) Release() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inFlight {
		return nil, false
	}
	if b.size > 0 && b.size >= b.threshold {
		return b.takeLocked(), true
	}
	b.inFlight = false
	close(b.idle)
	return nil, false
}

// Idle returns a channel closed once no batch is in flight.
func (b *AudioBuffer) Idle() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idle
}

// Buffered reports the number of bytes waiting for the next batch.
func (b *AudioBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *AudioBuffer) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

func (b *AudioBuffer) acquireLocked() {
	b.inFlight = true
	b.idle = make(chan struct{})
}

func (b *AudioBuffer) takeLocked() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.size = 0
	return out
}
