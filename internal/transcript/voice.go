package transcript

import (
	"encoding/binary"
	"math"
)

// voiceRMS is the energy below which a batch is treated as silence.
const voiceRMS = 250.0

// Silent reports whether 16-bit little-endian PCM carries no voice energy.
// Batches shorter than 10ms are never considered silent.
func Silent(pcm []byte) bool {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return false
	}
	step := 1
	if len(pcm) > 3200 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return true
	}
	return math.Sqrt(sumSquares/float64(count)) < voiceRMS
}
