package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Audio format constants for streamed speech.
const (
	// DefaultSampleRate is the nominal engine output rate in Hz.
	DefaultSampleRate = 24000
	// Channels is the number of audio channels (1 = mono)
	Channels = 1
	// BytesPerSample is the width of one float32 sample on the wire
	BytesPerSample = 4
)

// Chunk is the synthesized audio for one sentence, tagged with the stream
// session it belongs to.
type Chunk struct {
	Samples    []float32
	SampleRate int
	Session    string
}

// Bytes returns the chunk encoded as little-endian float32 PCM.
func (c Chunk) Bytes() []byte {
	return Float32LE(c.Samples)
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return Duration(len(c.Samples), c.SampleRate)
}

// Float32LE encodes samples as raw little-endian 32-bit floats.
func Float32LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*BytesPerSample:], math.Float32bits(s))
	}
	return buf
}

// DecodeFloat32LE is the inverse of Float32LE. Trailing bytes that do not
// form a whole sample are ignored.
func DecodeFloat32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerSample:]))
	}
	return samples
}

// Concat joins the samples of chunks in order.
func Concat(chunks []Chunk) []float32 {
	total := 0
	for _, c := range chunks {
		total += len(c.Samples)
	}
	out := make([]float32, 0, total)
	for _, c := range chunks {
		out = append(out, c.Samples...)
	}
	return out
}

// Duration calculates the playback length of n mono samples.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
