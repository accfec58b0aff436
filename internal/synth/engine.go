package synth

import (
	"context"
	"time"

	"github.com/dusky-tts/dusky/internal/audio"
)

// Engine converts one sentence into speech. Implementations are not
// required to be safe for concurrent use.
type Engine interface {
	// Synthesize returns mono float32 samples for req. A Result with no
	// samples means the engine produced no audio for this sentence, which
	// is not an error.
	Synthesize(ctx context.Context, req Request) (Result, error)

	// Close releases the engine's resources (model memory, worker process).
	Close() error
}

// Request is a single synthesis call.
type Request struct {
	Text  string
	Voice string
	Speed float64
	Lang  string
}

// Result is the audio produced for a Request.
type Result struct {
	Samples    []float32
	SampleRate int
}

// Empty reports whether the engine produced no audio.
func (r Result) Empty() bool {
	return len(r.Samples) == 0
}

// Duration returns the playback length of the result.
func (r Result) Duration() time.Duration {
	return audio.Duration(len(r.Samples), r.SampleRate)
}

// Factory creates a ready-to-use engine, typically by loading a model.
type Factory func(ctx context.Context) (Engine, error)
