package synth

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/dusky-tts/dusky/internal/audio"
)

// Tone engine timing at speed 1.0.
const (
	toneWordLength = 150 * time.Millisecond
	toneGapLength  = 50 * time.Millisecond
	toneFrequency  = 440.0
	toneAmplitude  = 0.2
)

// ToneEngine renders one short beep per word. It needs no model and is
// used for testing the pipeline end to end and on machines without a
// speech model installed.
type ToneEngine struct {
	// SampleRate of the produced audio; DefaultSampleRate when zero.
	SampleRate int
	// Delay simulates model latency per request.
	Delay time.Duration

	closed bool
}

// NewToneEngine creates a tone engine at the default sample rate.
func NewToneEngine() *ToneEngine {
	return &ToneEngine{SampleRate: audio.DefaultSampleRate}
}

// Synthesize implements Engine. Sentences without letters or digits
// produce no audio.
func (e *ToneEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	if e.closed {
		return Result{}, ErrEngineClosed
	}
	if req.Text == "" {
		return Result{}, ErrEmptyText
	}
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	rate := e.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}

	words := 0
	for _, w := range strings.Fields(req.Text) {
		if strings.IndexFunc(w, isSpoken) >= 0 {
			words++
		}
	}
	if words == 0 {
		return Result{SampleRate: rate}, nil
	}

	word := int(math.Round(toneWordLength.Seconds() / speed * float64(rate)))
	gap := int(math.Round(toneGapLength.Seconds() / speed * float64(rate)))
	samples := make([]float32, 0, words*(word+gap))
	for range words {
		samples = appendTone(samples, word, rate)
		samples = append(samples, make([]float32, gap)...)
	}
	return Result{Samples: samples, SampleRate: rate}, nil
}

// Close implements Engine.
func (e *ToneEngine) Close() error {
	e.closed = true
	return nil
}

func isSpoken(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// appendTone appends n samples of a sine tone with short linear ramps at
// both ends to avoid clicks.
func appendTone(dst []float32, n, rate int) []float32 {
	ramp := min(rate/200, n/2)
	for i := range n {
		gain := 1.0
		if i < ramp {
			gain = float64(i) / float64(ramp)
		} else if n-i <= ramp {
			gain = float64(n-i-1) / float64(ramp)
		}
		v := toneAmplitude * gain * math.Sin(2*math.Pi*toneFrequency*float64(i)/float64(rate))
		dst = append(dst, float32(v))
	}
	return dst
}
