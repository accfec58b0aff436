package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/ingest"
	"github.com/dusky-tts/dusky/internal/playback"
	"github.com/dusky-tts/dusky/internal/queue"
	"github.com/dusky-tts/dusky/internal/synth"
	"github.com/dusky-tts/dusky/internal/text"
)

// Generate speaks one Job. Sentences are synthesized in order and queued
// for playback as a single stream; synthesis stops early when playback is
// interrupted. The audio that was produced is saved as one WAV file. An
// engine failure abandons the Job and discards the engine.
func (d *Daemon) Generate(ctx context.Context, job ingest.Job) error {
	engine, err := d.loader.Acquire(ctx)
	if err != nil {
		d.logger.Error("Failed to load synthesis engine", "error", err)
		d.metrics.EngineErrors.Inc()
		return err
	}

	sentences := text.Split(job.Text)
	if len(sentences) == 0 {
		d.logger.Warn("No sentences to synthesize")
		return nil
	}

	session := d.newSession()
	d.logger.Info("Generating", "slug", text.Slug(job.Text), "sentences", len(sentences), "session", session)

	var chunks []audio.Chunk
	for i, sentence := range sentences {
		if d.stopping(ctx) {
			d.logger.Info("Generation halted mid-stream", "spoken", len(chunks), "sentences", len(sentences))
			break
		}
		d.logger.Debug("Synthesizing", "sentence", i+1, "of", len(sentences), "text", truncate(sentence, 60))

		start := time.Now()
		res, err := engine.Synthesize(ctx, synth.Request{
			Text:  sentence,
			Voice: d.opts.Voice,
			Speed: d.opts.Speed,
			Lang:  d.opts.Lang,
		})
		d.loader.Touch()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("Generation failed", "sentence", i+1, "error", err)
			d.metrics.EngineErrors.Inc()
			d.loader.Invalidate()
			return err
		}
		d.metrics.ObserveSynthesis(time.Since(start))

		if res.Empty() {
			d.logger.Warn("Sentence produced no audio, skipping", "sentence", i+1)
			d.metrics.SentencesSkipped.Inc()
			continue
		}

		chunk := audio.Chunk{Samples: res.Samples, SampleRate: res.SampleRate, Session: session}
		chunks = append(chunks, chunk)
		d.metrics.SentencesSpoken.Inc()
		d.enqueue(ctx, chunk)
	}

	if len(chunks) == 0 {
		d.logger.Warn("No audio generated, nothing to save")
		return nil
	}

	d.endStream(ctx)
	d.save(job.Text, chunks)
	return nil
}

// enqueue hands chunk to the player, waiting while the audio queue is
// full. It gives up when playback is interrupted.
func (d *Daemon) enqueue(ctx context.Context, chunk audio.Chunk) {
	item := playback.Item{Chunk: &chunk}
	for !d.stopping(ctx) {
		err := d.audio.PushTimeout(ctx, item, d.opts.Playback.PollInterval)
		if errors.Is(err, queue.ErrQueueFull) {
			continue
		}
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("Failed to queue audio", "error", err)
		}
		return
	}
}

// endStream queues the end-of-stream marker so the player can finish.
func (d *Daemon) endStream(ctx context.Context) {
	err := d.audio.PushTimeout(ctx, playback.Item{EndOfStream: true}, d.opts.EndOfStreamTimeout)
	if err != nil {
		d.logger.Warn("Could not send end-of-stream marker", "error", err)
	}
}

func (d *Daemon) save(msg string, chunks []audio.Chunk) {
	if d.store == nil {
		return
	}
	samples := audio.Concat(chunks)
	rate := chunks[len(chunks)-1].SampleRate

	path, err := d.store.Save(msg, samples, rate)
	if err != nil {
		d.logger.Error("Failed to save audio", "error", err)
		return
	}
	length := audio.Duration(len(samples), rate)
	d.metrics.SavedAudioSeconds.Add(length.Seconds())
	d.logger.Info("Saved",
		"file", filepath.Base(path),
		"sentences", len(chunks),
		"length", length.Round(100*time.Millisecond),
		"size", humanize.Bytes(uint64(len(samples)*2)))
}

func (d *Daemon) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || d.halt.IsSet()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
