package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/config"
	"github.com/dusky-tts/dusky/internal/halt"
	"github.com/dusky-tts/dusky/internal/ingest"
	"github.com/dusky-tts/dusky/internal/metrics"
	"github.com/dusky-tts/dusky/internal/playback"
	"github.com/dusky-tts/dusky/internal/queue"
	"github.com/dusky-tts/dusky/internal/synth"
)

// ReasonShutdown is the halt reason raised when the daemon stops.
const ReasonShutdown = "shutdown"

// Options holds the daemon settings.
type Options struct {
	FIFOPath  string
	PIDPath   string
	ReadyPath string

	Voice string
	Speed float64
	Lang  string

	// QueueSize bounds the audio waiting for the player.
	QueueSize int
	// JobPoll is how long the dispatch loop waits for a Job before
	// checking whether the engine has gone idle.
	JobPoll time.Duration
	// EndOfStreamTimeout bounds the wait to queue the end-of-stream marker.
	EndOfStreamTimeout time.Duration
	// FlushCooldown is the pause between the two drains of the job queue
	// after an interruption, so messages still in the pipe are caught.
	FlushCooldown time.Duration

	Ingest   ingest.Config
	Playback playback.Config
}

// OptionsFromConfig maps the configuration file onto daemon Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		FIFOPath:           cfg.FIFOPath,
		PIDPath:            cfg.PIDPath,
		ReadyPath:          cfg.ReadyPath,
		Voice:              cfg.Voice,
		Speed:              cfg.Speed,
		Lang:               cfg.Lang,
		QueueSize:          cfg.QueueSize,
		JobPoll:            cfg.Timing.JobPoll,
		EndOfStreamTimeout: cfg.Timing.EndOfStream,
		FlushCooldown:      cfg.Timing.FlushCooldown,
		Ingest: ingest.Config{
			PollInterval: cfg.Timing.PipePoll,
			DedupWindow:  cfg.Timing.DedupWindow,
			ReadSize:     64 * 1024,
			ErrorPause:   cfg.Timing.ReadErrorPause,
		},
		Playback: playback.Config{
			WriteTimeout: cfg.Timing.WriteTimeout,
			StopTimeout:  cfg.Timing.StopTimeout,
			ReapTimeout:  cfg.Timing.ReapTimeout,
			PollInterval: cfg.Timing.AudioPoll,
		},
	}
}

// Deps are the daemon's collaborators.
type Deps struct {
	// Loader owns the synthesis engine.
	Loader *synth.Loader
	// Launcher starts audio players.
	Launcher playback.Launcher
	// Store saves finished utterances; nil disables saving.
	Store *audio.Store
	// Metrics records activity; a private set is created when nil.
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Daemon is the text-to-speech service.
type Daemon struct {
	opts    Options
	loader  *synth.Loader
	player  *playback.Manager
	store   *audio.Store
	metrics *metrics.Metrics
	logger  *log.Logger

	halt  halt.Flag
	jobs  *queue.Queue[ingest.Job]
	audio *queue.Queue[playback.Item]

	newSession func() string
	started    time.Time
	completed  atomic.Int64
}

// New creates a daemon.
func New(opts Options, deps Deps) *Daemon {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	d := &Daemon{
		opts:       opts,
		loader:     deps.Loader,
		store:      deps.Store,
		metrics:    m,
		logger:     logger.WithPrefix("dispatch"),
		jobs:       queue.New[ingest.Job](),
		audio:      queue.NewBounded[playback.Item](opts.QueueSize),
		newSession: uuid.NewString,
	}

	d.player = playback.NewManager(deps.Launcher, &d.halt, opts.Playback, logger.WithPrefix("playback"))
	d.player.OnSpawn = func() { m.PlayerSpawns.Inc() }
	d.player.OnHalt = func(reason string) { m.Halts.WithLabelValues(reason).Inc() }

	d.loader.OnLoad = func() { m.EngineLoads.Inc() }
	d.loader.OnEvict = func() { m.EngineEvictions.Inc() }
	return d
}

// Run serves until ctx is done. It owns the rendezvous files: the PID file
// is written first, the pipe is opened next, and the ready marker appears
// only once the pipe can accept messages. All three are removed on return.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()
	if err := WritePID(d.opts.PIDPath, os.Getpid()); err != nil {
		return err
	}
	defer d.remove(d.opts.PIDPath)

	fifo, err := ingest.SetupFIFO(d.opts.FIFOPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := fifo.Remove(); err != nil {
			d.logger.Warn("Failed to remove pipe", "path", d.opts.FIFOPath, "error", err)
		}
	}()

	reader := ingest.NewReader(fifo, d.jobs, d.opts.Ingest, d.logger.WithPrefix("ingest"))
	reader.OnResult = func(result string) { d.metrics.Messages.WithLabelValues(result).Inc() }

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.player.Run(runCtx, d.audio)
	}()
	go func() {
		defer wg.Done()
		reader.Run(runCtx)
	}()

	if err := touch(d.opts.ReadyPath); err != nil {
		d.logger.Error("Failed to create ready marker", "path", d.opts.ReadyPath, "error", err)
	}
	defer d.remove(d.opts.ReadyPath)
	d.logger.Info("Daemon ready", "pid", os.Getpid(), "pipe", fifo.Path())

	d.serve(runCtx)

	d.logger.Info("Shutting down")
	d.halt.Set(ReasonShutdown)
	cancel()
	d.jobs.Close()
	d.audio.Close()
	wg.Wait()
	d.player.Close()
	if err := d.loader.Close(); err != nil {
		d.logger.Warn("Failed to close synthesis engine", "error", err)
	}
	return nil
}

// serve is the dispatch loop.
func (d *Daemon) serve(ctx context.Context) {
	for {
		job, err := d.jobs.Pop(ctx, d.opts.JobPoll)
		d.metrics.PendingJobs.Set(float64(d.jobs.Len()))
		if errors.Is(err, queue.ErrQueueEmpty) {
			d.loader.EvictIfIdle()
			continue
		}
		if err != nil {
			return
		}

		d.halt.Clear()
		if err := d.Generate(ctx, job); err == nil {
			d.completed.Add(1)
		}

		if d.halt.IsSet() && ctx.Err() == nil {
			d.flush(ctx)
		}
	}
}

// flush discards pending Jobs after an interruption. The second drain,
// after the cooldown, catches messages that were still in the pipe when
// the user stopped playback.
func (d *Daemon) flush(ctx context.Context) {
	d.logger.Info("Playback interrupted, flushing pending messages", "reason", d.halt.Reason())
	n := d.jobs.Drain()

	timer := time.NewTimer(d.opts.FlushCooldown)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	n += d.jobs.Drain()
	if n > 0 {
		d.logger.Info("Flushed pending messages", "count", n)
		d.metrics.FlushedJobs.Add(float64(n))
	}
	d.metrics.PendingJobs.Set(0)
}

// Status describes the running daemon.
type Status struct {
	Status      string            `json:"status"`
	PID         int               `json:"pid"`
	Uptime      string            `json:"uptime"`
	Engine      string            `json:"engine"`
	PendingJobs int               `json:"pending_jobs"`
	QueuedAudio int               `json:"queued_audio"`
	Completed   int64             `json:"completed_jobs"`
	Discarded   int64             `json:"discarded_audio"`
	Halted      string            `json:"halted,omitempty"`
	Player      playback.Snapshot `json:"player"`
}

// Status returns a snapshot for the health endpoint.
func (d *Daemon) Status() Status {
	return Status{
		Status:      "ok",
		PID:         os.Getpid(),
		Uptime:      time.Since(d.started).Round(time.Second).String(),
		Engine:      d.loader.State().String(),
		PendingJobs: d.jobs.Len(),
		QueuedAudio: d.audio.Len(),
		Completed:   d.completed.Load(),
		Discarded:   d.audio.Stats().TotalDrained,
		Halted:      d.halt.Reason(),
		Player:      d.player.Snapshot(),
	}
}

func (d *Daemon) remove(path string) {
	if err := removeIfExists(path); err != nil {
		d.logger.Warn("Failed to remove file", "path", path, "error", err)
	}
}
