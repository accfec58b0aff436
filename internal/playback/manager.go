package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/halt"
	"github.com/dusky-tts/dusky/internal/queue"
)

// Halt reasons raised by the Manager.
const (
	ReasonPlayerClosed = "player closed"
	ReasonPlayerHung   = "player write timeout"
	ReasonPlayerGone   = "player write failed"
	ReasonSpawnFailed  = "player spawn failed"
)

// Config holds the Manager's timing.
type Config struct {
	// WriteTimeout bounds how long the player may refuse audio before it
	// is considered hung.
	WriteTimeout time.Duration
	// StopTimeout is each grace period when stopping a player: after
	// SIGTERM, and again after SIGKILL.
	StopTimeout time.Duration
	// ReapTimeout is how long a finished stream may keep playing before
	// its player is killed.
	ReapTimeout time.Duration
	// PollInterval is how long Run waits for an item before housekeeping.
	PollInterval time.Duration
}

// DefaultConfig returns the standard playback timing.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 2 * time.Second,
		StopTimeout:  time.Second,
		ReapTimeout:  600 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

// Item is one entry of the audio queue: a chunk to play or the marker that
// its stream is complete.
type Item struct {
	Chunk       *audio.Chunk
	EndOfStream bool
}

// Snapshot describes the tracked player.
type Snapshot struct {
	Session string `json:"session,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Alive   bool   `json:"alive"`
}

// Manager tracks the single player process and the session it belongs to.
// All state transitions happen under one lock.
type Manager struct {
	launcher Launcher
	halt     *halt.Flag
	config   Config
	logger   *log.Logger

	mu      sync.Mutex
	proc    Process
	session string

	// OnSpawn and OnHalt, when set, observe player starts and the halts
	// this manager raises.
	OnSpawn func()
	OnHalt  func(reason string)
}

// NewManager creates a manager that starts players with launcher and
// raises flag when playback of the active stream fails.
func NewManager(launcher Launcher, flag *halt.Flag, config Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		launcher: launcher,
		halt:     flag,
		config:   config,
		logger:   logger,
	}
}

// PrepareForChunk returns the player for session. A chunk of the current
// session reuses its player; if that player has exited the user closed it,
// so the stream halts instead of respawning. A new session replaces any
// previous player.
func (m *Manager) PrepareForChunk(ctx context.Context, session string) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != "" && m.session == session {
		if m.proc != nil && m.proc.Alive() {
			return m.proc, nil
		}
		m.logger.Info("Player closed, halting stream", "session", session)
		m.clearLocked()
		m.raise(ReasonPlayerClosed)
		return nil, ErrHalted
	}

	if m.proc != nil && m.proc.Alive() {
		m.logger.Debug("Stopping player of previous stream", "pid", m.proc.PID(), "session", m.session)
		stop(m.proc, m.config.StopTimeout)
	}
	m.clearLocked()

	proc, err := m.launcher.Launch(ctx)
	if err != nil {
		m.logger.Error("Failed to start player", "error", err)
		m.raise(ReasonSpawnFailed)
		return nil, err
	}
	m.proc = proc
	m.session = session
	m.logger.Debug("Player started", "pid", proc.PID(), "session", session)
	if m.OnSpawn != nil {
		m.OnSpawn()
	}
	return proc, nil
}

// WriteChunk sends data to proc. On failure the player is abandoned (and
// killed if it hung) and the stream halts.
func (m *Manager) WriteChunk(proc Process, data []byte) error {
	err := proc.Write(data, m.config.WriteTimeout)
	if err == nil {
		return nil
	}

	reason := ReasonPlayerGone
	if errors.Is(err, ErrWriteTimeout) {
		reason = ReasonPlayerHung
		m.logger.Warn("Player stopped accepting audio, killing it", "pid", proc.PID(), "timeout", m.config.WriteTimeout)
		_ = proc.Kill()
	} else {
		m.logger.Info("Player input closed", "pid", proc.PID(), "error", err)
	}

	m.mu.Lock()
	if m.proc == proc {
		m.clearLocked()
	}
	m.raise(reason)
	m.mu.Unlock()
	return err
}

// FinishStream ends the current stream. The player keeps running until it
// has played everything it was sent; a background reaper kills it if that
// takes longer than ReapTimeout.
func (m *Manager) FinishStream() {
	m.mu.Lock()
	proc, session := m.proc, m.session
	m.clearLocked()
	m.mu.Unlock()

	if proc == nil {
		return
	}
	m.logger.Debug("Stream finished", "session", session, "pid", proc.PID())
	if err := proc.CloseInput(); err != nil {
		m.logger.Debug("Failed to close player input", "error", err)
	}
	go func() {
		if !waitDone(proc, m.config.ReapTimeout) {
			m.logger.Warn("Player still running after stream end, killing it", "pid", proc.PID())
			_ = proc.Kill()
		}
	}()
}

// Housekeep forgets a player that has exited. The session is kept so that
// a late chunk of that stream halts rather than opening a new player.
func (m *Manager) Housekeep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc != nil && !m.proc.Alive() {
		m.logger.Debug("Player exited", "pid", m.proc.PID(), "session", m.session)
		m.proc = nil
	}
}

// Run plays items from q in order until ctx ends or q is closed. While the
// halt flag is raised chunks are dropped, and the queue is emptied once
// each time the flag goes up.
func (m *Manager) Run(ctx context.Context, q *queue.Queue[Item]) {
	drained := false
	for {
		if m.halt.IsSet() {
			if !drained {
				if n := q.Drain(); n > 0 {
					m.logger.Info("Discarded queued audio", "items", n, "reason", m.halt.Reason())
				}
				drained = true
			}
		} else {
			drained = false
		}

		item, err := q.Pop(ctx, m.config.PollInterval)
		if errors.Is(err, queue.ErrQueueEmpty) {
			m.Housekeep()
			continue
		}
		if err != nil {
			return
		}

		if item.EndOfStream {
			m.FinishStream()
			continue
		}
		if item.Chunk == nil {
			continue
		}
		if m.halt.IsSet() {
			m.logger.Debug("Dropping chunk while halted", "session", item.Chunk.Session)
			continue
		}

		proc, err := m.PrepareForChunk(ctx, item.Chunk.Session)
		if err != nil {
			continue
		}
		_ = m.WriteChunk(proc, item.Chunk.Bytes())
	}
}

// Close stops the tracked player.
func (m *Manager) Close() {
	m.mu.Lock()
	proc := m.proc
	m.clearLocked()
	m.mu.Unlock()

	if proc != nil && proc.Alive() {
		m.logger.Debug("Stopping player", "pid", proc.PID())
		stop(proc, m.config.StopTimeout)
	}
}

// Snapshot returns the current session and player.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Session: m.session}
	if m.proc != nil {
		s.PID = m.proc.PID()
		s.Alive = m.proc.Alive()
	}
	return s
}

func (m *Manager) clearLocked() {
	m.proc = nil
	m.session = ""
}

func (m *Manager) raise(reason string) {
	if m.halt.Set(reason) && m.OnHalt != nil {
		m.OnHalt(reason)
	}
}
