package synth

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the lifecycle state of a Loader's engine.
type State int

const (
	// StateUnloaded means no engine is held.
	StateUnloaded State = iota
	// StateLoaded means an engine is held and ready.
	StateLoaded
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Loader owns the engine handle. It creates the engine lazily on Acquire
// and releases it when EvictIfIdle finds it unused for longer than the
// idle window. It is meant to be driven by a single dispatch goroutine; the
// mutex only protects State and Close calls made from elsewhere.
type Loader struct {
	factory Factory
	idle    time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	engine   Engine
	lastUsed time.Time

	// OnLoad and OnEvict, when set, are called after the transition.
	OnLoad  func()
	OnEvict func()
}

// NewLoader creates a loader that builds engines with factory and evicts
// them after idle.
func NewLoader(factory Factory, idle time.Duration, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{
		factory: factory,
		idle:    idle,
		logger:  logger,
		now:     time.Now,
	}
}

// Acquire returns the engine, loading it first if necessary, and marks it
// as used.
func (l *Loader) Acquire(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastUsed = l.now()
	if l.engine != nil {
		return l.engine, nil
	}

	l.logger.Info("Loading synthesis engine")
	start := time.Now()
	engine, err := l.factory(ctx)
	if err != nil {
		return nil, err
	}
	l.engine = engine
	l.lastUsed = l.now()
	l.logger.Info("Synthesis engine loaded", "took", time.Since(start).Round(time.Millisecond))
	if l.OnLoad != nil {
		l.OnLoad()
	}
	return engine, nil
}

// Touch marks the engine as used without loading it.
func (l *Loader) Touch() {
	l.mu.Lock()
	l.lastUsed = l.now()
	l.mu.Unlock()
}

// EvictIfIdle releases the engine when it has not been used within the
// idle window. It reports whether an eviction happened.
func (l *Loader) EvictIfIdle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine == nil || l.now().Sub(l.lastUsed) <= l.idle {
		return false
	}
	l.logger.Info("Idle timeout, releasing synthesis engine", "idle", l.idle)
	l.releaseLocked()
	if l.OnEvict != nil {
		l.OnEvict()
	}
	return true
}

// Invalidate discards the engine so the next Acquire recreates it.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine != nil {
		l.logger.Warn("Discarding synthesis engine")
		l.releaseLocked()
	}
}

// State reports whether an engine is currently loaded.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return StateUnloaded
	}
	return StateLoaded
}

// Close releases the engine, if any.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return nil
	}
	err := l.engine.Close()
	l.engine = nil
	return err
}

func (l *Loader) releaseLocked() {
	if err := l.engine.Close(); err != nil {
		l.logger.Warn("Failed to close synthesis engine", "error", err)
	}
	l.engine = nil
}
