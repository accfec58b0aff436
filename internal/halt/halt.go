// Package halt provides the daemon-wide interruption signal.
//
// A Flag is set by whichever component first notices that the current
// utterance must stop (the player window was closed, a write failed, the
// daemon is shutting down) and is cleared by the dispatch loop only when it
// starts the next job.
package halt

import (
	"sync"
	"sync/atomic"
)

// Flag is a concurrency-safe halt signal that remembers why it was raised.
type Flag struct {
	set    atomic.Bool
	mu     sync.Mutex
	reason string
}

// Set raises the flag. It reports whether this call changed the state; the
// reason of the first caller wins.
func (f *Flag) Set(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set.Load() {
		return false
	}
	f.reason = reason
	f.set.Store(true)
	return true
}

// Clear lowers the flag.
func (f *Flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reason = ""
	f.set.Store(false)
}

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Reason returns why the flag was raised, or "" when it is clear.
func (f *Flag) Reason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}
