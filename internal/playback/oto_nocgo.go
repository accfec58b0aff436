//go:build nocgo
// +build nocgo

package playback

import (
	"context"
	"errors"
	"time"
)

// OtoLauncher is unavailable without cgo.
type OtoLauncher struct {
	SampleRate int
	BufferSize time.Duration
}

// Launch always fails in nocgo builds.
func (OtoLauncher) Launch(context.Context) (Process, error) {
	return nil, errors.New("audio device output not available in nocgo build")
}
