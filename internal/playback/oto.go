//go:build !nocgo
// +build !nocgo

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoErr     error
)

func sharedContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		options := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		}
		log.Debug("Initializing audio device", "sample_rate", sampleRate, "buffer_size", bufferSize)

		ctx, ready, err := oto.NewContext(options)
		if err != nil {
			otoErr = fmt.Errorf("failed to create audio context: %w", err)
			return
		}
		select {
		case <-ready:
			otoContext = ctx
		case <-time.After(5 * time.Second):
			otoErr = errors.New("audio context initialization timeout")
		}
	})
	return otoContext, otoErr
}

// OtoLauncher plays audio in-process on the default output device. It has
// no window, so playback is only interrupted through the daemon.
type OtoLauncher struct {
	SampleRate int
	BufferSize time.Duration
}

// Launch implements Launcher.
func (l OtoLauncher) Launch(_ context.Context) (Process, error) {
	if l.BufferSize <= 0 {
		l.BufferSize = 50 * time.Millisecond
	}
	ctx, err := sharedContext(l.SampleRate, l.BufferSize)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	p := &otoProcess{
		reader: pr,
		writer: pw,
		player: ctx.NewPlayer(pr),
		done:   make(chan struct{}),
	}
	p.player.Play()
	return p, nil
}

// otoProcess adapts an oto player to Process. The device reads from an
// in-memory pipe, so a write blocks until the device has consumed the
// previous one.
type otoProcess struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	player *oto.Player

	once sync.Once
	done chan struct{}
}

func (p *otoProcess) PID() int {
	return 0
}

func (p *otoProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *otoProcess) Write(data []byte, timeout time.Duration) error {
	for len(data) > 0 {
		n := min(len(data), maxWrite)
		result := make(chan error, 1)
		go func(chunk []byte) {
			_, err := p.writer.Write(chunk)
			result <- err
		}(data[:n])

		timer := time.NewTimer(timeout)
		select {
		case err := <-result:
			timer.Stop()
			if err != nil {
				return ErrBrokenPipe
			}
		case <-timer.C:
			return ErrWriteTimeout
		}
		data = data[n:]
	}
	return nil
}

// CloseInput lets the device play out what it has, then marks the player
// done.
func (p *otoProcess) CloseInput() error {
	err := p.writer.Close()
	go func() {
		for p.player.IsPlaying() {
			select {
			case <-p.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
		p.finish()
	}()
	return err
}

func (p *otoProcess) Terminate() error {
	return p.Kill()
}

func (p *otoProcess) Kill() error {
	p.finish()
	return nil
}

func (p *otoProcess) finish() {
	p.once.Do(func() {
		p.player.Pause()
		_ = p.writer.CloseWithError(io.ErrClosedPipe)
		_ = p.reader.Close()
		_ = p.player.Close()
		close(p.done)
	})
}

func (p *otoProcess) Done() <-chan struct{} {
	return p.done
}
