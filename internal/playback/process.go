package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Player errors.
var (
	// ErrHalted is returned when the player for the active session is gone
	// and the stream has been halted.
	ErrHalted = errors.New("playback halted")

	// ErrWriteTimeout means the player stopped accepting audio.
	ErrWriteTimeout = errors.New("player write timed out")

	// ErrBrokenPipe means the player closed its input.
	ErrBrokenPipe = errors.New("player input closed")
)

// maxWrite is the largest slice handed to a single pipe write.
const maxWrite = 64 * 1024

// Process is a running audio player that consumes mono float32 samples.
type Process interface {
	// PID identifies the player; zero for in-process players.
	PID() int
	// Alive reports whether the player is still running.
	Alive() bool
	// Write sends audio, failing with ErrWriteTimeout when any slice
	// cannot be written within timeout.
	Write(p []byte, timeout time.Duration) error
	// CloseInput signals end of audio; the player exits once it has
	// played what it received.
	CloseInput() error
	// Terminate asks the player to exit now.
	Terminate() error
	// Kill stops the player unconditionally.
	Kill() error
	// Done is closed when the player has exited.
	Done() <-chan struct{}
}

// Launcher starts players.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// execProcess is a player running as a child process, fed through a pipe
// on its stdin.
type execProcess struct {
	cmd   *exec.Cmd
	stdin *os.File
	done  chan struct{}
}

// startProcess runs name with args, feeding its stdin from a pipe whose
// write end supports deadlines.
func startProcess(name string, args, env []string, stderr io.Writer) (*execProcess, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create player pipe: %w", err)
	}

	cmd := exec.Command(name, args...) //nolint:gosec
	cmd.Stdin = r
	cmd.Stderr = stderr
	if env != nil {
		cmd.Env = env
	}
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// the child holds its own copy of the read end
	_ = r.Close()

	p := &execProcess{cmd: cmd, stdin: w, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Write(data []byte, timeout time.Duration) error {
	for len(data) > 0 {
		n := min(len(data), maxWrite)
		if err := p.stdin.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
		}
		written, err := p.stdin.Write(data[:n])
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				return ErrWriteTimeout
			case errors.Is(err, syscall.EPIPE), errors.Is(err, os.ErrClosed):
				return ErrBrokenPipe
			default:
				return fmt.Errorf("write to player: %w", err)
			}
		}
		data = data[written:]
	}
	return nil
}

func (p *execProcess) CloseInput() error {
	err := p.stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (p *execProcess) Terminate() error {
	return p.signal(unix.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *execProcess) signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

// stop shuts a player down: close its input, ask it to exit, and kill it
// if it is still running after wait.
func stop(p Process, wait time.Duration) {
	_ = p.CloseInput()
	_ = p.Terminate()
	if waitDone(p, wait) {
		return
	}
	_ = p.Kill()
	waitDone(p, wait)
}

func waitDone(p Process, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	}
}
