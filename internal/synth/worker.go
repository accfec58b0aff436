package synth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"

	"github.com/dusky-tts/dusky/internal/audio"
)

// WorkerConfig configures a WorkerEngine.
type WorkerConfig struct {
	// Command is the worker command line, parsed with shell quoting rules.
	Command string
	// Timeout bounds a single synthesis request, including the first one
	// that has to load the model.
	Timeout time.Duration
	// CloseTimeout bounds how long Close waits for the worker to exit after
	// its stdin is closed before killing it.
	CloseTimeout time.Duration
	// Env is appended to the daemon's environment.
	Env []string
}

// workerRequest is one line written to the worker's stdin.
type workerRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Lang  string  `json:"lang,omitempty"`
}

// workerResponse is one line read from the worker's stdout. Audio holds
// little-endian float32 mono samples, base64 encoded on the wire.
type workerResponse struct {
	Audio      []byte `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Error      string `json:"error,omitempty"`
}

// WorkerEngine talks to a long-running model process over JSON lines. The
// model stays resident for as long as the engine is open, which is what the
// Loader's idle eviction reclaims.
type WorkerEngine struct {
	config WorkerConfig
	logger *log.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	done   chan struct{}
	closed bool
}

// NewWorkerEngine starts the worker process.
func NewWorkerEngine(config WorkerConfig, logger *log.Logger) (*WorkerEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 3 * time.Second
	}

	args, err := shellwords.Parse(config.Command)
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("worker command empty")
	}

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(), config.Env...)
	cmd.WaitDelay = time.Second
	cmd.Stderr = logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Engine: "worker", Op: "start", Cause: err}
	}

	e := &WorkerEngine{
		config: config,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<16),
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		logger.Debug("Synthesis worker exited", "pid", cmd.Process.Pid, "error", err)
		close(e.done)
	}()

	logger.Info("Synthesis worker started", "pid", cmd.Process.Pid, "command", args[0])
	return e, nil
}

// Synthesize sends req to the worker and waits for its reply.
func (e *WorkerEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Result{}, ErrEngineClosed
	}
	if req.Text == "" {
		return Result{}, ErrEmptyText
	}

	line, err := sonic.Marshal(workerRequest(req))
	if err != nil {
		return Result{}, &Error{Engine: "worker", Op: "encode", Cause: err}
	}
	line = append(line, '\n')

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	type reply struct {
		resp workerResponse
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		if _, err := e.stdin.Write(line); err != nil {
			replies <- reply{err: err}
			return
		}
		raw, err := e.stdout.ReadBytes('\n')
		if err != nil {
			replies <- reply{err: err}
			return
		}
		var resp workerResponse
		err = sonic.Unmarshal(raw, &resp)
		replies <- reply{resp: resp, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			return Result{}, &Error{Engine: "worker", Op: "synthesize", Cause: r.err}
		}
		if r.resp.Error != "" {
			return Result{}, &Error{Engine: "worker", Op: "synthesize", Cause: errors.New(r.resp.Error)}
		}
		return Result{
			Samples:    audio.DecodeFloat32LE(r.resp.Audio),
			SampleRate: r.resp.SampleRate,
		}, nil

	case <-ctx.Done():
		// The reader goroutine is stuck on a pipe we can no longer trust.
		e.killLocked()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, &Error{Engine: "worker", Op: "synthesize", Cause: ErrTimeout}
		}
		return Result{}, &Error{Engine: "worker", Op: "synthesize", Cause: ctx.Err()}

	case <-e.done:
		return Result{}, &Error{Engine: "worker", Op: "synthesize", Cause: errors.New("worker exited")}
	}
}

// Close asks the worker to exit by closing its stdin, killing it if it
// does not exit in time.
func (e *WorkerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.stdin.Close()

	select {
	case <-e.done:
		return nil
	case <-time.After(e.config.CloseTimeout):
		e.logger.Warn("Synthesis worker did not exit, killing", "pid", e.cmd.Process.Pid)
		e.killLocked()
		return nil
	}
}

func (e *WorkerEngine) killLocked() {
	e.closed = true
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.logger.Debug("Failed to kill synthesis worker", "error", err)
	}
	<-e.done
}
