package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dusky-tts/dusky/internal/queue"
)

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	return NewReader(nil, queue.New[Job](), DefaultConfig(), log.New(io.Discard))
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
		ok   bool
	}{
		{"plain", []byte("Hello world."), "Hello world.", true},
		{"trimmed", []byte("  \n Hello. \n"), "Hello.", true},
		{"blank", []byte(" \n\t "), "", false},
		{"cleaned", []byte("See [docs](https://x.y) at https://example.com now!"), "See docs at Link now!", true},
		{"invalid utf8", []byte("caf\xff\xfee ok"), "cafe ok", true},
		{"nothing speakable", []byte("***"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader(t)
			job, ok := r.Accept(tt.in, time.Now())
			if ok != tt.ok {
				t.Fatalf("Accept() ok = %v, want %v", ok, tt.ok)
			}
			if job.Text != tt.want {
				t.Errorf("Accept() text = %q, want %q", job.Text, tt.want)
			}
		})
	}
}

func TestReader_FirstErrorPauses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorPause = 50 * time.Millisecond
	r := NewReader(nil, queue.New[Job](), cfg, log.New(io.Discard))

	for i := range 2 {
		start := time.Now()
		r.pause(context.Background())
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Errorf("pause %d returned after %v, want about %v", i+1, elapsed, cfg.ErrorPause)
		}
	}
}

func TestAccept_Dedup(t *testing.T) {
	r := newTestReader(t)
	var results []string
	r.OnResult = func(s string) { results = append(results, s) }

	t0 := time.Unix(1000, 0)
	if _, ok := r.Accept([]byte("Hello."), t0); !ok {
		t.Fatal("first message should be accepted")
	}
	if _, ok := r.Accept([]byte("Hello.\n"), t0.Add(time.Second)); ok {
		t.Error("identical message within the window should be skipped")
	}
	if _, ok := r.Accept([]byte("Other."), t0.Add(1500*time.Millisecond)); !ok {
		t.Error("different message should be accepted")
	}
	if _, ok := r.Accept([]byte("Other."), t0.Add(3600*time.Millisecond)); !ok {
		t.Error("identical message after the window should be accepted")
	}

	want := []string{ResultAccepted, ResultDuplicate, ResultAccepted, ResultAccepted}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestAccept_DedupWindowMeasuredFromAcceptance(t *testing.T) {
	r := newTestReader(t)
	t0 := time.Unix(1000, 0)

	_, _ = r.Accept([]byte("Hi."), t0)
	_, _ = r.Accept([]byte("Hi."), t0.Add(1900*time.Millisecond))
	// the skipped copy does not extend the window
	if _, ok := r.Accept([]byte("Hi."), t0.Add(2*time.Second)); !ok {
		t.Error("expected acceptance once the window since the last acceptance passed")
	}
}

func TestSetupFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dusky.fifo")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := SetupFIFO(path)
	if err != nil {
		t.Skipf("named pipes unavailable: %v", err)
	}
	defer f.Remove() //nolint:errcheck

	info, err := os.Lstat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("expected a named pipe, got mode %v", info.Mode())
	}

	// reopening an existing pipe works
	g, err := SetupFIFO(path)
	if err != nil {
		t.Fatalf("SetupFIFO on existing pipe failed: %v", err)
	}
	_ = g.Close()

	if err := f.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("pipe should be removed")
	}
}

func TestReaderRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dusky.fifo")
	f, err := SetupFIFO(path)
	if err != nil {
		t.Skipf("named pipes unavailable: %v", err)
	}
	defer f.Remove() //nolint:errcheck

	jobs := queue.New[Job]()
	config := DefaultConfig()
	config.PollInterval = 20 * time.Millisecond
	r := NewReader(f, jobs, config, log.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	if err := Send(path, "Dr. Smith said hello. He left.\n"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	job, err := jobs.Pop(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("expected a job: %v", err)
	}
	if job.Text != "Dr. Smith said hello. He left." {
		t.Errorf("unexpected job text %q", job.Text)
	}
	if job.Received.IsZero() || job.Hash == 0 {
		t.Errorf("job metadata missing: %+v", job)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSend_NotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.fifo")
	if err := Send(path, "hello"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestWaitReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dusky.ready")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitReady(ctx, path); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	// already present
	if err := WaitReady(ctx, path); err != nil {
		t.Errorf("WaitReady on existing marker failed: %v", err)
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dusky.ready")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := WaitReady(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
