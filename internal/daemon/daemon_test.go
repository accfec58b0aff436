package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/ingest"
	"github.com/dusky-tts/dusky/internal/playback"
	"github.com/dusky-tts/dusky/internal/queue"
	"github.com/dusky-tts/dusky/internal/synth"
)

// scriptedEngine returns one sample per sentence, valued by call number,
// and runs hook before answering.
type scriptedEngine struct {
	calls atomic.Int32
	hook  func(call int, req synth.Request) (synth.Result, error)

	mu   sync.Mutex
	seen []string
}

func (e *scriptedEngine) Synthesize(_ context.Context, req synth.Request) (synth.Result, error) {
	n := int(e.calls.Add(1))
	e.mu.Lock()
	e.seen = append(e.seen, req.Text)
	e.mu.Unlock()
	if e.hook != nil {
		return e.hook(n, req)
	}
	return synth.Result{Samples: []float32{float32(n) / 10}, SampleRate: audio.DefaultSampleRate}, nil
}

func (e *scriptedEngine) Close() error { return nil }

func (e *scriptedEngine) sentences() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

type recordingProcess struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	done   chan struct{}
}

func (p *recordingProcess) PID() int { return 4242 }

func (p *recordingProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *recordingProcess) Write(b []byte, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, b...)
	return nil
}

func (p *recordingProcess) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingProcess) Terminate() error { return p.Kill() }

func (p *recordingProcess) Kill() error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

func (p *recordingProcess) Done() <-chan struct{} { return p.done }

func (p *recordingProcess) snapshot() ([]float32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audio.DecodeFloat32LE(p.data), p.closed
}

type recordingLauncher struct {
	mu    sync.Mutex
	procs []*recordingProcess
}

func (l *recordingLauncher) Launch(context.Context) (playback.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &recordingProcess{done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *recordingLauncher) last() *recordingProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

func testOptions(dir string) Options {
	return Options{
		FIFOPath:           filepath.Join(dir, "dusky.fifo"),
		PIDPath:            filepath.Join(dir, "dusky.pid"),
		ReadyPath:          filepath.Join(dir, "dusky.ready"),
		Voice:              "af_sarah",
		Speed:              1,
		Lang:               "en-us",
		QueueSize:          5,
		JobPoll:            20 * time.Millisecond,
		EndOfStreamTimeout: 100 * time.Millisecond,
		FlushCooldown:      20 * time.Millisecond,
		Ingest: ingest.Config{
			PollInterval: 20 * time.Millisecond,
			DedupWindow:  2 * time.Second,
			ReadSize:     4096,
			ErrorPause:   50 * time.Millisecond,
		},
		Playback: playback.Config{
			WriteTimeout: time.Second,
			StopTimeout:  100 * time.Millisecond,
			ReapTimeout:  time.Second,
			PollInterval: 10 * time.Millisecond,
		},
	}
}

func newTestDaemon(t *testing.T, engine synth.Engine, launcher playback.Launcher) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard)
	loader := synth.NewLoader(func(context.Context) (synth.Engine, error) { return engine, nil }, time.Minute, logger)
	outDir := filepath.Join(dir, "audio")
	d := New(testOptions(dir), Deps{
		Loader:   loader,
		Launcher: launcher,
		Store:    audio.NewStore(outDir),
		Logger:   logger,
	})
	return d, outDir
}

func drainItems(d *Daemon) []playback.Item {
	var items []playback.Item
	for {
		item, err := d.audio.Pop(context.Background(), 0)
		if err != nil {
			return items
		}
		items = append(items, item)
	}
}

func TestGenerate_EndToEnd(t *testing.T) {
	engine := &scriptedEngine{}
	d, outDir := newTestDaemon(t, engine, &recordingLauncher{})

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "4_earlier.wav"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	job := ingest.Job{Text: "Dr. Smith said hello. He left.", Received: time.Now()}
	if err := d.Generate(context.Background(), job); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got := engine.sentences(); len(got) != 2 || got[0] != "Dr. Smith said hello." || got[1] != "He left." {
		t.Fatalf("unexpected sentences %q", got)
	}

	items := drainItems(d)
	if len(items) != 3 {
		t.Fatalf("expected 2 chunks and end of stream, got %d items", len(items))
	}
	first, second := items[0].Chunk, items[1].Chunk
	if first == nil || second == nil || !items[2].EndOfStream {
		t.Fatalf("unexpected item order: %+v", items)
	}
	if first.Session == "" || first.Session != second.Session {
		t.Errorf("chunks must share one session, got %q and %q", first.Session, second.Session)
	}
	if first.Samples[0] != 0.1 || second.Samples[0] != 0.2 {
		t.Errorf("chunks out of order: %v %v", first.Samples, second.Samples)
	}

	wav := filepath.Join(outDir, "5_dr_smith_said_hello_he.wav")
	info, err := os.Stat(wav)
	if err != nil {
		t.Fatalf("expected %s: %v", wav, err)
	}
	// 44 byte header plus two 16-bit samples
	if info.Size() != 48 {
		t.Errorf("unexpected wav size %d", info.Size())
	}
}

func TestGenerate_NewSessionPerJob(t *testing.T) {
	d, _ := newTestDaemon(t, &scriptedEngine{}, &recordingLauncher{})

	_ = d.Generate(context.Background(), ingest.Job{Text: "One."})
	_ = d.Generate(context.Background(), ingest.Job{Text: "Two."})

	items := drainItems(d)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	if items[0].Chunk.Session == items[2].Chunk.Session {
		t.Error("each job must get its own session")
	}
}

func TestGenerate_SkipsEmptyAudio(t *testing.T) {
	engine := &scriptedEngine{hook: func(call int, _ synth.Request) (synth.Result, error) {
		if call == 2 {
			return synth.Result{SampleRate: audio.DefaultSampleRate}, nil
		}
		return synth.Result{Samples: []float32{0.5}, SampleRate: audio.DefaultSampleRate}, nil
	}}
	d, _ := newTestDaemon(t, engine, &recordingLauncher{})

	if err := d.Generate(context.Background(), ingest.Job{Text: "One. Two. Three."}); err != nil {
		t.Fatal(err)
	}
	items := drainItems(d)
	if len(items) != 3 || !items[2].EndOfStream {
		t.Errorf("expected 2 chunks and end of stream, got %d items", len(items))
	}
}

func TestGenerate_NothingSpokenSendsNoEndOfStream(t *testing.T) {
	engine := &scriptedEngine{hook: func(int, synth.Request) (synth.Result, error) {
		return synth.Result{}, nil
	}}
	d, outDir := newTestDaemon(t, engine, &recordingLauncher{})

	if err := d.Generate(context.Background(), ingest.Job{Text: "Hello."}); err != nil {
		t.Fatal(err)
	}
	if n := d.audio.Len(); n != 0 {
		t.Errorf("expected empty audio queue, got %d", n)
	}
	if _, err := os.Stat(outDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("nothing should be saved")
	}
}

func TestGenerate_EngineErrorAbandonsJob(t *testing.T) {
	boom := errors.New("onnx runtime error")
	engine := &scriptedEngine{hook: func(call int, _ synth.Request) (synth.Result, error) {
		if call == 2 {
			return synth.Result{}, boom
		}
		return synth.Result{Samples: []float32{0.5}, SampleRate: audio.DefaultSampleRate}, nil
	}}
	d, outDir := newTestDaemon(t, engine, &recordingLauncher{})

	err := d.Generate(context.Background(), ingest.Job{Text: "One. Two. Three."})
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if engine.calls.Load() != 2 {
		t.Errorf("no sentence should follow a failure, got %d calls", engine.calls.Load())
	}
	if d.loader.State() != synth.StateUnloaded {
		t.Error("failed engine should be discarded")
	}
	items := drainItems(d)
	if len(items) != 1 || items[0].EndOfStream {
		t.Errorf("expected only the first chunk queued, got %+v", items)
	}
	if _, err := os.Stat(outDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("abandoned job should not be saved")
	}
}

func TestServe_HaltAndDrain(t *testing.T) {
	var d *Daemon
	engine := &scriptedEngine{}
	engine.hook = func(call int, _ synth.Request) (synth.Result, error) {
		if call == 2 {
			// the user closes the player while sentence two is synthesized
			d.halt.Set("player closed")
		}
		return synth.Result{Samples: []float32{float32(call)}, SampleRate: audio.DefaultSampleRate}, nil
	}
	d, _ = newTestDaemon(t, engine, &recordingLauncher{})

	for _, msg := range []string{"One. Two. Three.", "Queued behind.", "Also queued."} {
		_ = d.jobs.Push(ingest.Job{Text: msg})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.serve(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for d.jobs.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// let the flush cooldown and a few idle polls pass
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if got := engine.sentences(); len(got) != 2 {
		t.Fatalf("expected synthesis to stop after sentence two, got %q", got)
	}
	if d.jobs.Len() != 0 {
		t.Errorf("pending jobs should be flushed, %d left", d.jobs.Len())
	}

	items := drainItems(d)
	if len(items) != 2 {
		t.Fatalf("expected first chunk and end of stream, got %d items", len(items))
	}
	if items[0].Chunk == nil || items[0].Chunk.Samples[0] != 1 {
		t.Errorf("expected sentence one queued, got %+v", items[0])
	}
	if !items[1].EndOfStream {
		t.Error("end of stream must still be sent after a halt")
	}
}

func TestServe_FlushCatchesLateJobs(t *testing.T) {
	var d *Daemon
	engine := &scriptedEngine{}
	engine.hook = func(call int, _ synth.Request) (synth.Result, error) {
		if call == 2 {
			d.halt.Set("player closed")
		}
		return synth.Result{Samples: []float32{float32(call)}, SampleRate: audio.DefaultSampleRate}, nil
	}
	d, _ = newTestDaemon(t, engine, &recordingLauncher{})
	d.opts.FlushCooldown = 300 * time.Millisecond

	_ = d.jobs.Push(ingest.Job{Text: "One. Two. Three."})
	_ = d.jobs.Push(ingest.Job{Text: "Queued behind."})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitDrained := func(n int64) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for d.jobs.Stats().TotalDrained < n {
			if time.Now().After(deadline) {
				t.Fatalf("expected %d flushed jobs, got %d", n, d.jobs.Stats().TotalDrained)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}

	// the first drain removes the queued job; a message arriving during
	// the cooldown is caught by the second
	waitDrained(1)
	_ = d.jobs.Push(ingest.Job{Text: "Late arrival."})
	waitDrained(2)

	// give serve time to pick up anything that escaped the flush
	time.Sleep(100 * time.Millisecond)
	if got := engine.sentences(); len(got) != 2 {
		t.Errorf("late message must not be spoken, synthesized %q", got)
	}
	if got := testutil.ToFloat64(d.metrics.FlushedJobs); got != 2 {
		t.Errorf("flushed jobs metric = %v, want 2", got)
	}
}

func TestRun_Lifecycle(t *testing.T) {
	launcher := &recordingLauncher{}
	d, outDir := newTestDaemon(t, &scriptedEngine{}, launcher)
	opts := d.opts

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := ingest.WaitReady(waitCtx, opts.ReadyPath); err != nil {
		cancel()
		if runErr := <-errc; runErr != nil {
			t.Skipf("daemon could not start: %v", runErr)
		}
		t.Fatalf("daemon never became ready: %v", err)
	}

	pid, err := ReadPID(opts.PIDPath)
	if err != nil || pid != os.Getpid() {
		t.Errorf("unexpected pid file: %d %v", pid, err)
	}

	if err := ingest.Send(opts.FIFOPath, "Hello there. Goodbye."); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var samples []float32
	var closed bool
	for time.Now().Before(deadline) {
		if p := launcher.last(); p != nil {
			if samples, closed = p.snapshot(); closed {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !closed || len(samples) != 2 {
		t.Fatalf("expected two sentences played and the stream finished, got %v closed=%v", samples, closed)
	}

	// the job completes once its audio is saved, which can trail playback
	for d.completed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	status := d.Status()
	if status.Engine != "loaded" || status.Completed != 1 {
		t.Errorf("unexpected status %+v", status)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if err := d.jobs.Push(ingest.Job{Text: "Too late."}); !errors.Is(err, queue.ErrQueueClosed) {
		t.Errorf("job queue should be closed after shutdown, got %v", err)
	}
	for _, path := range []string{opts.FIFOPath, opts.PIDPath, opts.ReadyPath} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should be removed on shutdown", path)
		}
	}

	entries, _ := os.ReadDir(outDir)
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "1_hello_there_goodbye") {
		t.Errorf("unexpected saved files %v", entries)
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dusky.pid")
	if _, err := ReadPID(path); !errors.Is(err, ErrNoPIDFile) {
		t.Errorf("expected ErrNoPIDFile, got %v", err)
	}
	if err := WritePID(path, 1234); err != nil {
		t.Fatal(err)
	}
	if pid, err := ReadPID(path); err != nil || pid != 1234 {
		t.Errorf("ReadPID = %d, %v", pid, err)
	}
	_ = os.WriteFile(path, []byte("garbage"), 0o644)
	if _, err := ReadPID(path); err == nil {
		t.Error("expected error for malformed pid file")
	}
	if !ProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 60); got != "short" {
		t.Errorf("truncate changed a short string: %q", got)
	}
	if got := truncate(strings.Repeat("a", 70), 60); len(got) != 63 {
		t.Errorf("unexpected truncation %q", got)
	}
}
