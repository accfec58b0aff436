package ingest

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/dusky-tts/dusky/internal/queue"
	"github.com/dusky-tts/dusky/internal/text"
)

// Outcomes of Accept, reported to Reader.OnResult.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultEmpty     = "empty"
)

// Job is one message to speak.
type Job struct {
	// Text is the cleaned message.
	Text     string
	Received time.Time
	// Hash identifies the raw message for duplicate suppression.
	Hash uint64
}

// Config holds the reader's timing.
type Config struct {
	// PollInterval bounds each wait for the pipe to become readable, and
	// so how quickly Run notices cancellation.
	PollInterval time.Duration
	// DedupWindow is how long an identical message is ignored after it was
	// accepted.
	DedupWindow time.Duration
	// ReadSize is the buffer size of a single read.
	ReadSize int
	// ErrorPause is the minimum spacing between retries after read errors.
	ErrorPause time.Duration
}

// DefaultConfig returns the standard reader settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		DedupWindow:  2 * time.Second,
		ReadSize:     64 * 1024,
		ErrorPause:   time.Second,
	}
}

// Reader turns pipe reads into Jobs.
type Reader struct {
	fifo    *FIFO
	jobs    *queue.Queue[Job]
	config  Config
	logger  *log.Logger
	limiter *rate.Limiter

	lastHash uint64
	lastTime time.Time
	hasLast  bool

	// OnResult, when set, observes every non-empty read.
	OnResult func(result string)
}

// NewReader creates a reader that pushes Jobs read from fifo onto jobs.
func NewReader(fifo *FIFO, jobs *queue.Queue[Job], config Config, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	// The first error pauses too.
	limiter := rate.NewLimiter(rate.Every(config.ErrorPause), 1)
	limiter.Allow()
	return &Reader{
		fifo:    fifo,
		jobs:    jobs,
		config:  config,
		logger:  logger,
		limiter: limiter,
	}
}

// Run reads the pipe until ctx is done. Everything that arrives in one
// burst, up to the point where the pipe would block, becomes one message.
func (r *Reader) Run(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(r.fifo.Fd()), Events: unix.POLLIN}}
	timeout := int(r.config.PollInterval / time.Millisecond)

	for ctx.Err() == nil {
		n, err := unix.Poll(fds, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			r.logger.Error("Failed to poll pipe", "error", err)
			r.pause(ctx)
			continue
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		data, err := r.drain()
		if err != nil {
			r.logger.Error("Failed to read pipe", "error", err)
			r.pause(ctx)
			continue
		}
		if len(data) == 0 {
			continue
		}

		job, ok := r.Accept(data, time.Now())
		if !ok {
			continue
		}
		if err := r.jobs.Push(job); err != nil {
			r.logger.Debug("Dropping message, job queue closed")
			return
		}
	}
}

// drain reads until the pipe would block.
func (r *Reader) drain() ([]byte, error) {
	var data []byte
	buf := make([]byte, r.config.ReadSize)
	for {
		n, err := unix.Read(r.fifo.Fd(), buf)
		switch {
		case errors.Is(err, unix.EAGAIN):
			return data, nil
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return data, err
		case n == 0:
			return data, nil
		}
		data = append(data, buf[:n]...)
	}
}

func (r *Reader) pause(ctx context.Context) {
	_ = r.limiter.Wait(ctx)
}

// Accept decodes one raw message and decides whether it becomes a Job.
// Invalid UTF-8 is dropped, and a message identical to the previously
// accepted one within the dedup window is ignored.
func (r *Reader) Accept(data []byte, now time.Time) (Job, bool) {
	msg := strings.TrimSpace(decode(data))
	if msg == "" {
		return Job{}, false
	}

	h := xxhash.Sum64String(msg)
	if r.hasLast && h == r.lastHash && now.Sub(r.lastTime) < r.config.DedupWindow {
		r.logger.Info("Skipping duplicate")
		r.report(ResultDuplicate)
		return Job{}, false
	}
	r.lastHash, r.lastTime, r.hasLast = h, now, true

	cleaned := text.Clean(msg)
	if cleaned == "" {
		r.logger.Debug("Nothing speakable in message", "bytes", len(data))
		r.report(ResultEmpty)
		return Job{}, false
	}

	r.logger.Debug("Received message", "chars", utf8.RuneCountInString(cleaned))
	r.report(ResultAccepted)
	return Job{Text: cleaned, Received: now, Hash: h}, true
}

func (r *Reader) report(result string) {
	if r.OnResult != nil {
		r.OnResult(result)
	}
}

var dropInvalid = transform.Chain(
	runes.ReplaceIllFormed(),
	runes.Remove(runes.Predicate(func(r rune) bool { return r == utf8.RuneError })),
)

// decode returns data as a string with invalid UTF-8 sequences removed.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	s, _, err := transform.Bytes(dropInvalid, data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(s)
}
