package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dusky-tts/dusky/internal/text"
)

// WAV layout for persisted utterances.
const (
	wavBitDepth = 16
	wavPCM      = 1
)

// ErrNoSamples is returned when there is nothing to persist.
var ErrNoSamples = errors.New("no samples to save")

// Store persists finished utterances as numbered WAV files.
type Store struct {
	dir string
}

// NewStore creates a store writing into dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes samples to "<index>_<slug>.wav", where index is one past the
// highest index already present and slug is derived from text. It returns
// the path written.
func (s *Store) Save(txt string, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoSamples
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create output directory: %w", err)
	}

	idx, err := NextIndex(s.dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%d_%s.wav", idx, text.Slug(txt)))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("unable to create wav file: %w", err)
	}
	if err := encodeWAV(f, samples, sampleRate); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("unable to close wav file: %w", err)
	}
	return path, nil
}

func encodeWAV(f *os.File, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, Channels, wavPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = floatToPCM16(s)
	}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: Channels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("unable to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("unable to finalize wav: %w", err)
	}
	return nil
}

func floatToPCM16(s float32) int {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int(math.Round(v * math.MaxInt16))
}

// NextIndex returns one more than the largest numeric prefix among the
// "<n>_*.wav" files in dir, or 1 when there are none. A missing directory
// is not an error.
func NextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unable to list output directory: %w", err)
	}

	maxIdx := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".wav" {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		if !isDigits(prefix) {
			continue
		}
		idx, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	return maxIdx + 1, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
