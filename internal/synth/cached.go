package synth

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/cache"
)

// CachedEngine serves repeated sentences from a disk cache instead of
// running the model again. Entries are keyed on every request field that
// changes the audio.
type CachedEngine struct {
	engine Engine
	store  *cache.Disk
	logger *log.Logger
}

// NewCachedEngine wraps engine with store. The store is shared and is not
// closed by Close.
func NewCachedEngine(engine Engine, store *cache.Disk, logger *log.Logger) *CachedEngine {
	if logger == nil {
		logger = log.Default()
	}
	return &CachedEngine{engine: engine, store: store, logger: logger}
}

// Cached returns a factory that wraps every engine built by factory with
// store.
func Cached(factory Factory, store *cache.Disk, logger *log.Logger) Factory {
	return func(ctx context.Context) (Engine, error) {
		engine, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return NewCachedEngine(engine, store, logger), nil
	}
}

// Synthesize implements Engine.
func (e *CachedEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	key := requestKey(req)
	if data, ok := e.store.Get(key); ok {
		if res, ok := decodeResult(data); ok {
			e.logger.Debug("Synthesis cache hit", "key", key[:12])
			return res, nil
		}
	}

	res, err := e.engine.Synthesize(ctx, req)
	if err != nil || res.Empty() {
		return res, err
	}
	if err := e.store.Put(key, encodeResult(res)); err != nil {
		e.logger.Debug("Failed to cache synthesized audio", "error", err)
	}
	return res, nil
}

// Close closes the wrapped engine.
func (e *CachedEngine) Close() error {
	return e.engine.Close()
}

func requestKey(req Request) string {
	return cache.Key(req.Text, req.Voice, strconv.FormatFloat(req.Speed, 'f', -1, 64), req.Lang)
}

// encodeResult stores the sample rate as a 4-byte little-endian header
// followed by the float32 samples.
func encodeResult(res Result) []byte {
	buf := make([]byte, 4, 4+len(res.Samples)*audio.BytesPerSample)
	binary.LittleEndian.PutUint32(buf, uint32(res.SampleRate))
	return append(buf, audio.Float32LE(res.Samples)...)
}

func decodeResult(data []byte) (Result, bool) {
	if len(data) < 4 {
		return Result{}, false
	}
	rate := int(binary.LittleEndian.Uint32(data))
	if rate <= 0 {
		return Result{}, false
	}
	return Result{Samples: audio.DecodeFloat32LE(data[4:]), SampleRate: rate}, true
}
