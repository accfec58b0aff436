package synth

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Engine kinds accepted by NewFactory.
const (
	KindWorker = "worker"
	KindTone   = "tone"
)

// NewFactory returns a factory for the named engine kind.
func NewFactory(kind string, worker WorkerConfig, logger *log.Logger) (Factory, error) {
	switch kind {
	case KindWorker:
		return func(context.Context) (Engine, error) {
			return NewWorkerEngine(worker, logger)
		}, nil
	case KindTone:
		return func(context.Context) (Engine, error) {
			return NewToneEngine(), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}
