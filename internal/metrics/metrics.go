// Package metrics exposes daemon activity as Prometheus instruments and
// serves them, together with a health document, over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dusky"

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	registry *prometheus.Registry

	Messages          *prometheus.CounterVec
	SentencesSpoken   prometheus.Counter
	SentencesSkipped  prometheus.Counter
	Halts             *prometheus.CounterVec
	PlayerSpawns      prometheus.Counter
	EngineLoads       prometheus.Counter
	EngineEvictions   prometheus.Counter
	EngineErrors      prometheus.Counter
	FlushedJobs       prometheus.Counter
	PendingJobs       prometheus.Gauge
	SynthesisLatency  prometheus.Histogram
	SavedAudioSeconds prometheus.Counter
}

// New creates the instruments on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Pipe messages by outcome.",
		}, []string{"result"}),
		SentencesSpoken: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_synthesized_total",
			Help:      "Sentences synthesized and queued for playback.",
		}),
		SentencesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_skipped_total",
			Help:      "Sentences for which the engine produced no audio.",
		}),
		Halts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "halts_total",
			Help:      "Playback interruptions by reason.",
		}, []string{"reason"}),
		PlayerSpawns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_spawns_total",
			Help:      "Audio players started.",
		}),
		EngineLoads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_loads_total",
			Help:      "Synthesis engine loads.",
		}),
		EngineEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_evictions_total",
			Help:      "Synthesis engines released after going idle.",
		}),
		EngineErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Jobs abandoned because synthesis failed.",
		}),
		FlushedJobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_jobs_total",
			Help:      "Pending jobs discarded after an interruption.",
		}),
		PendingJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "Jobs waiting for synthesis.",
		}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sentence_synthesis_seconds",
			Help:      "Time to synthesize one sentence.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1, 2, 5},
		}),
		SavedAudioSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_audio_seconds_total",
			Help:      "Length of audio written to disk.",
		}),
	}
}

// ObserveSynthesis records the latency of one sentence.
func (m *Metrics) ObserveSynthesis(d time.Duration) {
	m.SynthesisLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Router returns the HTTP routes: /metrics, and /healthz reporting the
// document returned by status.
func (m *Metrics) Router(status func() any) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body, err := sonic.Marshal(status())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.Handler().ServeHTTP(w, r)
	})
	return r
}

// Serve listens on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, status func() any) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(status),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
