// Package config holds the daemon's settings, their defaults, and how they
// are read from viper and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
)

// Player backends.
const (
	BackendMPV = "mpv"
	BackendOto = "oto"
)

// Config contains every daemon setting.
type Config struct {
	// Rendezvous files shared with clients.
	FIFOPath  string `yaml:"fifo_path"`
	PIDPath   string `yaml:"pid_path"`
	ReadyPath string `yaml:"ready_path"`

	// Where finished utterances are saved as WAV.
	OutputDir string `yaml:"output_dir"`
	SaveAudio bool   `yaml:"save_audio"`

	// Voice settings passed to the engine.
	Voice      string  `yaml:"voice"`
	Speed      float64 `yaml:"speed"`
	Lang       string  `yaml:"lang"`
	SampleRate int     `yaml:"sample_rate"`

	// QueueSize bounds the synthesized audio waiting for the player.
	QueueSize int `yaml:"queue_size"`

	Timing  Timing        `yaml:"timing"`
	Engine  EngineConfig  `yaml:"engine"`
	Player  PlayerConfig  `yaml:"player"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Timing groups the daemon's intervals and timeouts.
type Timing struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	DedupWindow    time.Duration `yaml:"dedup_window"`
	FlushCooldown  time.Duration `yaml:"flush_cooldown"`
	JobPoll        time.Duration `yaml:"job_poll"`
	AudioPoll      time.Duration `yaml:"audio_poll"`
	PipePoll       time.Duration `yaml:"pipe_poll"`
	ReadErrorPause time.Duration `yaml:"read_error_pause"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EndOfStream    time.Duration `yaml:"end_of_stream_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	ReapTimeout    time.Duration `yaml:"reap_timeout"`
}

// EngineConfig selects and configures the synthesis engine.
type EngineConfig struct {
	// Kind is "worker" or "tone".
	Kind    string        `yaml:"kind"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// PlayerConfig configures audio output.
type PlayerConfig struct {
	Backend   string   `yaml:"backend"`
	Binary    string   `yaml:"binary"`
	Title     string   `yaml:"title"`
	Name      string   `yaml:"name"`
	CacheSecs int      `yaml:"cache_secs"`
	ExtraArgs []string `yaml:"extra_args"`
}

// CacheConfig configures the synthesized audio cache.
type CacheConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Dir              string `yaml:"dir"`
	MaxSizeMB        int    `yaml:"max_size_mb"`
	CompressionLevel int    `yaml:"compression_level"`
}

// MetricsConfig configures the optional HTTP endpoint.
type MetricsConfig struct {
	// Listen is the address to serve /metrics and /healthz on; empty
	// disables the endpoint.
	Listen string `yaml:"listen"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		FIFOPath:  "/tmp/dusky_kokoro.fifo",
		PIDPath:   "/tmp/dusky_kokoro.pid",
		ReadyPath: "/tmp/dusky_kokoro.ready",
		OutputDir: "~/.local/share/dusky/audio",
		SaveAudio: true,

		Voice:      "af_sarah",
		Speed:      1.0,
		Lang:       "en-us",
		SampleRate: 24000,
		QueueSize:  5,

		Timing: Timing{
			IdleTimeout:    10 * time.Second,
			DedupWindow:    2 * time.Second,
			FlushCooldown:  time.Second,
			JobPoll:        500 * time.Millisecond,
			AudioPoll:      200 * time.Millisecond,
			PipePoll:       500 * time.Millisecond,
			ReadErrorPause: time.Second,
			WriteTimeout:   2 * time.Second,
			EndOfStream:    5 * time.Second,
			StopTimeout:    time.Second,
			ReapTimeout:    600 * time.Second,
		},
		Engine: EngineConfig{
			Kind:    "worker",
			Command: "dusky-worker",
			Timeout: 60 * time.Second,
		},
		Player: PlayerConfig{
			Backend:   BackendMPV,
			Binary:    "mpv",
			Title:     "Dusky",
			Name:      "dusky",
			CacheSecs: 60,
		},
		Cache: CacheConfig{
			Enabled:          false,
			Dir:              "~/.cache/dusky",
			MaxSizeMB:        200,
			CompressionLevel: 3,
		},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.FIFOPath == "" || c.PIDPath == "" || c.ReadyPath == "" {
		errs = append(errs, errors.New("fifo_path, pid_path and ready_path must be set"))
	}
	if c.SaveAudio && c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must be set when save_audio is on"))
	}
	if c.Voice == "" {
		errs = append(errs, errors.New("voice must be set"))
	}
	if c.Speed <= 0 || c.Speed > 4 {
		errs = append(errs, fmt.Errorf("speed must be in (0, 4], got %g", c.Speed))
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", c.SampleRate))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize))
	}
	errs = append(errs, c.Timing.validate()...)

	switch c.Engine.Kind {
	case "worker":
		if c.Engine.Command == "" {
			errs = append(errs, errors.New("engine.command must be set for the worker engine"))
		}
	case "tone":
	default:
		errs = append(errs, fmt.Errorf("unknown engine.kind %q", c.Engine.Kind))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout must be positive"))
	}

	switch c.Player.Backend {
	case BackendMPV:
		if c.Player.Binary == "" {
			errs = append(errs, errors.New("player.binary must be set for mpv"))
		}
	case BackendOto:
	default:
		errs = append(errs, fmt.Errorf("unknown player.backend %q", c.Player.Backend))
	}

	if c.Cache.Enabled {
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir must be set when the cache is enabled"))
		}
		if c.Cache.MaxSizeMB <= 0 {
			errs = append(errs, errors.New("cache.max_size_mb must be positive"))
		}
		if c.Cache.CompressionLevel < 1 || c.Cache.CompressionLevel > 22 {
			errs = append(errs, fmt.Errorf("cache.compression_level must be between 1 and 22, got %d", c.Cache.CompressionLevel))
		}
	}
	return errors.Join(errs...)
}

func (t Timing) validate() []error {
	var errs []error
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"idle_timeout", t.IdleTimeout},
		{"job_poll", t.JobPoll},
		{"audio_poll", t.AudioPoll},
		{"pipe_poll", t.PipePoll},
		{"read_error_pause", t.ReadErrorPause},
		{"write_timeout", t.WriteTimeout},
		{"end_of_stream_timeout", t.EndOfStream},
		{"stop_timeout", t.StopTimeout},
		{"reap_timeout", t.ReapTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("timing.%s must be positive", d.name))
		}
	}
	// the pipe is polled with millisecond resolution
	if t.PipePoll > 0 && t.PipePoll < time.Millisecond {
		errs = append(errs, fmt.Errorf("timing.pipe_poll must be at least 1ms, got %s", t.PipePoll))
	}
	if t.DedupWindow < 0 || t.FlushCooldown < 0 {
		errs = append(errs, errors.New("timing.dedup_window and timing.flush_cooldown cannot be negative"))
	}
	return errs
}

// ExpandPaths resolves a leading ~ in every path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.FIFOPath, &c.PIDPath, &c.ReadyPath, &c.OutputDir, &c.Cache.Dir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// LogConfig is read from the environment only, so logging can be set up
// before the config file is parsed.
type LogConfig struct {
	Level string `env:"DUSKY_LOG_LEVEL" envDefault:"info"`
	File  string `env:"DUSKY_LOG_FILE"`
}

// LoadLogConfig reads LogConfig from the environment.
func LoadLogConfig() (LogConfig, error) {
	return env.ParseAs[LogConfig]()
}
