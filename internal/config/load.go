package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load builds a Config from the defaults overlaid with every key set in v,
// then expands paths and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet("fifo_path") {
		cfg.FIFOPath = v.GetString("fifo_path")
	}
	if v.IsSet("pid_path") {
		cfg.PIDPath = v.GetString("pid_path")
	}
	if v.IsSet("ready_path") {
		cfg.ReadyPath = v.GetString("ready_path")
	}
	if v.IsSet("output_dir") {
		cfg.OutputDir = v.GetString("output_dir")
	}
	if v.IsSet("save_audio") {
		cfg.SaveAudio = v.GetBool("save_audio")
	}

	// Voice settings
	if v.IsSet("voice") {
		cfg.Voice = v.GetString("voice")
	}
	if v.IsSet("speed") {
		cfg.Speed = v.GetFloat64("speed")
	}
	if v.IsSet("lang") {
		cfg.Lang = v.GetString("lang")
	}
	if v.IsSet("sample_rate") {
		cfg.SampleRate = v.GetInt("sample_rate")
	}
	if v.IsSet("queue_size") {
		cfg.QueueSize = v.GetInt("queue_size")
	}

	cfg.Timing = loadTiming(v, cfg.Timing)
	cfg.Engine = loadEngine(v, cfg.Engine)
	cfg.Player = loadPlayer(v, cfg.Player)
	cfg.Cache = loadCache(v, cfg.Cache)

	if v.IsSet("metrics.listen") {
		cfg.Metrics.Listen = v.GetString("metrics.listen")
	}

	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadTiming(v *viper.Viper, t Timing) Timing {
	for key, d := range map[string]*time.Duration{
		"timing.idle_timeout":          &t.IdleTimeout,
		"timing.dedup_window":          &t.DedupWindow,
		"timing.flush_cooldown":        &t.FlushCooldown,
		"timing.job_poll":              &t.JobPoll,
		"timing.audio_poll":            &t.AudioPoll,
		"timing.pipe_poll":             &t.PipePoll,
		"timing.read_error_pause":      &t.ReadErrorPause,
		"timing.write_timeout":         &t.WriteTimeout,
		"timing.end_of_stream_timeout": &t.EndOfStream,
		"timing.stop_timeout":          &t.StopTimeout,
		"timing.reap_timeout":          &t.ReapTimeout,
	} {
		if v.IsSet(key) {
			*d = v.GetDuration(key)
		}
	}
	return t
}

func loadEngine(v *viper.Viper, e EngineConfig) EngineConfig {
	if v.IsSet("engine.kind") {
		e.Kind = v.GetString("engine.kind")
	}
	if v.IsSet("engine.command") {
		e.Command = v.GetString("engine.command")
	}
	if v.IsSet("engine.timeout") {
		e.Timeout = v.GetDuration("engine.timeout")
	}
	return e
}

func loadPlayer(v *viper.Viper, p PlayerConfig) PlayerConfig {
	if v.IsSet("player.backend") {
		p.Backend = v.GetString("player.backend")
	}
	if v.IsSet("player.binary") {
		p.Binary = v.GetString("player.binary")
	}
	if v.IsSet("player.title") {
		p.Title = v.GetString("player.title")
	}
	if v.IsSet("player.name") {
		p.Name = v.GetString("player.name")
	}
	if v.IsSet("player.cache_secs") {
		p.CacheSecs = v.GetInt("player.cache_secs")
	}
	if v.IsSet("player.extra_args") {
		p.ExtraArgs = v.GetStringSlice("player.extra_args")
	}
	return p
}

func loadCache(v *viper.Viper, c CacheConfig) CacheConfig {
	if v.IsSet("cache.enabled") {
		c.Enabled = v.GetBool("cache.enabled")
	}
	if v.IsSet("cache.dir") {
		c.Dir = v.GetString("cache.dir")
	}
	if v.IsSet("cache.max_size_mb") {
		c.MaxSizeMB = v.GetInt("cache.max_size_mb")
	}
	if v.IsSet("cache.compression_level") {
		c.CompressionLevel = v.GetInt("cache.compression_level")
	}
	return c
}
