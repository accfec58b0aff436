package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/dusky-tts/dusky/internal/audio"
	"github.com/dusky-tts/dusky/internal/cache"
	"github.com/dusky-tts/dusky/internal/config"
	"github.com/dusky-tts/dusky/internal/daemon"
	"github.com/dusky-tts/dusky/internal/metrics"
	"github.com/dusky-tts/dusky/internal/playback"
	"github.com/dusky-tts/dusky/internal/synth"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Aliases: []string{"serve"},
	Short:   "Run the speech daemon",
	Long:    paragraph(fmt.Sprintf("\n%s messages from the dusky pipe and speak them until interrupted.", keyword("Listen"))),
	Example: paragraph("dusky daemon\ndusky daemon --log-level debug"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
		defer stop()
		return runDaemon(ctx, cfg)
	},
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	if pid, err := daemon.ReadPID(cfg.PIDPath); err == nil && pid != os.Getpid() && daemon.ProcessAlive(pid) {
		return fmt.Errorf("dusky is already running with pid %d", pid)
	} else if err != nil && !errors.Is(err, daemon.ErrNoPIDFile) {
		log.Warn("Ignoring unreadable pid file", "path", cfg.PIDPath, "error", err)
	}

	logger := log.Default()

	factory, err := synth.NewFactory(cfg.Engine.Kind, synth.WorkerConfig{
		Command: cfg.Engine.Command,
		Timeout: cfg.Engine.Timeout,
	}, logger.WithPrefix("worker"))
	if err != nil {
		return err
	}

	if cfg.Cache.Enabled {
		store, err := cache.NewDisk(cfg.Cache.Dir, int64(cfg.Cache.MaxSizeMB)<<20, cfg.Cache.CompressionLevel)
		if err != nil {
			return fmt.Errorf("unable to open audio cache: %w", err)
		}
		defer func() { _ = store.Close() }()
		factory = synth.Cached(factory, store, logger.WithPrefix("cache"))
	}

	if err := checkPlayer(cfg.Player); err != nil {
		log.Error("Audio player unavailable, speech will fail until it is installed", "error", err)
	}

	var launcher playback.Launcher
	switch cfg.Player.Backend {
	case config.BackendOto:
		launcher = playback.OtoLauncher{SampleRate: cfg.SampleRate}
	default:
		launcher = playback.MPVLauncher{
			Binary:     cfg.Player.Binary,
			SampleRate: cfg.SampleRate,
			Title:      cfg.Player.Title,
			Name:       cfg.Player.Name,
			CacheSecs:  cfg.Player.CacheSecs,
			ExtraArgs:  cfg.Player.ExtraArgs,
			Stderr: logger.WithPrefix("mpv").StandardLog(log.StandardLogOptions{
				ForceLevel: log.DebugLevel,
			}).Writer(),
		}
	}

	var store *audio.Store
	if cfg.SaveAudio {
		store = audio.NewStore(cfg.OutputDir)
		log.Debug("Saving audio", "dir", store.Dir())
	}

	m := metrics.New()
	d := daemon.New(daemon.OptionsFromConfig(cfg), daemon.Deps{
		Loader:   synth.NewLoader(factory, cfg.Timing.IdleTimeout, logger.WithPrefix("synth")),
		Launcher: launcher,
		Store:    store,
		Metrics:  m,
		Logger:   logger,
	})

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, func() any { return d.Status() }); err != nil {
				log.Error("Metrics endpoint stopped", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
		log.Info("Serving metrics", "addr", cfg.Metrics.Listen)
	}

	log.Info("Starting dusky",
		"version", Version,
		"engine", cfg.Engine.Kind,
		"player", cfg.Player.Backend,
		"voice", cfg.Voice,
		"fifo", cfg.FIFOPath)
	return d.Run(ctx)
}

// checkPlayer reports whether the configured player can be started.
func checkPlayer(p config.PlayerConfig) error {
	if p.Backend != config.BackendMPV {
		return nil
	}
	binary := p.Binary
	if binary == "" {
		binary = "mpv"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s not found: %w", binary, err)
	}
	return nil
}
