package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# dusky configuration. Every key is optional; the values below are the
# defaults.

# rendezvous files shared by the daemon and its clients
# fifo_path: "/tmp/dusky_kokoro.fifo"
# pid_path: "/tmp/dusky_kokoro.pid"
# ready_path: "/tmp/dusky_kokoro.ready"

# save every utterance as <index>_<first_words>.wav
save_audio: true
output_dir: "~/.local/share/dusky/audio"

# voice passed to the engine
voice: "af_sarah"
speed: 1.0
lang: "en-us"
sample_rate: 24000

# synthesized sentences waiting for the player
queue_size: 5

timing:
  # release the model after this long without work
  idle_timeout: "10s"
  # ignore an identical message received again within this window
  dedup_window: "2s"
  # wait between the two flushes of pending messages after an interruption
  flush_cooldown: "1s"
  # consider the player hung when it refuses audio this long
  write_timeout: "2s"
  # how long a finished stream may keep playing before its player is killed
  reap_timeout: "10m"

engine:
  # worker: a long-running process speaking JSON lines on stdin/stdout
  # tone: beeps, for testing without a model
  kind: "worker"
  command: "dusky-worker"
  timeout: "60s"

player:
  # mpv opens a small window; close it to stop speaking
  # oto plays directly on the default audio device
  backend: "mpv"
  binary: "mpv"
  title: "Dusky"
  name: "dusky"
  cache_secs: 60
  # extra_args: ["--volume=80"]

cache:
  # reuse audio for sentences that were already synthesized
  enabled: false
  dir: "~/.cache/dusky"
  max_size_mb: 200
  compression_level: 3

metrics:
  # serve /metrics and /healthz, e.g. "127.0.0.1:9464"
  listen: ""
`

var showConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the dusky config file",
	Long:    paragraph(fmt.Sprintf("\n%s the dusky config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("dusky config\ndusky config --show\ndusky config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showConfig {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("unable to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}

		file := configFilePath()
		if err := ensureConfigFile(file); err != nil {
			return err
		}

		c, err := editor.Cmd("Dusky", file)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", file)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&showConfig, "show", false, "print the effective configuration instead of editing")
}

// configFilePath returns the file to edit: the --config flag, the file
// viper loaded, or the default location.
func configFilePath() string {
	if configFile != "" {
		return configFile
	}
	if used := viper.GetViper().ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

func ensureConfigFile(file string) error {
	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
