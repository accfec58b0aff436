package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dusky-tts/dusky/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show whether the daemon is running",
	Example: paragraph("dusky status"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()

		pid, err := daemon.ReadPID(cfg.PIDPath)
		switch {
		case err != nil:
			fmt.Fprintln(out, label("daemon"), bad("not running"))
		case daemon.ProcessAlive(pid):
			fmt.Fprintln(out, label("daemon"), good("running"), fmt.Sprintf("(pid %d)", pid))
		default:
			fmt.Fprintln(out, label("daemon"), bad("stale pid file"), fmt.Sprintf("(pid %d)", pid))
		}

		fmt.Fprintln(out, label("pipe"), presence(cfg.FIFOPath))
		fmt.Fprintln(out, label("ready"), presence(cfg.ReadyPath))

		if n, size, err := savedAudio(cfg.OutputDir); err == nil {
			fmt.Fprintln(out, label("saved audio"), fmt.Sprintf("%d files, %s in %s", n, humanize.Bytes(uint64(size)), cfg.OutputDir))
		}

		if cfg.Metrics.Listen == "" || err != nil {
			return nil
		}
		st, err := fetchStatus(cmd.Context(), cfg.Metrics.Listen)
		if err != nil {
			fmt.Fprintln(out, label("health"), bad(err.Error()))
			return nil
		}
		fmt.Fprintln(out, label("uptime"), st.Uptime)
		fmt.Fprintln(out, label("engine"), st.Engine)
		fmt.Fprintln(out, label("pending"), fmt.Sprintf("%d messages, %d sentences queued", st.PendingJobs, st.QueuedAudio))
		fmt.Fprintln(out, label("completed"), st.Completed)
		if st.Discarded > 0 {
			fmt.Fprintln(out, label("discarded"), fmt.Sprintf("%d queued sentences dropped by interruptions", st.Discarded))
		}
		if st.Player.Alive {
			fmt.Fprintln(out, label("player"), good("playing"), fmt.Sprintf("(pid %d)", st.Player.PID))
		} else {
			fmt.Fprintln(out, label("player"), "idle")
		}
		if st.Halted != "" {
			fmt.Fprintln(out, label("halted"), bad(st.Halted))
		}
		return nil
	},
}

func presence(path string) string {
	if _, err := os.Stat(path); err != nil {
		return bad("missing") + " " + path
	}
	return good("present") + " " + path
}

// savedAudio counts the WAV files in dir and their total size.
func savedAudio(dir string) (int, int64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return 0, 0, err
	}
	var size int64
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil {
			size += fi.Size()
		}
	}
	return len(matches), size, nil
}

// fetchStatus asks the daemon's health endpoint for its status.
func fetchStatus(ctx context.Context, listen string) (daemon.Status, error) {
	var st daemon.Status
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+listen+"/healthz", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("health endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return st, err
	}
	if err := sonic.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("unable to decode status: %w", err)
	}
	return st, nil
}
