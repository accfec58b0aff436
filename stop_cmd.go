package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/dusky-tts/dusky/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:     "stop",
	Short:   "Stop the running daemon",
	Long:    paragraph(fmt.Sprintf("\n%s the running daemon. It removes its pipe and marker files on the way out.", keyword("Stop"))),
	Example: paragraph("dusky stop\ndusky stop --timeout 10s"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pid, err := daemon.ReadPID(cfg.PIDPath)
		if errors.Is(err, daemon.ErrNoPIDFile) || (err == nil && !daemon.ProcessAlive(pid)) {
			fmt.Fprintln(cmd.OutOrStdout(), bad("not running"))
			return nil
		}
		if err != nil {
			return err
		}

		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			return fmt.Errorf("unable to signal pid %d: %w", pid, err)
		}

		deadline := time.Now().Add(stopTimeout)
		for daemon.ProcessAlive(pid) {
			if time.Now().After(deadline) {
				return fmt.Errorf("pid %d did not exit within %s", pid, stopTimeout)
			}
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Fprintln(cmd.OutOrStdout(), good("stopped"), fmt.Sprintf("(pid %d)", pid))
		return nil
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 5*time.Second, "how long to wait for the daemon to exit")
}
