package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dusky-tts/dusky/internal/ingest"
)

var (
	sayClipboard bool
	sayWait      time.Duration
)

var sayCmd = &cobra.Command{
	Use:   "say [TEXT]",
	Short: "Send text to the running daemon",
	Long:  paragraph(fmt.Sprintf("\n%s text with the running daemon. Text is taken from the arguments, the clipboard, or standard input.", keyword("Speak"))),
	Example: paragraph(`dusky say "Hello there."
echo "Hello there." | dusky say
dusky say --clipboard
dusky say --wait 30s "Ready when you are."`),
	RunE: func(cmd *cobra.Command, args []string) error {
		txt, err := sayText(args, sayClipboard, os.Stdin)
		if err != nil {
			return err
		}

		if sayWait > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), sayWait)
			defer cancel()
			if err := ingest.WaitReady(ctx, cfg.ReadyPath); err != nil {
				return fmt.Errorf("daemon did not become ready: %w", err)
			}
		}

		if err := ingest.Send(cfg.FIFOPath, txt); err != nil {
			if errors.Is(err, ingest.ErrNotRunning) {
				return fmt.Errorf("%w: start it with %s", err, keyword("dusky daemon"))
			}
			return err
		}
		return nil
	},
}

func init() {
	sayCmd.Flags().BoolVarP(&sayClipboard, "clipboard", "c", false, "speak the clipboard contents")
	sayCmd.Flags().DurationVarP(&sayWait, "wait", "w", 0, "wait this long for the daemon to become ready")
}

// sayText collects the message from the arguments, the clipboard, or a
// piped stdin, in that order.
func sayText(args []string, fromClipboard bool, stdin *os.File) (string, error) {
	var txt string
	switch {
	case len(args) > 0:
		txt = strings.Join(args, " ")
	case fromClipboard:
		s, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		txt = s
	case stdin != nil && !term.IsTerminal(int(stdin.Fd())):
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read stdin: %w", err)
		}
		txt = string(b)
	}

	if strings.TrimSpace(txt) == "" {
		return "", errors.New("nothing to say")
	}
	return txt, nil
}
