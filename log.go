package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dusky-tts/dusky/internal/config"
)

var logFile *os.File

// setupLog configures the default logger from DUSKY_LOG_LEVEL and
// DUSKY_LOG_FILE. Command line flags are applied later, once parsed.
func setupLog() (func() error, error) {
	lc, err := config.LoadLogConfig()
	if err != nil {
		return nil, fmt.Errorf("error parsing log config: %w", err)
	}

	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)
	if err := setLogLevel(lc.Level); err != nil {
		return nil, err
	}
	if lc.File != "" {
		if err := openDebugLog(lc.File); err != nil {
			return nil, err
		}
	}
	return closeLog, nil
}

func setLogLevel(level string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	return nil
}

// openDebugLog mirrors the log into path at debug level, with the calling
// function of each entry.
func openDebugLog(path string) error {
	if logFile != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return fmt.Errorf("unable to open log file: %w", err)
	}
	logFile = f

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	log.SetLevel(log.DebugLevel)
	log.SetReportCaller(true)
	log.Debug("Debug log enabled", "path", path)
	return nil
}

func closeLog() error {
	if logFile == nil {
		return nil
	}
	return logFile.Close()
}
