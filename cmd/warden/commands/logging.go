package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MEKXH/warden/internal/config"
)

var (
	loggerMu      sync.Mutex
	activeLogFile *os.File
)

// configureLogger installs the default slog logger. A configured log file
// wins; otherwise logs go to stderr, or nowhere while a prompt owns the
// terminal.
func configureLogger(cfg *config.Config, overrideLevel string, quiet bool) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()

	writer, err := logWriter(strings.TrimSpace(cfg.Log.File), quiet)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})))
	return nil
}

func logWriter(path string, quiet bool) (io.Writer, error) {
	if activeLogFile != nil && activeLogFile.Name() != path {
		_ = activeLogFile.Close()
		activeLogFile = nil
	}
	switch {
	case path != "":
		if activeLogFile != nil {
			return activeLogFile, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		activeLogFile = f
		return f, nil
	case quiet:
		return io.Discard, nil
	default:
		return os.Stderr, nil
	}
}

func parseLogLevel(configLevel, override string) (slog.Level, error) {
	level := strings.TrimSpace(configLevel)
	if strings.TrimSpace(override) != "" {
		level = override
	}
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}
