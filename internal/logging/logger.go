package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/kingrea/loadstone/internal/config"
)

// Logger writes structured lines to .loadstone/logs/loadstone.log so users
// can inspect failures even after the dashboard closes, optionally teeing
// to stderr for headless runs.
type Logger struct {
	*log.Logger
	file *os.File
}

// Options control logger construction.
type Options struct {
	Prefix string
	Level  log.Level
	Stderr bool
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, opts Options) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.LoadstoneDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "loadstone.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	var w io.Writer = f
	if opts.Stderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          opts.Prefix,
		Level:           opts.Level,
		ReportTimestamp: true,
	})
	return &Logger{Logger: logger, file: f}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
