// Package logger builds the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// New returns a logger configured from cfg. Output always goes to stderr and
// additionally to cfg.File when set. The returned close function releases
// the log file and is safe to call when no file was opened.
func New(cfg config.LogConfig) (*log.Logger, func(), error) {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		l.Warnf("Invalid log level '%s', defaulting to 'info'", cfg.Level)
		level = log.InfoLevel
	}
	l.SetLevel(level)

	writers := []io.Writer{os.Stderr}
	closeFn := func() {}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return nil, closeFn, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
		closeFn = func() { _ = file.Close() }
	}

	l.SetOutput(io.MultiWriter(writers...))
	return l, closeFn, nil
}
