// Package logging builds the SDK's slog logger with rotating file output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/devAlphaSystem/Alpha-System-Skopos-SDK/internal/config"
)

// NewLogger creates a slog.Logger writing to stdout and, outside tests, to a
// rotating log file under the configured logs directory.
func NewLogger(cfg *config.Config) *slog.Logger {
	var writer io.Writer = os.Stdout

	if !cfg.IsTest() && cfg.LogsDirectory != "" {
		rotating := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogsDirectory, cfg.AppName+".log"),
			MaxSize:    cfg.LogsMaxSizeInMb,
			MaxBackups: cfg.LogsMaxBackups,
			MaxAge:     cfg.LogsMaxAgeInDays,
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stdout, rotating)
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})
	return slog.New(handler)
}

// NewTestLogger returns a quiet logger for tests.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
