// Package logger builds the shared slog logger used across both binaries.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/finopshq/payment-ledger/internal/config"
)

// NewLogger creates a JSON slog.Logger at the configured level. Source
// locations are attached only at debug level to keep production logs compact.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	logger.Info("logger initialized", "level", level, "app", cfg.Application.Name)

	return logger
}
