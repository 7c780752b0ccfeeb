// Package logger builds the application's slog logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dontdude/codestream/internal/config"
)

func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	return New(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)
}

// New creates a logger writing to w in the given format ("text" or "json")
// at the given level.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error'", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid logging format: %s, must be 'text' or 'json'", format)
	}

	return slog.New(handler), nil
}
