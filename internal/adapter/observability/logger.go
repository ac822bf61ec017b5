package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/civisense/ai-decision-engine/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields and
// installs it as the process default.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg)}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(cfg config.Config) slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
