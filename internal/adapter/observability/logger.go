package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/social-fetcher/internal/config"
)

// SetupLogger builds the process logger: JSON to stdout, tagged with the
// service name and environment. Dev gets debug level and source
// locations; prod stays at info.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
