// Package server parses server command flags and launches the instance runtime.
package server

import (
	"context"
	"flag"
	"time"

	"github.com/louisbranch/squadops/internal/app"
	entrypoint "github.com/louisbranch/squadops/internal/platform/cmd"
	"github.com/louisbranch/squadops/internal/platform/logging"
)

// Config holds server command configuration.
type Config struct {
	RCONAddr            string        `env:"SQUADOPS_RCON_ADDR" envDefault:"127.0.0.1:21114"`
	RCONPassword        string        `env:"SQUADOPS_RCON_PASSWORD"`
	LogPath             string        `env:"SQUADOPS_LOG_PATH"`
	LogPollInterval     time.Duration `env:"SQUADOPS_LOG_POLL_INTERVAL" envDefault:"1s"`
	PollInterval        time.Duration `env:"SQUADOPS_POLL_INTERVAL" envDefault:"15s"`
	DBPath              string        `env:"SQUADOPS_DB_PATH" envDefault:"data/squadops.db"`
	FlushInterval       time.Duration `env:"SQUADOPS_JOURNAL_FLUSH_INTERVAL" envDefault:"5s"`
	WarmupMatches       int           `env:"SQUADOPS_JOURNAL_WARMUP_MATCHES" envDefault:"1"`
	HTTPAddr            string        `env:"SQUADOPS_HTTP_ADDR" envDefault:":8080"`
	NATSURL             string        `env:"SQUADOPS_NATS_URL"`
	NATSSubjectPrefix   string        `env:"SQUADOPS_NATS_SUBJECT_PREFIX" envDefault:"squadops.events"`
	AdminSources        []string      `env:"SQUADOPS_ADMIN_LISTS"`
	AdminReloadInterval time.Duration `env:"SQUADOPS_ADMIN_RELOAD_INTERVAL" envDefault:"5m"`
	LogLevel            string        `env:"SQUADOPS_LOG_LEVEL" envDefault:"info"`
	LogPretty           bool          `env:"SQUADOPS_LOG_PRETTY" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.RCONAddr, "rcon-addr", cfg.RCONAddr, "The remote console host:port")
	fs.StringVar(&cfg.RCONPassword, "rcon-password", cfg.RCONPassword, "The remote console password")
	fs.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, "The game server log file path")
	fs.DurationVar(&cfg.LogPollInterval, "log-poll-interval", cfg.LogPollInterval, "Log file poll interval")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Roster poll interval")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The event journal SQLite database path")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Journal flush interval")
	fs.IntVar(&cfg.WarmupMatches, "warmup-matches", cfg.WarmupMatches, "Recent matches replayed from the journal at startup")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The event push listen address")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS relay URL, empty disables the relay")
	fs.StringVar(&cfg.NATSSubjectPrefix, "nats-subject-prefix", cfg.NATSSubjectPrefix, "Subject prefix for relayed events")
	fs.DurationVar(&cfg.AdminReloadInterval, "admin-reload-interval", cfg.AdminReloadInterval, "Admin list reload interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "Human-readable log output")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the instance runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceServer, func(ctx context.Context) error {
		logger := logging.New(entrypoint.ServiceServer, logging.Options{
			Level:  cfg.LogLevel,
			Pretty: cfg.LogPretty,
		})
		return app.Run(ctx, app.RuntimeConfig{
			RCONAddr:            cfg.RCONAddr,
			RCONPassword:        cfg.RCONPassword,
			LogPath:             cfg.LogPath,
			LogPollInterval:     cfg.LogPollInterval,
			PollInterval:        cfg.PollInterval,
			DBPath:              cfg.DBPath,
			FlushInterval:       cfg.FlushInterval,
			WarmupMatches:       cfg.WarmupMatches,
			HTTPAddr:            cfg.HTTPAddr,
			NATSURL:             cfg.NATSURL,
			NATSSubjectPrefix:   cfg.NATSSubjectPrefix,
			AdminSources:        cfg.AdminSources,
			AdminReloadInterval: cfg.AdminReloadInterval,
			Logger:              logger,
		})
	})
}
