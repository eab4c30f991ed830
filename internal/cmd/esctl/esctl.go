// Package esctl parses esctl flags and runs counter maintenance commands
// against the configured event and snapshot stores.
package esctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	entrypoint "github.com/gtriggiano/es-cqrs-utils/internal/platform/cmd"
	"github.com/gtriggiano/es-cqrs-utils/internal/platform/log"
)

// Subcommands.
const (
	CommandIncrement = "increment"
	CommandDecrement = "decrement"
	CommandReset     = "reset"
	CommandShow      = "show"
	CommandEvents    = "events"
)

// Event store drivers.
const (
	EventsDriverSQLite   = "sqlite"
	EventsDriverPostgres = "postgres"
)

// Snapshot store drivers. SnapshotsDriverEvents keeps snapshots in the same
// SQL database as the events.
const (
	SnapshotsDriverNone   = "none"
	SnapshotsDriverEvents = "events"
	SnapshotsDriverRedis  = "redis"
	SnapshotsDriverBadger = "badger"
)

// Config holds esctl configuration.
type Config struct {
	EventsDriver      string `env:"ESCQRS_EVENTS_DRIVER" envDefault:"sqlite"`
	SQLitePath        string `env:"ESCQRS_SQLITE_PATH" envDefault:"data/events.db"`
	PostgresDSN       string `env:"ESCQRS_POSTGRES_DSN"`
	SnapshotsDriver   string `env:"ESCQRS_SNAPSHOTS_DRIVER" envDefault:"events"`
	RedisAddr         string `env:"ESCQRS_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string `env:"ESCQRS_REDIS_PASSWORD"`
	RedisDB           int    `env:"ESCQRS_REDIS_DB" envDefault:"0"`
	BadgerPath        string `env:"ESCQRS_BADGER_PATH" envDefault:"data/snapshots"`
	SnapshotThreshold int    `env:"ESCQRS_SNAPSHOT_THRESHOLD" envDefault:"50"`
	SnapshotPrefix    string `env:"ESCQRS_SNAPSHOT_PREFIX"`
	LogLevel          string `env:"ESCQRS_LOG_LEVEL" envDefault:"info"`
	Metrics           bool   `env:"ESCQRS_METRICS" envDefault:"false"`

	Command string `env:"-"`
	ID      string `env:"-"`
	By      int    `env:"-"`
	Stream  string `env:"-"`
	From    uint64 `env:"-"`
}

// ParseConfig parses environment, global flags and the subcommand with its
// own flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.EventsDriver, "events-driver", cfg.EventsDriver, "event store driver (sqlite, postgres)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	fs.StringVar(&cfg.SnapshotsDriver, "snapshots-driver", cfg.SnapshotsDriver, "snapshot store driver (none, events, redis, badger)")
	fs.IntVar(&cfg.SnapshotThreshold, "snapshot-threshold", cfg.SnapshotThreshold, "events replayed before a snapshot is refreshed (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "print repository metrics after the command")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("a subcommand is required (increment, decrement, reset, show, events)")
	}
	cfg.Command = rest[0]

	sub := flag.NewFlagSet(cfg.Command, flag.ContinueOnError)
	sub.SetOutput(fs.Output())
	switch cfg.Command {
	case CommandIncrement, CommandDecrement:
		sub.StringVar(&cfg.ID, "id", "", "counter id")
		sub.IntVar(&cfg.By, "by", 1, "amount")
	case CommandReset, CommandShow:
		sub.StringVar(&cfg.ID, "id", "", "counter id")
	case CommandEvents:
		sub.StringVar(&cfg.Stream, "stream", "", "stream name")
		sub.Uint64Var(&cfg.From, "from", 0, "list events after this version")
	default:
		return Config{}, fmt.Errorf("unknown subcommand %q", cfg.Command)
	}
	if err := entrypoint.ParseArgs(sub, rest[1:]); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.EventsDriver {
	case EventsDriverSQLite, EventsDriverPostgres:
	default:
		return fmt.Errorf("unknown events driver %q", c.EventsDriver)
	}
	switch c.SnapshotsDriver {
	case SnapshotsDriverNone, SnapshotsDriverEvents, SnapshotsDriverRedis, SnapshotsDriverBadger:
	default:
		return fmt.Errorf("unknown snapshots driver %q", c.SnapshotsDriver)
	}
	if c.Command == CommandEvents {
		if strings.TrimSpace(c.Stream) == "" {
			return errors.New("-stream is required")
		}
		return nil
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("-id is required")
	}
	return nil
}

// Run executes the configured subcommand and writes its result to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: entrypoint.ServiceESCtl})
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceESCtl, func(ctx context.Context) error {
		b, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := b.Close(); err != nil {
				logger := log.WithComponent("esctl")
				logger.Warn().Err(err).Msg("close stores")
			}
		}()
		return execute(ctx, cfg, b, out)
	})
}
