// Package postgres provides Postgres-backed event and snapshot stores over
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/storage/sqlmigrate"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/postgres/migrations"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/storage/sqlstore"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	driverName = "pgx"
	// uniqueViolation is the SQLSTATE for unique_violation.
	uniqueViolation = "23505"
)

// Dialect describes Postgres to the shared SQL store. Appends take a
// transaction-scoped advisory lock per stream so concurrent writers queue
// instead of colliding on the primary key.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Placeholder:       sqlmigrate.DollarPlaceholder,
	LockStream:        "SELECT pg_advisory_xact_lock(hashtext($1))",
	IsUniqueViolation: isUniqueViolation,
}

var sqlOpen = sql.Open

// Open connects to dsn and applies embedded migrations.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sqlOpen(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlmigrate.Apply(ctx, db, migrations.FS, "", sqlmigrate.WithPlaceholder(sqlmigrate.DollarPlaceholder)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
