// Package sqldb opens the databases the store runs on and classifies their
// transient errors.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver.
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/maruel/jsondb/internal/config"
)

// Open opens and pings the database described by cfg.
//
// Drivers are "sqlite" (modernc.org/sqlite, pure Go), "sqlite3"
// (github.com/mattn/go-sqlite3, only in cgo builds) and "pgx" (PostgreSQL and
// CockroachDB).
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

// IsBusy reports whether err is a transient conflict worth retrying: a
// locked SQLite database or a PostgreSQL serialization failure or deadlock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var me *sqlite.Error
	if errors.As(err, &me) {
		switch me.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return true
		}
		return false
	}
	if isCgoBusy(err) {
		return true
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		// serialization_failure, deadlock_detected.
		return pe.Code == "40001" || pe.Code == "40P01"
	}
	return false
}

// Retry calls fn until it succeeds, fails with an error IsBusy rejects, or
// attempts calls were made. The delay doubles after every busy failure.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := range attempts {
		if err = fn(); !IsBusy(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		slog.DebugContext(ctx, "sqldb: busy, retrying", "attempt", i+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
