package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/careline/rtc/internal/infra/adapters/sqlite/migrations"
)

// NewSQLite opens (creating if needed) the local sqlite database at
// path. Use ":memory:" for an ephemeral database in tests.
func NewSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(dbCtx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	// modernc sqlite misbehaves with concurrent writers on one file.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(dbCtx, "PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	slog.Info("connected to sqlite", slog.String("path", path))

	return db, nil
}

// Migrate brings the embedded schema up to date.
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
