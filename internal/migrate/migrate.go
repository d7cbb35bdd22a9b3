// Package migrate applies the SQL migrations of the stats server.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Up applies every pending migration in dir and reports the resulting schema
// version. Errors are returned, never fatal.
func Up(ctx context.Context, dbURL, dir string, log *slog.Logger) (int64, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return 0, fmt.Errorf("migrations: open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("migrations: close db", "err", err)
		}
	}()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("migrations: set dialect: %w", err)
	}

	log.Info("running database migrations", "dir", dir)
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return 0, fmt.Errorf("migrations: goose up: %w", err)
	}

	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	log.Info("database migrations applied", "version", v)
	return v, nil
}
