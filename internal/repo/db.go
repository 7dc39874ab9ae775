package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict means the row was no longer scheduled when a
	// terminal status was written.
	ErrStatusConflict = errors.New("schedule is no longer in scheduled state")
)

//go:embed schema.sql
var schema string

type ConnectOptions struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// Connect opens a PostgreSQL pool, retrying while the database comes up.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions, log zerolog.Logger) (*sqlx.DB, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 2 * time.Second
	}

	var err error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		var db *sqlx.DB
		db, err = sqlx.ConnectContext(ctx, "pgx", databaseURL)
		if err == nil {
			log.Info().Msg("connected to database")
			return db, nil
		}

		log.Error().Err(err).Int("attempt", attempt).Msgf("failed to connect to database, retrying in %s", opts.RetryInterval)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}

	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", opts.MaxRetries, err)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
