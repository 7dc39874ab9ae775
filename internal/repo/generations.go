package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

type PostgresGenerationRepo struct {
	db *sqlx.DB
}

func NewPostgresGenerationRepo(db *sqlx.DB) *PostgresGenerationRepo {
	return &PostgresGenerationRepo{db: db}
}

func (r *PostgresGenerationRepo) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	var g model.Generation
	err := r.db.GetContext(ctx, &g, `
		SELECT id, audio_url, storage_key, audio_data, mime_type
		FROM audio_generations
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("generation %s: %w", id, err)
	}
	return &g, nil
}
