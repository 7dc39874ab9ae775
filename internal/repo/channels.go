package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

const channelColumns = `id, user_id, type, name, enabled, endpoint_url, config, created_at`

type PostgresChannelRepo struct {
	db *sqlx.DB
}

func NewPostgresChannelRepo(db *sqlx.DB) *PostgresChannelRepo {
	return &PostgresChannelRepo{db: db}
}

// FindChannelByID returns the channel whether or not it is enabled.
func (r *PostgresChannelRepo) FindChannelByID(ctx context.Context, id, userID string) (*model.ChannelConfig, error) {
	var c model.ChannelConfig
	err := r.db.GetContext(ctx, &c, `
		SELECT `+channelColumns+`
		FROM output_channels
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", id, err)
	}
	return &c, nil
}

// FindChannelByType returns the oldest enabled channel of the type.
func (r *PostgresChannelRepo) FindChannelByType(ctx context.Context, channelType, userID string) (*model.ChannelConfig, error) {
	var c model.ChannelConfig
	err := r.db.GetContext(ctx, &c, `
		SELECT `+channelColumns+`
		FROM output_channels
		WHERE type = $1 AND user_id = $2 AND enabled
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, channelType, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel type %s: %w", channelType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("channel type %s: %w", channelType, err)
	}
	return &c, nil
}
