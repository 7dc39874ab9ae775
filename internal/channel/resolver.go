// Package channel finds the output channel a schedule request targets.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

var (
	ErrUnavailable     = errors.New("channel unavailable")
	ErrEndpointMissing = errors.New("channel endpoint missing")
)

type Store interface {
	FindChannelByID(ctx context.Context, id, userID string) (*model.ChannelConfig, error)
	// FindChannelByType returns the first enabled channel of the given type.
	FindChannelByType(ctx context.Context, channelType, userID string) (*model.ChannelConfig, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps a request's target to an enabled channel with an endpoint.
// A UUID-shaped target is looked up by id, anything else by type.
func (r *Resolver) Resolve(ctx context.Context, target, userID string) (*model.ChannelConfig, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrUnavailable)
	}

	var (
		ch  *model.ChannelConfig
		err error
	)
	if IsChannelID(target) {
		ch, err = r.store.FindChannelByID(ctx, target, userID)
	} else {
		ch, err = r.store.FindChannelByType(ctx, target, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: target %q: %w", ErrUnavailable, target, err)
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: target %q not found", ErrUnavailable, target)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("%w: channel %s is disabled", ErrUnavailable, ch.ID)
	}
	if ch.Endpoint() == "" {
		return nil, fmt.Errorf("%w: channel %s", ErrEndpointMissing, ch.ID)
	}
	return ch, nil
}

// IsChannelID reports whether target is a canonical 36-character UUID.
// uuid.Parse also accepts urn, braced and undashed forms; those are
// treated as channel types.
func IsChannelID(target string) bool {
	if len(target) != 36 {
		return false
	}
	_, err := uuid.Parse(target)
	return err == nil
}

// Devices returns the registered devices for ids in request order, and the
// ids that matched no device with a token.
func Devices(ch *model.ChannelConfig, ids []string) (resolved []model.Device, unresolved []string) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if d, ok := ch.Settings.Device(id); ok {
			resolved = append(resolved, d)
		} else {
			unresolved = append(unresolved, id)
		}
	}
	return resolved, unresolved
}
