package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const pendingKey = "delivery:pending"

type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLedger(rdb *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

func deliveryKey(scheduleID string) string {
	return "delivery:" + scheduleID
}

func (l *RedisLedger) RecordDelivered(ctx context.Context, d Delivery) error {
	d.DeliveredAt = d.DeliveredAt.UTC()
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}

	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, deliveryKey(d.ScheduleID), b, l.ttl)
		p.SAdd(ctx, pendingKey, d.ScheduleID)
		return nil
	})
	return err
}

func (l *RedisLedger) MarkPersisted(ctx context.Context, scheduleID string) error {
	return l.rdb.SRem(ctx, pendingKey, scheduleID).Err()
}

// Pending returns pending deliveries oldest first. Ids whose record has
// expired are dropped from the pending set.
func (l *RedisLedger) Pending(ctx context.Context) ([]Delivery, error) {
	ids, err := l.rdb.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		raw, err := l.rdb.Get(ctx, deliveryKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			if err := l.rdb.SRem(ctx, pendingKey, id).Err(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		var d Delivery
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode delivery %s: %w", id, err)
		}
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeliveredAt.Before(out[j].DeliveredAt)
	})
	return out, nil
}
