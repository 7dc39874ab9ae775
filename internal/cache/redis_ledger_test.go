package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLedger(rdb, ttl), mr
}

func TestRedisLedger_RecordDelivered(t *testing.T) {
	t.Parallel()

	ledger, mr := newTestLedger(t, 10*time.Second)

	ctx := context.Background()
	deliveredAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	err := ledger.RecordDelivered(ctx, Delivery{
		ScheduleID:  "s-1",
		DeliveredAt: deliveredAt,
		Targets:     []string{"d1", "d2"},
	})
	if err != nil {
		t.Fatalf("RecordDelivered() error: %v", err)
	}

	key := "delivery:s-1"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}
	var got Delivery
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if !got.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("expected DeliveredAt %v, got %v", deliveredAt, got.DeliveredAt)
	}
	if len(got.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %v", got.Targets)
	}

	ok, err := mr.SIsMember(pendingKey, "s-1")
	if err != nil || !ok {
		t.Fatalf("expected s-1 in pending set, ok=%v err=%v", ok, err)
	}
}

func TestRedisLedger_MarkPersistedClearsPending(t *testing.T) {
	t.Parallel()

	ledger, mr := newTestLedger(t, time.Minute)
	ctx := context.Background()

	if err := ledger.RecordDelivered(ctx, Delivery{ScheduleID: "s-1", DeliveredAt: time.Now()}); err != nil {
		t.Fatalf("RecordDelivered() error: %v", err)
	}
	if err := ledger.MarkPersisted(ctx, "s-1"); err != nil {
		t.Fatalf("MarkPersisted() error: %v", err)
	}

	pending, err := ledger.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending deliveries, got %v", pending)
	}
	if !mr.Exists("delivery:s-1") {
		t.Fatalf("expected delivery record to outlive the pending marker")
	}
}

func TestRedisLedger_PendingOrderedAndExpiredDropped(t *testing.T) {
	t.Parallel()

	ledger, mr := newTestLedger(t, time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	for i, id := range []string{"late", "early", "gone"} {
		at := base.Add(time.Duration(-i) * time.Minute)
		if err := ledger.RecordDelivered(ctx, Delivery{ScheduleID: id, DeliveredAt: at}); err != nil {
			t.Fatalf("RecordDelivered(%s) error: %v", id, err)
		}
	}
	mr.Del("delivery:gone")

	pending, err := ledger.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending deliveries, got %d", len(pending))
	}
	if pending[0].ScheduleID != "early" || pending[1].ScheduleID != "late" {
		t.Fatalf("expected oldest first, got %s then %s", pending[0].ScheduleID, pending[1].ScheduleID)
	}

	if ok, _ := mr.SIsMember(pendingKey, "gone"); ok {
		t.Fatalf("expected expired id to be dropped from the pending set")
	}
}

func TestRedisLedger_ContextCanceled(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ledger.RecordDelivered(ctx, Delivery{ScheduleID: "x", DeliveredAt: time.Now()}); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestNopLedger(t *testing.T) {
	t.Parallel()

	var l Ledger = NopLedger{}
	if err := l.RecordDelivered(context.Background(), Delivery{ScheduleID: "x"}); err != nil {
		t.Fatalf("RecordDelivered() error: %v", err)
	}
	if p, err := l.Pending(context.Background()); err != nil || p != nil {
		t.Fatalf("expected nil pending, got %v, %v", p, err)
	}
}
