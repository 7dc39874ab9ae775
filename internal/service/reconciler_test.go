package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/broadcast-dispatch/internal/cache"
	"github.com/LeventeLantos/broadcast-dispatch/internal/metrics"
	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
	"github.com/LeventeLantos/broadcast-dispatch/internal/service"
)

func newLedger(t *testing.T) *cache.RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewRedisLedger(rdb, time.Hour)
}

func TestReconciler_RepairsLostStatusWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	h := newHarness(t, request("lost", "gen-ok", "radio", testNow))
	h.exec.WithLedger(ledger)
	h.store.markSentErr = errors.New("db unavailable")

	if _, err := h.exec.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}

	pending, err := ledger.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 1 || pending[0].ScheduleID != "lost" {
		t.Fatalf("expected lost delivery pending, got %+v", pending)
	}
	if len(pending[0].Targets) != 1 || pending[0].Targets[0] != "public" {
		t.Fatalf("expected public target recorded, got %v", pending[0].Targets)
	}

	h.store.mu.Lock()
	h.store.markSentErr = nil
	h.store.mu.Unlock()

	report, err := service.NewReconciler(h.store, ledger, zerolog.Nop()).Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if report.Pending != 1 || report.Repaired != 1 {
		t.Fatalf("expected 1 repaired, got %+v", report)
	}
	if got := h.store.status("lost"); got != model.Sent {
		t.Fatalf("expected status sent, got %s", got)
	}
	if at := h.store.sentAt["lost"]; !at.Equal(testNow) {
		t.Fatalf("expected sent_at from ledger %v, got %v", testNow, at)
	}

	pending, _ = ledger.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected ledger drained, got %+v", pending)
	}
}

func TestReconciler_ClearsAlreadyTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	done := request("done", "gen-ok", "radio", testNow)
	done.Status = model.Sent
	store := newFakeStore(done)

	if err := ledger.RecordDelivered(ctx, cache.Delivery{ScheduleID: "done", DeliveredAt: testNow}); err != nil {
		t.Fatalf("RecordDelivered() error: %v", err)
	}

	report, err := service.NewReconciler(store, ledger, zerolog.Nop()).Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if report.AlreadyTerminal != 1 || report.Repaired != 0 {
		t.Fatalf("expected 1 already terminal, got %+v", report)
	}
	if pending, _ := ledger.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected ledger drained, got %+v", pending)
	}
}

func TestReconciler_KeepsEntryWhenStoreFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	store := newFakeStore(request("x", "gen-ok", "radio", testNow))
	store.markSentErr = errors.New("still down")

	if err := ledger.RecordDelivered(ctx, cache.Delivery{ScheduleID: "x", DeliveredAt: testNow}); err != nil {
		t.Fatalf("RecordDelivered() error: %v", err)
	}

	report, err := service.NewReconciler(store, ledger, zerolog.Nop()).Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failed repair, got %+v", report)
	}
	if pending, _ := ledger.Pending(ctx); len(pending) != 1 {
		t.Fatalf("expected entry to stay pending, got %+v", pending)
	}
}

func TestExecutor_LedgerClearedAfterPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newLedger(t)
	h := newHarness(t, request("ok", "gen-ok", "radio", testNow))
	h.exec.WithLedger(ledger)

	if _, err := h.exec.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if pending, _ := ledger.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected no pending deliveries, got %+v", pending)
	}
}

// stubLedger serves a fixed pending list and can refuse to clear ids.
type stubLedger struct {
	cache.NopLedger
	pending     []cache.Delivery
	failPersist map[string]bool
}

func (l *stubLedger) Pending(context.Context) ([]cache.Delivery, error) { return l.pending, nil }

func (l *stubLedger) MarkPersisted(_ context.Context, id string) error {
	if l.failPersist[id] {
		return errors.New("redis timeout")
	}
	return nil
}

// Not parallel: the pending gauge is process-wide.
func TestReconciler_PendingGaugeCountsUnclearedEntries(t *testing.T) {
	done := request("c", "gen-ok", "radio", testNow)
	done.Status = model.Sent
	store := newFakeStore(
		request("a", "gen-ok", "radio", testNow),
		request("b", "gen-ok", "radio", testNow),
		done,
	)
	ledger := &stubLedger{
		pending: []cache.Delivery{
			{ScheduleID: "a", DeliveredAt: testNow},
			{ScheduleID: "b", DeliveredAt: testNow},
			{ScheduleID: "c", DeliveredAt: testNow},
		},
		failPersist: map[string]bool{"b": true},
	}

	report, err := service.NewReconciler(store, ledger, zerolog.Nop()).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if report.Repaired != 2 || report.AlreadyTerminal != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := testutil.ToFloat64(metrics.LedgerPending); got != 1 {
		t.Fatalf("expected 1 entry left pending, gauge=%v", got)
	}
}
