package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/broadcast-dispatch/internal/cache"
	"github.com/LeventeLantos/broadcast-dispatch/internal/metrics"
	"github.com/LeventeLantos/broadcast-dispatch/internal/repo"
)

type SentMarker interface {
	MarkSent(ctx context.Context, id string, at time.Time) error
}

type ReconcileReport struct {
	Pending         int `json:"pending"`
	Repaired        int `json:"repaired"`
	AlreadyTerminal int `json:"alreadyTerminal"`
	Failed          int `json:"failed"`
}

// Reconciler replays ledger entries whose sent status was never persisted.
type Reconciler struct {
	store  SentMarker
	ledger cache.Ledger
	log    zerolog.Logger
}

func NewReconciler(store SentMarker, ledger cache.Ledger, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: ledger, log: log}
}

func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	pending, err := r.ledger.Pending(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Pending: len(pending)}
	remaining := 0
	for _, d := range pending {
		log := r.log.With().Str("schedule_id", d.ScheduleID).Logger()

		err := r.store.MarkSent(ctx, d.ScheduleID, d.DeliveredAt)
		switch {
		case err == nil:
			report.Repaired++
			log.Info().Time("delivered_at", d.DeliveredAt).Msg("sent status repaired from ledger")
		case errors.Is(err, repo.ErrStatusConflict):
			report.AlreadyTerminal++
			log.Debug().Msg("ledger entry already terminal")
		default:
			report.Failed++
			remaining++
			log.Warn().Err(err).Msg("ledger repair failed")
			continue
		}

		if err := r.ledger.MarkPersisted(ctx, d.ScheduleID); err != nil {
			remaining++
			log.Warn().Err(err).Msg("failed to clear ledger pending marker")
		}
	}

	metrics.LedgerPending.Set(float64(remaining))
	return report, nil
}
