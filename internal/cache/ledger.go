// Package cache keeps the delivery ledger: a record that audio reached an
// endpoint, written before the status update so a failed update can be
// repaired later.
package cache

import (
	"context"
	"time"
)

type Delivery struct {
	ScheduleID  string    `json:"scheduleId"`
	DeliveredAt time.Time `json:"deliveredAt"`
	// Targets holds the delivered device ids, or "public".
	Targets []string `json:"targets"`
	FileIDs []string `json:"fileIds,omitempty"`
}

type Ledger interface {
	RecordDelivered(ctx context.Context, d Delivery) error
	// MarkPersisted clears the pending marker once the status write landed.
	MarkPersisted(ctx context.Context, scheduleID string) error
	Pending(ctx context.Context) ([]Delivery, error)
}

// NopLedger is used when Redis is not configured.
type NopLedger struct{}

func (NopLedger) RecordDelivered(context.Context, Delivery) error { return nil }
func (NopLedger) MarkPersisted(context.Context, string) error     { return nil }
func (NopLedger) Pending(context.Context) ([]Delivery, error)     { return nil, nil }
