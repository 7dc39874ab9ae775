package model

import (
	"time"

	"github.com/lib/pq"
)

type Status string

const (
	Scheduled Status = "scheduled"
	Sent      Status = "sent"
	Failed    Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

type ScheduleRequest struct {
	ID              string         `db:"id"                json:"id"`
	UserID          string         `db:"user_id"           json:"userId"`
	GenerationID    string         `db:"generation_id"     json:"generationId"`
	TargetChannel   string         `db:"target_channel"    json:"targetChannel"`
	ScheduledAt     time.Time      `db:"scheduled_time"    json:"scheduledTime"`
	Status          Status         `db:"status"            json:"status"`
	Name            *string        `db:"schedule_name"     json:"scheduleName,omitempty"`
	FailReason      *string        `db:"fail_reason"       json:"failReason,omitempty"`
	SentAt          *time.Time     `db:"sent_at"           json:"sentAt,omitempty"`
	IsPublic        *bool          `db:"is_public"         json:"isPublic,omitempty"`
	TargetDeviceIDs pq.StringArray `db:"target_device_ids" json:"targetDeviceIds,omitempty"`
	Customer        *string        `db:"customer"          json:"customer,omitempty"`
	Category        *string        `db:"category"          json:"category,omitempty"`
	Memo            *string        `db:"memo"              json:"memo,omitempty"`
	CreatedAt       time.Time      `db:"created_at"        json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at"        json:"updatedAt"`
}

// DeviceScoped reports whether the request targets specific devices rather
// than the channel's public feed. A request with the public flag unset and no
// device ids is treated as public.
func (r ScheduleRequest) DeviceScoped() bool {
	if r.IsPublic != nil && *r.IsPublic {
		return false
	}
	return len(r.TargetDeviceIDs) > 0
}

// Window is the closed time range scanned for due requests.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}
