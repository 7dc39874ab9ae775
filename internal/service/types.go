package service

import (
	"errors"
	"time"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
)

// FailureKind classifies why a request did not end up sent.
type FailureKind string

const (
	KindNotReady           FailureKind = "not_ready"
	KindCircuitOpen        FailureKind = "circuit_open"
	KindAudioUnavailable   FailureKind = "audio_unavailable"
	KindAudioTooSmall      FailureKind = "audio_too_small"
	KindChannelUnavailable FailureKind = "channel_unavailable"
	KindEndpointMissing    FailureKind = "endpoint_missing"
	KindHTTPError          FailureKind = "http_error"
	KindNetworkError       FailureKind = "network_error"
	KindStatusWriteFailed  FailureKind = "status_write_failed"
)

type ResultStatus string

const (
	ResultSent     ResultStatus = "sent"
	ResultFailed   ResultStatus = "failed"
	ResultDeferred ResultStatus = "deferred"
)

type DeliveryStatus string

const (
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliverySkipped    DeliveryStatus = "skipped"
	DeliveryUnresolved DeliveryStatus = "unresolved"
)

// Delivery is the outcome of one POST, or of a device that never got one.
type Delivery struct {
	Mode       string         `json:"mode"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Status     DeliveryStatus `json:"status"`
	StatusCode int            `json:"statusCode,omitempty"`
	FileID     string         `json:"fileId,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type Result struct {
	ScheduleID string       `json:"scheduleId"`
	Status     ResultStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Kind       FailureKind  `json:"kind,omitempty"`
	// Delivered is true once every target accepted the audio.
	Delivered bool `json:"delivered"`
	// StatusPersisted is true when the terminal status write succeeded.
	StatusPersisted bool       `json:"statusPersisted"`
	Deliveries      []Delivery `json:"deliveries"`
}

type Summary struct {
	RunID         string       `json:"runId"`
	ExecutedCount int          `json:"executedCount"`
	FailedCount   int          `json:"failedCount"`
	DeferredCount int          `json:"deferredCount"`
	Total         int          `json:"total"`
	Results       []Result     `json:"results"`
	Timestamp     time.Time    `json:"timestamp"`
	Window        model.Window `json:"window"`
	Error         string       `json:"error,omitempty"`
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	s.Total++
	switch r.Status {
	case ResultSent:
		s.ExecutedCount++
	case ResultFailed:
		s.FailedCount++
	case ResultDeferred:
		s.DeferredCount++
	}
}

// stepError tags a pipeline error with its failure kind.
type stepError struct {
	kind FailureKind
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func failWith(kind FailureKind, err error) error {
	return &stepError{kind: kind, err: err}
}

func kindOf(err error) FailureKind {
	var se *stepError
	if errors.As(err, &se) {
		return se.kind
	}
	return KindNetworkError
}
