package client

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen marks a POST that was never attempted because the
// endpoint's circuit breaker rejected it.
var ErrCircuitOpen = errors.New("endpoint circuit open")

// HTTPError is a completed exchange whose status was not 2xx.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Body)
}

// NetworkError is any failure that prevented a response from arriving:
// transport errors, timeouts, rate limit waits and an open circuit.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }
