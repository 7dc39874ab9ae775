package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/LeventeLantos/broadcast-dispatch/internal/metrics"
)

const maxResponseBytes = 64 << 10

type BreakerOptions struct {
	Enabled bool
	// Failures is the number of consecutive failures that opens the circuit.
	Failures    uint32
	OpenTimeout time.Duration
}

type Options struct {
	// Timeout bounds a single POST including reading the response. Default 30s.
	Timeout time.Duration
	// RatePerSec limits outbound POSTs across all endpoints. Zero disables.
	RatePerSec float64
	Breaker    BreakerOptions
	HTTPClient *http.Client
}

// Receipt is what the endpoint said about an accepted upload. It is used
// for logging only.
type Receipt struct {
	StatusCode int
	FileID     string
	Message    string
}

type BroadcastClient struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	breaker BreakerOptions
	log     zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Receipt]
}

func NewBroadcastClient(opts Options, log zerolog.Logger) *BroadcastClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Breaker.Failures == 0 {
		opts.Breaker.Failures = 5
	}
	if opts.Breaker.OpenTimeout <= 0 {
		opts.Breaker.OpenTimeout = time.Minute
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	return &BroadcastClient{
		client:   hc,
		timeout:  opts.Timeout,
		limiter:  limiter,
		breaker:  opts.Breaker,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Receipt]),
	}
}

// Send POSTs body to endpoint once. A non-2xx reply is an *HTTPError; every
// other failure is a *NetworkError.
func (c *BroadcastClient) Send(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*Receipt, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Err: err}
		}
	}

	if !c.breaker.Enabled {
		return c.post(ctx, endpoint, body, headers)
	}

	cb := c.breakerFor(endpoint)
	receipt, err := cb.Execute(func() (*Receipt, error) {
		return c.post(ctx, endpoint, body, headers)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &NetworkError{Err: fmt.Errorf("%w: %w", ErrCircuitOpen, err)}
	}
	return receipt, err
}

func (c *BroadcastClient) post(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	receipt := parseReceipt(respBody)
	receipt.StatusCode = resp.StatusCode
	return receipt, nil
}

type receiptBody struct {
	FileID    string `json:"fileId"`
	FileIDAlt string `json:"file_id"`
	ID        string `json:"id"`
	Message   string `json:"message"`
}

func parseReceipt(body []byte) *Receipt {
	var rb receiptBody
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &rb) != nil {
		return &Receipt{}
	}
	r := &Receipt{Message: rb.Message}
	for _, id := range []string{rb.FileID, rb.FileIDAlt, rb.ID} {
		if id != "" {
			r.FileID = id
			break
		}
	}
	return r
}

func (c *BroadcastClient) breakerFor(endpoint string) *gobreaker.CircuitBreaker[*Receipt] {
	name := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		name = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	failures := c.breaker.Failures
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[*Receipt](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx replies say nothing about the endpoint's health.
		IsSuccessful: func(err error) bool {
			var he *HTTPError
			if errors.As(err, &he) {
				return he.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	c.breakers[name] = cb
	return cb
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
