package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sony/gobreaker"
)

var (
	_ Strategy = (*requestStrategy)(nil)
	_ Drainer  = (*requestStrategy)(nil)
)

const defaultRequestTimeout = 10 * time.Second

// RequestOption configures the request strategy.
type RequestOption func(*requestStrategy)

// WithHTTPClient overrides the pooled default client.
func WithHTTPClient(c *http.Client) RequestOption {
	return func(s *requestStrategy) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRequestTimeout bounds a single POST.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(s *requestStrategy) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBreakerThreshold sets how many consecutive failures open the per-endpoint breaker.
func WithBreakerThreshold(n uint32) RequestOption {
	return func(s *requestStrategy) {
		if n > 0 {
			s.breakerThreshold = n
		}
	}
}

type requestStrategy struct {
	client           *http.Client
	timeout          time.Duration
	breakerThreshold uint32
	logger           *slog.Logger

	// [CIRCUIT_BREAKERS] One per endpoint so a dead replica cannot trip the primary.
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	// [IN_FLIGHT] Tracked so shutdown can wait for outstanding POSTs.
	inflight sync.WaitGroup
}

// NewRequestStrategy returns the fallback strategy: an asynchronous POST per batch,
// with no content-type header and no retries.
func NewRequestStrategy(logger *slog.Logger, opts ...RequestOption) Strategy {
	s := &requestStrategy{
		client:           cleanhttp.DefaultPooledClient(),
		timeout:          defaultRequestTimeout,
		breakerThreshold: 5,
		logger:           logger,
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *requestStrategy) Name() string       { return StrategyRequest }
func (s *requestStrategy) TeardownSafe() bool { return false }

func (s *requestStrategy) Send(ctx context.Context, endpointURL string, body []byte) {
	// [DETACH] The producer's context must not cancel an already accepted batch.
	ctx = context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		_, err := s.breaker(endpointURL).Execute(func() (any, error) {
			return nil, s.post(ctx, endpointURL, body)
		})
		if err != nil {
			s.logger.Warn("REQUEST_DELIVERY_FAILED",
				"endpoint", endpointURL,
				"bytes", len(body),
				"err", err,
			)
		}
	}()
}

// Drain blocks until in-flight requests finish or ctx is done.
func (s *requestStrategy) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("request strategy: drain interrupted: %w", ctx.Err())
	}
}

func (s *requestStrategy) post(ctx context.Context, endpointURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// [WIRE] No Content-Type header, same as the beacon relay.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("collector responded %d", resp.StatusCode)
	}
	return nil
}

func (s *requestStrategy) breaker(endpointURL string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[endpointURL]; ok {
		return cb
	}

	threshold := s.breakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpointURL,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("COLLECTOR_BREAKER_STATE_CHANGED",
				"endpoint", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	s.breakers[endpointURL] = cb
	return cb
}
