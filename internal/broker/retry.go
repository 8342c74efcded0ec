// Package broker wraps the trade execution boundary with bounded retry
// and provides an in-memory paper broker for development and tests.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/domain"
)

const baseBackoff = 250 * time.Millisecond

// RetryingClient decorates a BrokerClient with bounded retries and
// exponential backoff on transient failures. Business rejections
// (OrderRejected) are permanent and never retried.
type RetryingClient struct {
	inner    domain.BrokerClient
	attempts int
	log      zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps a broker client. attempts is the total number
// of tries per call, minimum 1.
func NewRetryingClient(inner domain.BrokerClient, attempts int, log zerolog.Logger) *RetryingClient {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingClient{
		inner:    inner,
		attempts: attempts,
		log:      log.With().Str("component", "broker_retry").Logger(),
		sleep:    sleepCtx,
	}
}

// SubmitOrder submits an order, retrying transient failures with
// exponential backoff. A rejection from the venue is returned as-is.
func (c *RetryingClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		result, err := c.inner.SubmitOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		c.log.Warn().
			Err(err).
			Str("asset", req.Asset).
			Str("side", string(req.Side)).
			Int("attempt", attempt).
			Int("max_attempts", c.attempts).
			Msg("Order submission failed, retrying")

		if attempt < c.attempts {
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// Holdings retries transient failures the same way as SubmitOrder.
func (c *RetryingClient) Holdings(ctx context.Context) (map[string]float64, error) {
	var holdings map[string]float64
	err := c.retry(ctx, "holdings", func() error {
		var innerErr error
		holdings, innerErr = c.inner.Holdings(ctx)
		return innerErr
	})
	return holdings, err
}

// CashBalance retries transient failures the same way as SubmitOrder.
func (c *RetryingClient) CashBalance(ctx context.Context) (float64, error) {
	var cash float64
	err := c.retry(ctx, "cash_balance", func() error {
		var innerErr error
		cash, innerErr = c.inner.CashBalance(ctx)
		return innerErr
	})
	return cash, err
}

func (c *RetryingClient) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		c.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Msg("Broker call failed, retrying")

		if attempt < c.attempts {
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// isTransient reports whether an error is worth retrying. Rejections
// are business outcomes, not infrastructure failures.
func isTransient(err error) bool {
	if errors.Is(err, domain.ErrOrderRejected) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// backoffDelay doubles per attempt: 250ms, 500ms, 1s, ...
func backoffDelay(attempt int) time.Duration {
	return baseBackoff << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
