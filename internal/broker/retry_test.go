package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfolio/qfolio/internal/domain"
)

// flakyBroker fails a configured number of times before succeeding.
type flakyBroker struct {
	failures int
	calls    int
	err      error
}

func (f *flakyBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &domain.OrderResult{OrderID: "ok", Status: "FILLED", FilledQuantity: req.Quantity}, nil
}

func (f *flakyBroker) Holdings(ctx context.Context) (map[string]float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return map[string]float64{"BTC": 1}, nil
}

func (f *flakyBroker) CashBalance(ctx context.Context) (float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, f.err
	}
	return 100, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestSubmitOrder_RetriesTransientFailures(t *testing.T) {
	inner := &flakyBroker{failures: 2, err: errors.New("connection reset")}
	c := NewRetryingClient(inner, 3, zerolog.Nop())
	c.sleep = noSleep

	result, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", result.Status)
	assert.Equal(t, 3, inner.calls)
}

func TestSubmitOrder_ExhaustsAttempts(t *testing.T) {
	transient := errors.New("timeout")
	inner := &flakyBroker{failures: 10, err: transient}
	c := NewRetryingClient(inner, 3, zerolog.Nop())
	c.sleep = noSleep

	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, transient, err)
	assert.Equal(t, 3, inner.calls)
}

func TestSubmitOrder_RejectionIsNotRetried(t *testing.T) {
	inner := &flakyBroker{
		failures: 10,
		err:      &domain.OrderRejectedError{Asset: "BTC", Side: domain.SideBuy, Message: "insufficient cash"},
	}
	c := NewRetryingClient(inner, 3, zerolog.Nop())
	c.sleep = noSleep

	_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
	assert.Equal(t, 1, inner.calls)
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	inner := &flakyBroker{failures: 10, err: errors.New("timeout")}
	c := NewRetryingClient(inner, 5, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Backoff sleep observes the cancelled context before the second try.
	_, err := c.SubmitOrder(ctx, domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, inner.calls)
}

func TestHoldingsAndCashBalance_Retry(t *testing.T) {
	inner := &flakyBroker{failures: 1, err: errors.New("connection reset")}
	c := NewRetryingClient(inner, 3, zerolog.Nop())
	c.sleep = noSleep

	holdings, err := c.Holdings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, holdings["BTC"])

	inner.calls, inner.failures = 0, 1
	cash, err := c.CashBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, cash)
}

func TestBackoffDelay_Doubles(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, backoffDelay(1))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(2))
	assert.Equal(t, time.Second, backoffDelay(3))
}
