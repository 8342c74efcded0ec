package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfolio/qfolio/internal/domain"
)

func TestPaperBroker_BuySellRoundTrip(t *testing.T) {
	b := NewPaperBroker(1000, 0.001, zerolog.Nop())
	b.SetPrice("BTC", 100)
	ctx := context.Background()

	buy, err := b.SubmitOrder(ctx, domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", buy.Status)
	assert.Equal(t, 2.0, buy.FilledQuantity)
	assert.Equal(t, 100.0, buy.FillPrice)
	assert.InDelta(t, 0.2, buy.Commission, 1e-12)
	assert.NotEmpty(t, buy.OrderID)

	cash, err := b.CashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-200-0.2, cash, 1e-9)

	holdings, err := b.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, holdings["BTC"])

	b.SetPrice("BTC", 110)
	sell, err := b.SubmitOrder(ctx, domain.OrderRequest{Asset: "BTC", Side: domain.SideSell, Quantity: 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.22, sell.Commission, 1e-12)

	holdings, err = b.Holdings(ctx)
	require.NoError(t, err)
	assert.NotContains(t, holdings, "BTC")

	cash, err = b.CashBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-200-0.2+220-0.22, cash, 1e-9)
}

func TestPaperBroker_RejectsInsufficientCash(t *testing.T) {
	b := NewPaperBroker(100, 0, zerolog.Nop())
	b.SetPrice("BTC", 100)

	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideBuy, Quantity: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
}

func TestPaperBroker_RejectsInsufficientInventory(t *testing.T) {
	b := NewPaperBroker(1000, 0, zerolog.Nop())
	b.SetPrice("BTC", 100)

	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideSell, Quantity: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
}

func TestPaperBroker_RejectsUnknownAsset(t *testing.T) {
	b := NewPaperBroker(1000, 0, zerolog.Nop())

	_, err := b.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "DOGE", Side: domain.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderRejected))
}
