package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/domain"
)

// PaperBroker is an in-memory execution venue. Orders fill instantly at
// the configured mark price. Used in dev mode and by tests.
type PaperBroker struct {
	commissionRate float64
	log            zerolog.Logger

	mu       sync.Mutex
	cash     float64
	holdings map[string]float64
	prices   map[string]float64
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(startingCash, commissionRate float64, log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		commissionRate: commissionRate,
		log:            log.With().Str("component", "paper_broker").Logger(),
		cash:           startingCash,
		holdings:       make(map[string]float64),
		prices:         make(map[string]float64),
	}
}

// SetPrice sets the mark price orders fill at.
func (b *PaperBroker) SetPrice(asset string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[asset] = price
}

// SubmitOrder fills a market order at the mark price, or rejects it when
// cash or inventory is insufficient.
func (b *PaperBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[req.Asset]
	if !ok || price <= 0 {
		return nil, &domain.OrderRejectedError{
			Asset:   req.Asset,
			Side:    req.Side,
			Message: "no mark price",
		}
	}

	value := req.Quantity * price
	commission := value * b.commissionRate

	switch req.Side {
	case domain.SideBuy:
		if value+commission > b.cash {
			return nil, &domain.OrderRejectedError{
				Asset:   req.Asset,
				Side:    req.Side,
				Message: "insufficient cash",
			}
		}
		b.cash -= value + commission
		b.holdings[req.Asset] += req.Quantity
	case domain.SideSell:
		if req.Quantity > b.holdings[req.Asset] {
			return nil, &domain.OrderRejectedError{
				Asset:   req.Asset,
				Side:    req.Side,
				Message: "insufficient inventory",
			}
		}
		b.cash += value - commission
		b.holdings[req.Asset] -= req.Quantity
		if b.holdings[req.Asset] == 0 {
			delete(b.holdings, req.Asset)
		}
	default:
		return nil, &domain.OrderRejectedError{
			Asset:   req.Asset,
			Side:    req.Side,
			Message: "unknown side",
		}
	}

	b.log.Debug().
		Str("asset", req.Asset).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("price", price).
		Msg("Paper order filled")

	return &domain.OrderResult{
		OrderID:        uuid.NewString(),
		Status:         "FILLED",
		FilledQuantity: req.Quantity,
		FillPrice:      price,
		Commission:     commission,
	}, nil
}

// Holdings returns a copy of the current positions.
func (b *PaperBroker) Holdings(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.holdings))
	for asset, qty := range b.holdings {
		out[asset] = qty
	}
	return out, nil
}

// CashBalance returns the available cash.
func (b *PaperBroker) CashBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash, nil
}
