// Package domain contains the core types shared across the system.
// It is pure: no infrastructure dependencies, no I/O.
package domain

import (
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Snapshot holds the per-asset bar series for one cycle.
// Bars are ordered oldest to newest. A snapshot is immutable once built;
// the selection pipeline owns it for the duration of a single cycle.
type Snapshot struct {
	assets map[string][]Candle
	order  []string
}

// NewSnapshot builds a snapshot from per-asset bar series. The asset order
// is preserved so downstream matrices index deterministically.
func NewSnapshot(assets []string, bars map[string][]Candle) *Snapshot {
	m := make(map[string][]Candle, len(assets))
	order := make([]string, 0, len(assets))
	for _, a := range assets {
		series, ok := bars[a]
		if !ok || len(series) == 0 {
			continue
		}
		m[a] = series
		order = append(order, a)
	}
	return &Snapshot{assets: m, order: order}
}

// Assets returns the asset universe in insertion order.
func (s *Snapshot) Assets() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Bars returns the bar series for an asset, or nil if unknown.
func (s *Snapshot) Bars(asset string) []Candle {
	return s.assets[asset]
}

// Closes returns the close-price series for an asset.
func (s *Snapshot) Closes(asset string) []float64 {
	bars := s.assets[asset]
	if bars == nil {
		return nil
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Returns computes simple period-over-period returns for an asset.
func (s *Snapshot) Returns(asset string) []float64 {
	closes := s.Closes(asset)
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return rets
}

// LastClose returns the most recent close for an asset and whether one exists.
func (s *Snapshot) LastClose(asset string) (float64, bool) {
	bars := s.assets[asset]
	if len(bars) == 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// Len returns the number of bars for an asset.
func (s *Snapshot) Len(asset string) int {
	return len(s.assets[asset])
}

// AlphaVector maps asset to its normalized alpha score in [-1, 1].
// Cycle-scoped: recomputed every cycle and discarded.
type AlphaVector map[string]float64

// CorrelationMatrix is a symmetric correlation matrix over an ordered
// asset universe. Diagonal is 1. Positive semi-definiteness is an
// estimation artifact, not enforced.
type CorrelationMatrix struct {
	Assets []string
	Rho    [][]float64
}

// At returns the correlation between assets i and j by index.
func (c *CorrelationMatrix) At(i, j int) float64 {
	return c.Rho[i][j]
}

// QUBOProblem is the coefficient matrix of the selection Hamiltonian.
// Consumed exactly once by the annealer.
type QUBOProblem struct {
	Assets  []string
	Q       [][]float64 // upper-triangular coefficients, Q[i][i] diagonal
	Penalty float64     // constraint strength P actually applied
	Target  int         // soft cardinality target n
}

// Selection is a binary vector over the asset universe. The soft target
// is exactly Target ones; the annealer may drift by a small margin and
// callers repair the count before use.
type Selection struct {
	Assets []string
	Bits   []int
	Energy float64
}

// Chosen returns the assets with bit set.
func (s *Selection) Chosen() []string {
	out := make([]string, 0, len(s.Bits))
	for i, b := range s.Bits {
		if b == 1 {
			out = append(out, s.Assets[i])
		}
	}
	return out
}

// Count returns the number of set bits.
func (s *Selection) Count() int {
	n := 0
	for _, b := range s.Bits {
		n += b
	}
	return n
}

// TargetWeights maps selected asset to target weight in [0, 1].
// Weights sum to 1 within tolerance; unselected assets carry no entry.
type TargetWeights map[string]float64

// Sum returns the total weight.
func (w TargetWeights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// RegimeParams are the regime-derived selection parameters for a cycle.
type RegimeParams struct {
	Regime     string  // LOW_VOLATILITY | NORMAL | HIGH_VOLATILITY
	Volatility float64 // annualized
	N          int     // portfolio size target
	Lambda     float64 // risk-penalty weight
}

// Holding is the per-asset portfolio state. Mutated only by the
// rebalance orchestrator after a confirmed fill.
type Holding struct {
	Asset         string
	Quantity      float64
	AvgEntryPrice float64
	EntryTime     time.Time
	RealizedPnL   float64
}

// MarketValue returns the holding value at the given price.
func (h *Holding) MarketValue(price float64) float64 {
	return h.Quantity * price
}

// TradeRecord is an immutable ledger entry for an executed trade.
// Append-only; forms the history the compliance engine evaluates against.
type TradeRecord struct {
	OrderID    string
	Asset      string
	Side       Side
	Quantity   float64
	Price      float64
	Commission float64
	ExecutedAt time.Time

	// Holding snapshot after the fill was applied.
	HoldingQuantity float64
	HoldingAvgPrice float64
}

// Value returns the gross trade value.
func (t *TradeRecord) Value() float64 {
	return t.Quantity * t.Price
}

// ReasonCode identifies the compliance rule that blocked a trade.
type ReasonCode string

const (
	ReasonMinHoldTime    ReasonCode = "MIN_HOLD_TIME"
	ReasonMinNetProfit   ReasonCode = "MIN_NET_PROFIT"
	ReasonAssetDailyCap  ReasonCode = "ASSET_DAILY_CAP"
	ReasonGlobalDailyCap ReasonCode = "GLOBAL_DAILY_CAP"
	ReasonMinTradeValue  ReasonCode = "MIN_TRADE_VALUE"
	ReasonSellCooldown   ReasonCode = "SELL_COOLDOWN"
	ReasonApproved       ReasonCode = "APPROVED"
)

// ComplianceDecision is the per-trade verdict of the wash-compliance
// engine. Ephemeral: produced per proposed trade and logged to audit.
type ComplianceDecision struct {
	Asset       string
	Side        Side
	Quantity    float64
	Price       float64
	Approved    bool
	Reason      ReasonCode
	Rule        string // human-readable rule description with numeric context
	EvaluatedAt time.Time
}

// OrderRequest is a proposed order for the execution interface.
type OrderRequest struct {
	ClientID  string
	Asset     string
	Side      Side
	Quantity  float64
	OrderType string // MARKET
}

// OrderResult is the broker response for a submitted order.
type OrderResult struct {
	OrderID        string
	Status         string // FILLED | PARTIAL | REJECTED
	FilledQuantity float64
	FillPrice      float64
	Commission     float64
}

// CycleSnapshot captures everything needed to reconstruct one selection
// cycle from the audit trail alone.
type CycleSnapshot struct {
	CycleID    string             `msgpack:"cycle_id"`
	StartedAt  time.Time          `msgpack:"started_at"`
	Regime     RegimeParams       `msgpack:"regime"`
	Alpha      map[string]float64 `msgpack:"alpha"`
	Energy     float64            `msgpack:"energy"`
	Selected   []string           `msgpack:"selected"`
	Weights    map[string]float64 `msgpack:"weights"`
	LambdaRisk float64            `msgpack:"lambda_risk"`
}
