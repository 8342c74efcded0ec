// Package rebalance drives the order side of a cycle: it turns target
// weights into compliant orders through seven ordered stages, with
// sells always completing (and cash resyncing) before buys are sized.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/qfolio/qfolio/internal/compliance"
	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
)

// Stage names used in audit events.
const (
	stagePriceDiscovery = "price_discovery"
	stageValuation      = "valuation"
	stageDelta          = "delta_computation"
	stageCompliance     = "compliance_filtering"
	stageSell           = "sell_execution"
	stageCashResync     = "cash_resync"
	stageBuy            = "buy_execution"
)

// intent is one proposed trade before compliance and sizing.
type intent struct {
	asset    string
	side     domain.Side
	quantity float64
	price    float64
	value    float64 // gross value at current price
}

// Report summarizes one rebalance cycle.
type Report struct {
	CycleID        string
	TotalValue     float64
	CashAfter      float64
	SellsExecuted  int
	BuysExecuted   int
	Blocked        int
	ExcludedAssets []string
}

// Orchestrator executes rebalance cycles. Holdings are mutated only
// here, only after confirmed fills, under a single cycle at a time.
type Orchestrator struct {
	cfg        config.RebalanceConfig
	market     domain.MarketDataProvider
	broker     domain.BrokerClient
	compliance *compliance.Engine
	audit      domain.AuditSink
	log        zerolog.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	holdings map[string]*domain.Holding
	peak     float64 // high-water portfolio value for drawdown tracking
	tripped  bool    // drawdown breaker; stays set until cleared
}

// NewOrchestrator creates a rebalance orchestrator.
func NewOrchestrator(
	cfg config.RebalanceConfig,
	market domain.MarketDataProvider,
	broker domain.BrokerClient,
	comp *compliance.Engine,
	audit domain.AuditSink,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		market:     market,
		broker:     broker,
		compliance: comp,
		audit:      audit,
		log:        log.With().Str("component", "rebalance").Logger(),
		limiter:    rate.NewLimiter(rate.Every(cfg.OrderInterval()), 1),
		breaker:    newOrderBreaker(),
		holdings:   make(map[string]*domain.Holding),
	}
}

func newOrderBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "order_submission",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// SetHolding seeds or replaces a position. Used at startup when
// reconciling against the broker and by tests.
func (o *Orchestrator) SetHolding(h domain.Holding) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h.Quantity <= 0 {
		delete(o.holdings, h.Asset)
		return
	}
	copied := h
	o.holdings[h.Asset] = &copied
}

// Holdings returns a copy of the current positions.
func (o *Orchestrator) Holdings() []domain.Holding {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Holding, 0, len(o.holdings))
	for _, h := range o.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// ClearBreaker manually clears a tripped drawdown breaker and resets
// the order-submission breaker state.
func (o *Orchestrator) ClearBreaker() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tripped = false
	o.breaker = newOrderBreaker()
	o.log.Warn().Msg("Circuit breaker manually cleared")
}

// Execute runs one full rebalance cycle against the target weights.
// The cycle mutex serializes cycles: a new cycle cannot observe a
// previous cycle's partially-updated holdings.
func (o *Orchestrator) Execute(ctx context.Context, cycleID string, targets domain.TargetWeights) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := &Report{CycleID: cycleID}

	// Stage 1: price discovery. A missing price excludes the asset from
	// this cycle but never aborts it.
	prices := o.discoverPrices(ctx, cycleID, targets, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Stage 2: valuation.
	cash, total, err := o.valuation(ctx, cycleID, prices)
	if err != nil {
		return report, err
	}
	report.TotalValue = total

	if err := o.checkDrawdown(cycleID, total); err != nil {
		return report, err
	}

	// Stage 3: delta computation with the churn threshold.
	sells, buys := o.computeDeltas(cycleID, targets, prices, total)

	// Stage 4: compliance filtering.
	sells = o.filterCompliant(cycleID, sells, report)
	buys = o.filterCompliant(cycleID, buys, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Stage 5: sells first, largest freed cash first, so buying power is
	// maximal before buys are sized.
	sort.Slice(sells, func(i, j int) bool { return sells[i].value > sells[j].value })
	for _, it := range sells {
		if err := o.executeOrder(ctx, cycleID, it, stageSell); err != nil {
			if errors.Is(err, domain.ErrCircuitBreakerTripped) {
				return report, err
			}
			continue
		}
		report.SellsExecuted++
	}

	// Stage 6: cash resync. Actual post-sell cash accounts for
	// commissions and partial fills.
	cash, err = o.cashBalance(ctx)
	if err != nil {
		o.logEvent(cycleID, stageCashResync, "", fmt.Sprintf("cash resync failed: %v", err))
		return report, fmt.Errorf("cash resync failed: %w", err)
	}
	o.logEvent(cycleID, stageCashResync, "", fmt.Sprintf("cash available %.2f", cash))

	// Stage 7: buys, proportionally scaled down when the requested total
	// exceeds available cash.
	buys = o.scaleBuys(cycleID, buys, cash)
	for _, it := range buys {
		if err := o.executeOrder(ctx, cycleID, it, stageBuy); err != nil {
			if errors.Is(err, domain.ErrCircuitBreakerTripped) {
				return report, err
			}
			continue
		}
		report.BuysExecuted++
	}

	report.CashAfter, _ = o.cashBalance(ctx)
	o.log.Info().
		Str("cycle_id", cycleID).
		Int("sells", report.SellsExecuted).
		Int("buys", report.BuysExecuted).
		Int("blocked", report.Blocked).
		Float64("total_value", report.TotalValue).
		Msg("Rebalance cycle complete")
	return report, nil
}

func (o *Orchestrator) discoverPrices(ctx context.Context, cycleID string, targets domain.TargetWeights, report *Report) map[string]float64 {
	assets := make(map[string]struct{}, len(targets)+len(o.holdings))
	for asset := range targets {
		assets[asset] = struct{}{}
	}
	for asset := range o.holdings {
		assets[asset] = struct{}{}
	}

	prices := make(map[string]float64, len(assets))
	for asset := range assets {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		price, err := o.market.LatestPrice(callCtx, asset)
		cancel()
		if err != nil || price <= 0 {
			perr := &domain.PriceUnavailableError{Asset: asset, Stage: stagePriceDiscovery, Err: err}
			o.log.Warn().Err(perr).Str("asset", asset).Msg("Excluding asset from cycle")
			o.logEvent(cycleID, stagePriceDiscovery, asset, perr.Error())
			report.ExcludedAssets = append(report.ExcludedAssets, asset)
			continue
		}
		prices[asset] = price
	}
	sort.Strings(report.ExcludedAssets)
	return prices
}

func (o *Orchestrator) valuation(ctx context.Context, cycleID string, prices map[string]float64) (cash, total float64, err error) {
	cash, err = o.cashBalance(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("valuation failed: %w", err)
	}
	total = cash
	for asset, h := range o.holdings {
		if price, ok := prices[asset]; ok {
			total += h.MarketValue(price)
		}
	}
	o.logEvent(cycleID, stageValuation, "", fmt.Sprintf("portfolio value %.2f, cash %.2f", total, cash))
	return cash, total, nil
}

// checkDrawdown trips the circuit breaker when the portfolio value has
// fallen too far from its high-water mark. The trip persists across
// cycles until manually cleared.
func (o *Orchestrator) checkDrawdown(cycleID string, total float64) error {
	if total > o.peak {
		o.peak = total
	}
	if o.tripped {
		err := &domain.CircuitBreakerTrippedError{Drawdown: (o.peak - total) / o.peak, Limit: o.cfg.MaxDrawdown}
		o.logEvent(cycleID, stageValuation, "", err.Error())
		return err
	}
	if o.peak <= 0 {
		return nil
	}
	drawdown := (o.peak - total) / o.peak
	if drawdown > o.cfg.MaxDrawdown {
		o.tripped = true
		err := &domain.CircuitBreakerTrippedError{Drawdown: drawdown, Limit: o.cfg.MaxDrawdown}
		o.log.Error().
			Float64("drawdown", drawdown).
			Float64("limit", o.cfg.MaxDrawdown).
			Msg("Drawdown circuit breaker tripped, halting order submission")
		o.logEvent(cycleID, stageValuation, "", err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) computeDeltas(cycleID string, targets domain.TargetWeights, prices map[string]float64, total float64) (sells, buys []intent) {
	if total <= 0 {
		return nil, nil
	}

	assets := make([]string, 0, len(prices))
	for asset := range prices {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		price := prices[asset]
		var currentValue float64
		if h, ok := o.holdings[asset]; ok {
			currentValue = h.MarketValue(price)
		}
		currentWeight := currentValue / total
		targetWeight := targets[asset]
		delta := targetWeight - currentWeight
		if abs(delta) < o.cfg.Threshold {
			continue
		}

		value := abs(delta) * total
		if delta < 0 {
			qty := value / price
			if h, ok := o.holdings[asset]; ok && qty > h.Quantity {
				qty = h.Quantity
			}
			qty = o.roundToStep(asset, qty)
			if qty <= 0 {
				continue
			}
			sells = append(sells, intent{
				asset: asset, side: domain.SideSell,
				quantity: qty, price: price, value: qty * price,
			})
		} else {
			qty := o.roundToStep(asset, value/price)
			if qty <= 0 {
				continue
			}
			buys = append(buys, intent{
				asset: asset, side: domain.SideBuy,
				quantity: qty, price: price, value: qty * price,
			})
		}
		o.logEvent(cycleID, stageDelta, asset, fmt.Sprintf(
			"weight %.4f -> %.4f, delta %.4f", currentWeight, targetWeight, delta))
	}
	return sells, buys
}

func (o *Orchestrator) filterCompliant(cycleID string, intents []intent, report *Report) []intent {
	approved := intents[:0]
	for _, it := range intents {
		decision := o.compliance.Evaluate(it.asset, it.side, it.quantity, it.price)
		if err := o.audit.LogDecision(cycleID, decision); err != nil {
			o.log.Error().Err(err).Msg("Failed to log compliance decision")
		}
		if !decision.Approved {
			report.Blocked++
			o.logEvent(cycleID, stageCompliance, it.asset, (&domain.ComplianceBlockedError{Decision: decision}).Error())
			continue
		}
		approved = append(approved, it)
	}
	return approved
}

// scaleBuys shrinks every buy by the same factor when the requested
// total exceeds available cash, preserving relative proportions.
func (o *Orchestrator) scaleBuys(cycleID string, buys []intent, cash float64) []intent {
	var requested float64
	for _, it := range buys {
		requested += it.value
	}
	if requested <= cash || requested == 0 {
		return buys
	}

	scale := cash / requested
	o.logEvent(cycleID, stageBuy, "", fmt.Sprintf(
		"requested buy value %.2f exceeds cash %.2f, scaling by %.4f", requested, cash, scale))

	scaled := buys[:0]
	for _, it := range buys {
		it.quantity = o.roundToStep(it.asset, it.quantity*scale)
		if it.quantity <= 0 {
			continue
		}
		it.value = it.quantity * it.price
		scaled = append(scaled, it)
	}
	return scaled
}

// executeOrder submits one order through the rate limiter and circuit
// breaker, then applies the confirmed fill to holdings, the compliance
// state and the audit trail.
func (o *Orchestrator) executeOrder(ctx context.Context, cycleID string, it intent, stage string) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	req := domain.OrderRequest{
		ClientID:  uuid.NewString(),
		Asset:     it.asset,
		Side:      it.side,
		Quantity:  it.quantity,
		OrderType: "MARKET",
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()

	res, err := o.breaker.Execute(func() (interface{}, error) {
		return o.broker.SubmitOrder(callCtx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			cbErr := &domain.CircuitBreakerTrippedError{Limit: o.cfg.MaxDrawdown}
			o.logEvent(cycleID, stage, it.asset, cbErr.Error())
			return cbErr
		}
		o.log.Warn().Err(err).Str("asset", it.asset).Str("side", string(it.side)).Msg("Order failed")
		o.logEvent(cycleID, stage, it.asset, fmt.Sprintf("order failed: %v", err))
		return err
	}

	result := res.(*domain.OrderResult)
	if result.Status == "REJECTED" || result.FilledQuantity <= 0 {
		rejErr := &domain.OrderRejectedError{Asset: it.asset, Side: it.side, Message: result.Status}
		o.logEvent(cycleID, stage, it.asset, rejErr.Error())
		return rejErr
	}

	rec := o.applyFill(it, result)
	o.compliance.RecordFill(&rec)
	if err := o.audit.LogTrade(cycleID, rec); err != nil {
		o.log.Error().Err(err).Msg("Failed to log trade")
	}
	o.logEvent(cycleID, stage, it.asset, fmt.Sprintf(
		"%s filled qty=%.8f price=%.4f", it.side, result.FilledQuantity, result.FillPrice))
	return nil
}

// applyFill reconciles holdings to the actual filled quantity, which
// may be below the requested quantity on a partial fill.
func (o *Orchestrator) applyFill(it intent, result *domain.OrderResult) domain.TradeRecord {
	now := time.Now().UTC()
	h, ok := o.holdings[it.asset]
	if !ok {
		h = &domain.Holding{Asset: it.asset}
		o.holdings[it.asset] = h
	}

	switch it.side {
	case domain.SideBuy:
		newQty := h.Quantity + result.FilledQuantity
		h.AvgEntryPrice = (h.Quantity*h.AvgEntryPrice + result.FilledQuantity*result.FillPrice) / newQty
		h.Quantity = newQty
		h.EntryTime = now
	case domain.SideSell:
		h.RealizedPnL += (result.FillPrice-h.AvgEntryPrice)*result.FilledQuantity - result.Commission
		h.Quantity -= result.FilledQuantity
		if h.Quantity <= 0 {
			delete(o.holdings, it.asset)
			h.Quantity = 0
		}
	}

	return domain.TradeRecord{
		OrderID:         result.OrderID,
		Asset:           it.asset,
		Side:            it.side,
		Quantity:        result.FilledQuantity,
		Price:           result.FillPrice,
		Commission:      result.Commission,
		ExecutedAt:      now,
		HoldingQuantity: h.Quantity,
		HoldingAvgPrice: h.AvgEntryPrice,
	}
}

func (o *Orchestrator) cashBalance(ctx context.Context) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()
	return o.broker.CashBalance(callCtx)
}

// roundToStep floors a quantity to the asset's step size.
func (o *Orchestrator) roundToStep(asset string, qty float64) float64 {
	step := decimal.NewFromFloat(o.cfg.StepSize(asset))
	if step.IsZero() {
		return qty
	}
	d := decimal.NewFromFloat(qty)
	steps := d.Div(step).Floor()
	out, _ := steps.Mul(step).Float64()
	return out
}

func (o *Orchestrator) logEvent(cycleID, stage, asset, message string) {
	if err := o.audit.LogEvent(cycleID, stage, asset, message); err != nil {
		o.log.Error().Err(err).Str("stage", stage).Msg("Failed to log audit event")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
