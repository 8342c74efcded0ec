// Package compliance enforces anti-wash-trading rules over the trade
// ledger. Every proposed order is evaluated against the ordered rule
// set; the first failing rule becomes the recorded block reason.
package compliance

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
)

// assetState is the per-asset view the rules evaluate against. It is
// rebuilt from the ledger on startup and advanced on every fill.
type assetState struct {
	lastBuy       time.Time
	lastSell      time.Time
	avgEntryPrice float64
	dailyCount    int
	dailyDay      string // UTC calendar day of dailyCount
}

// Engine evaluates proposed trades against the wash-trading rule set.
// Safe for concurrent use, though the orchestrator serializes calls.
type Engine struct {
	cfg config.ComplianceConfig
	log zerolog.Logger

	mu          sync.Mutex
	assets      map[string]*assetState
	globalCount int
	globalDay   string

	now func() time.Time
}

// NewEngine creates a compliance engine with empty state.
func NewEngine(cfg config.ComplianceConfig, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		log:    log.With().Str("component", "compliance").Logger(),
		assets: make(map[string]*assetState),
		now:    time.Now,
	}
}

// Rehydrate replays a trade ledger, oldest first, to rebuild the
// per-asset state after a restart.
func (e *Engine) Rehydrate(records []domain.TradeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range records {
		e.apply(&records[i])
	}
	e.log.Info().Int("records", len(records)).Msg("Compliance state rehydrated from ledger")
}

// RecordFill advances the state after a confirmed fill. Must be called
// for every executed trade or the daily caps drift from reality.
func (e *Engine) RecordFill(rec *domain.TradeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(rec)
}

func (e *Engine) apply(rec *domain.TradeRecord) {
	st := e.state(rec.Asset)
	day := rec.ExecutedAt.UTC().Format("2006-01-02")

	if st.dailyDay != day {
		st.dailyDay = day
		st.dailyCount = 0
	}
	st.dailyCount++

	if e.globalDay != day {
		e.globalDay = day
		e.globalCount = 0
	}
	e.globalCount++

	switch rec.Side {
	case domain.SideBuy:
		st.lastBuy = rec.ExecutedAt
		st.avgEntryPrice = rec.HoldingAvgPrice
	case domain.SideSell:
		st.lastSell = rec.ExecutedAt
		if rec.HoldingQuantity == 0 {
			st.avgEntryPrice = 0
		}
	}
}

// Evaluate runs the ordered rules against a proposed trade. The
// returned decision is approved only if every rule passes; otherwise
// it carries the first failing rule's reason.
func (e *Engine) Evaluate(asset string, side domain.Side, quantity, price float64) domain.ComplianceDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	decision := domain.ComplianceDecision{
		Asset:       asset,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		EvaluatedAt: now,
	}

	st := e.state(asset)

	for _, rule := range []func(*assetState, domain.Side, float64, float64, time.Time) (domain.ReasonCode, string){
		e.checkMinHoldTime,
		e.checkMinNetProfit,
		e.checkAssetDailyCap,
		e.checkGlobalDailyCap,
		e.checkMinTradeValue,
		e.checkSellCooldown,
	} {
		if reason, detail := rule(st, side, quantity, price, now); reason != "" {
			decision.Approved = false
			decision.Reason = reason
			decision.Rule = detail
			e.log.Info().
				Str("asset", asset).
				Str("side", string(side)).
				Str("reason", string(reason)).
				Str("rule", detail).
				Msg("Trade blocked")
			return decision
		}
	}

	decision.Approved = true
	decision.Reason = domain.ReasonApproved
	return decision
}

// Rule 1: a SELL must wait out the minimum hold time since the last BUY.
func (e *Engine) checkMinHoldTime(st *assetState, side domain.Side, _, _ float64, now time.Time) (domain.ReasonCode, string) {
	if side != domain.SideSell || st.lastBuy.IsZero() {
		return "", ""
	}
	held := now.Sub(st.lastBuy)
	if held < e.cfg.MinHold() {
		return domain.ReasonMinHoldTime, fmt.Sprintf(
			"held %s since last buy, minimum %s", held.Round(time.Second), e.cfg.MinHold())
	}
	return "", ""
}

// Rule 2: a SELL must clear the minimum net profit after round-trip
// commissions.
func (e *Engine) checkMinNetProfit(st *assetState, side domain.Side, _, price float64, _ time.Time) (domain.ReasonCode, string) {
	if side != domain.SideSell || st.avgEntryPrice <= 0 {
		return "", ""
	}
	grossReturn := (price - st.avgEntryPrice) / st.avgEntryPrice
	netReturn := grossReturn - 2*e.cfg.CommissionRate
	if netReturn < e.cfg.MinNetProfit {
		return domain.ReasonMinNetProfit, fmt.Sprintf(
			"net return %.6f after round-trip commission, minimum %.6f", netReturn, e.cfg.MinNetProfit)
	}
	return "", ""
}

// Rule 3: per-asset daily trade cap.
func (e *Engine) checkAssetDailyCap(st *assetState, _ domain.Side, _, _ float64, now time.Time) (domain.ReasonCode, string) {
	if st.dailyDay != now.UTC().Format("2006-01-02") {
		return "", ""
	}
	if st.dailyCount >= e.cfg.MaxDailyTradesPerAsset {
		return domain.ReasonAssetDailyCap, fmt.Sprintf(
			"%d trades today, cap %d", st.dailyCount, e.cfg.MaxDailyTradesPerAsset)
	}
	return "", ""
}

// Rule 4: global daily trade cap.
func (e *Engine) checkGlobalDailyCap(_ *assetState, _ domain.Side, _, _ float64, now time.Time) (domain.ReasonCode, string) {
	if e.globalDay != now.UTC().Format("2006-01-02") {
		return "", ""
	}
	if e.globalCount >= e.cfg.MaxDailyTotalTrades {
		return domain.ReasonGlobalDailyCap, fmt.Sprintf(
			"%d trades today across all assets, cap %d", e.globalCount, e.cfg.MaxDailyTotalTrades)
	}
	return "", ""
}

// Rule 5: minimum trade value.
func (e *Engine) checkMinTradeValue(_ *assetState, _ domain.Side, quantity, price float64, _ time.Time) (domain.ReasonCode, string) {
	value := quantity * price
	if value < e.cfg.MinTradeValue {
		return domain.ReasonMinTradeValue, fmt.Sprintf(
			"trade value %.2f below minimum %.2f", value, e.cfg.MinTradeValue)
	}
	return "", ""
}

// Rule 6: a BUY must wait out the cooldown after the asset's last SELL.
func (e *Engine) checkSellCooldown(st *assetState, side domain.Side, _, _ float64, now time.Time) (domain.ReasonCode, string) {
	if side != domain.SideBuy || st.lastSell.IsZero() {
		return "", ""
	}
	since := now.Sub(st.lastSell)
	if since < e.cfg.Cooldown() {
		return domain.ReasonSellCooldown, fmt.Sprintf(
			"sold %s ago, cooldown %s", since.Round(time.Second), e.cfg.Cooldown())
	}
	return "", ""
}

func (e *Engine) state(asset string) *assetState {
	st, ok := e.assets[asset]
	if !ok {
		st = &assetState{}
		e.assets[asset] = st
	}
	return st
}
