package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/internal/pipeline"
	"github.com/qfolio/qfolio/internal/rebalance"
)

// cycleRunner is the subset of the pipeline runner the API needs.
type cycleRunner interface {
	Run() error
	Name() string
	Last() (*pipeline.Result, *rebalance.Report)
}

// rebalanceControl is the subset of the orchestrator the API needs.
type rebalanceControl interface {
	Holdings() []domain.Holding
	ClearBreaker()
}

// cycleStore reads persisted cycle snapshots from the audit ledger.
type cycleStore interface {
	LatestCycle() (*domain.CycleSnapshot, error)
}

// Handlers serves the monitoring and operations endpoints.
type Handlers struct {
	log         zerolog.Logger
	startupTime time.Time
	runner      cycleRunner
	rebalancer  rebalanceControl
	store       cycleStore
}

// NewHandlers creates the API handler set.
func NewHandlers(log zerolog.Logger, runner cycleRunner, rebalancer rebalanceControl, store cycleStore) *Handlers {
	return &Handlers{
		log:         log.With().Str("component", "handlers").Logger(),
		startupTime: time.Now(),
		runner:      runner,
		rebalancer:  rebalancer,
		store:       store,
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HandleHealth returns basic liveness info.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
	})
}

// PortfolioResponse summarizes the most recent completed cycle.
type PortfolioResponse struct {
	CycleID        string             `json:"cycle_id"`
	StartedAt      time.Time          `json:"started_at"`
	Regime         string             `json:"regime"`
	Volatility     float64            `json:"volatility"`
	TargetSize     int                `json:"target_size"`
	Selected       []string           `json:"selected"`
	Weights        map[string]float64 `json:"weights"`
	TotalValue     float64            `json:"total_value"`
	CashAfter      float64            `json:"cash_after"`
	SellsExecuted  int                `json:"sells_executed"`
	BuysExecuted   int                `json:"buys_executed"`
	Blocked        int                `json:"blocked"`
	ExcludedAssets []string           `json:"excluded_assets,omitempty"`
}

// HandlePortfolio returns the last selection and rebalance outcome.
// GET /api/portfolio
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	result, report := h.runner.Last()
	if result == nil {
		http.Error(w, "No cycle has completed yet", http.StatusNotFound)
		return
	}

	resp := PortfolioResponse{
		CycleID:    result.CycleID,
		StartedAt:  result.StartedAt,
		Regime:     result.Regime.Regime,
		Volatility: result.Regime.Volatility,
		TargetSize: result.Regime.N,
		Weights:    result.Weights,
	}
	if result.Selection != nil {
		resp.Selected = result.Selection.Chosen()
	}
	if report != nil {
		resp.TotalValue = report.TotalValue
		resp.CashAfter = report.CashAfter
		resp.SellsExecuted = report.SellsExecuted
		resp.BuysExecuted = report.BuysExecuted
		resp.Blocked = report.Blocked
		resp.ExcludedAssets = report.ExcludedAssets
	}
	h.writeJSON(w, resp)
}

// HoldingView is a single position in the holdings response.
type HoldingView struct {
	Asset         string    `json:"asset"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	EntryTime     time.Time `json:"entry_time"`
	RealizedPnL   float64   `json:"realized_pnl"`
}

// HandleHoldings returns the current portfolio state.
// GET /api/portfolio/holdings
func (h *Handlers) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	holdings := h.rebalancer.Holdings()
	views := make([]HoldingView, 0, len(holdings))
	for _, hold := range holdings {
		views = append(views, HoldingView{
			Asset:         hold.Asset,
			Quantity:      hold.Quantity,
			AvgEntryPrice: hold.AvgEntryPrice,
			EntryTime:     hold.EntryTime,
			RealizedPnL:   hold.RealizedPnL,
		})
	}
	h.writeJSON(w, map[string]interface{}{
		"count":    len(views),
		"holdings": views,
	})
}

// HandleLatestCycle returns the most recent persisted cycle snapshot.
// GET /api/cycles/latest
func (h *Handlers) HandleLatestCycle(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.LatestCycle()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest cycle")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "No cycle recorded yet", http.StatusNotFound)
		return
	}
	h.writeJSON(w, snap)
}

// HandleTriggerCycle runs a rebalance cycle immediately.
// POST /api/jobs/rebalance-cycle
func (h *Handlers) HandleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Str("job", h.runner.Name()).Msg("Manual cycle triggered")

	go func() {
		if err := h.runner.Run(); err != nil {
			h.log.Error().Err(err).Str("job", h.runner.Name()).Msg("Manual cycle failed")
		}
	}()

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": "Rebalance cycle triggered",
	})
}

// HandleClearBreaker re-arms the order circuit breaker and drawdown stop.
// POST /api/breaker/clear
func (h *Handlers) HandleClearBreaker(w http.ResponseWriter, r *http.Request) {
	h.rebalancer.ClearBreaker()
	h.log.Info().Msg("Circuit breaker cleared")

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": "Circuit breaker cleared",
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
