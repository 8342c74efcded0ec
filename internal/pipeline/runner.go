package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/internal/rebalance"
)

// Executor runs the order side of a cycle against target weights.
// Satisfied by the rebalance orchestrator.
type Executor interface {
	Execute(ctx context.Context, cycleID string, targets domain.TargetWeights) (*rebalance.Report, error)
}

// Runner is the scheduled cycle job: fetch bars, select a portfolio,
// rebalance toward it. The last outcome is kept for the HTTP surface.
type Runner struct {
	universe   config.UniverseConfig
	market     domain.MarketDataProvider
	service    *Service
	rebalancer Executor
	log        zerolog.Logger

	mu         sync.RWMutex
	lastResult *Result
	lastReport *rebalance.Report
}

// NewRunner creates the cycle job.
func NewRunner(
	universe config.UniverseConfig,
	market domain.MarketDataProvider,
	service *Service,
	rebalancer Executor,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		universe:   universe,
		market:     market,
		service:    service,
		rebalancer: rebalancer,
		log:        log.With().Str("job", "rebalance_cycle").Logger(),
	}
}

// Name implements the scheduler job interface.
func (r *Runner) Name() string { return "rebalance_cycle" }

// Run executes one full cycle.
func (r *Runner) Run() error {
	ctx := context.Background()
	cycleID := uuid.NewString()

	snap, err := r.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("cycle %s aborted: %w", cycleID, err)
	}

	result, err := r.service.SelectPortfolio(ctx, cycleID, snap)
	if err != nil {
		return fmt.Errorf("cycle %s selection failed: %w", cycleID, err)
	}

	report, err := r.rebalancer.Execute(ctx, cycleID, result.Weights)
	if report != nil || err == nil {
		r.mu.Lock()
		r.lastResult = result
		r.lastReport = report
		r.mu.Unlock()
	}
	if err != nil {
		return fmt.Errorf("cycle %s rebalance failed: %w", cycleID, err)
	}
	return nil
}

// Last returns the most recent cycle outcome, or nils before the first
// completed cycle.
func (r *Runner) Last() (*Result, *rebalance.Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastResult, r.lastReport
}

// fetchSnapshot pulls the lookback window for every universe asset.
// Assets whose feed fails are skipped for the cycle; only an entirely
// empty universe aborts it.
func (r *Runner) fetchSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	bars := make(map[string][]domain.Candle, len(r.universe.Assets))
	for _, asset := range r.universe.Assets {
		series, err := r.market.LatestBars(ctx, asset, r.universe.LookbackBars)
		if err != nil || len(series) == 0 {
			r.log.Warn().Err(err).Str("asset", asset).Msg("No bars for asset, skipping this cycle")
			continue
		}
		bars[asset] = series
	}
	if len(bars) == 0 {
		return nil, &domain.EmptyUniverseError{Universe: 0, Target: len(r.universe.Assets)}
	}
	return domain.NewSnapshot(r.universe.Assets, bars), nil
}
