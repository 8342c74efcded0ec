// Package pipeline composes the selection stages into a single cycle:
// regime detection, alpha scoring, correlation estimation, Hamiltonian
// construction, annealing, repair and weight allocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/allocation"
	"github.com/qfolio/qfolio/internal/alpha"
	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/internal/qubo"
	"github.com/qfolio/qfolio/internal/regime"
	"github.com/qfolio/qfolio/internal/risk"
)

// Result is the output of one selection cycle.
type Result struct {
	CycleID   string
	StartedAt time.Time
	Regime    domain.RegimeParams
	Alpha     domain.AlphaVector
	Selection *domain.Selection
	Weights   domain.TargetWeights
}

// Service runs the full portfolio selection pipeline.
type Service struct {
	detector  *regime.Detector
	scorer    *alpha.Scorer
	estimator *risk.Estimator
	builder   *qubo.Builder
	annealer  *qubo.Annealer
	allocator *allocation.Allocator
	sentiment domain.SentimentProvider
	audit     domain.AuditSink
	log       zerolog.Logger

	mu         sync.Mutex
	lastRegime *domain.RegimeParams
}

// NewService wires the selection stages from one strategy config.
// sentiment may be nil; assets then score a neutral sentiment term.
func NewService(
	strat config.Strategy,
	sentiment domain.SentimentProvider,
	audit domain.AuditSink,
	log zerolog.Logger,
) *Service {
	return &Service{
		detector:  regime.NewDetector(strat.Regime, log),
		scorer:    alpha.NewScorer(strat.Alpha, log),
		estimator: risk.NewEstimator(strat.Correlation, log),
		builder:   qubo.NewBuilder(strat.QUBO, log),
		annealer:  qubo.NewAnnealer(strat.Annealer, log),
		allocator: allocation.NewAllocator(strat.Allocation, log),
		sentiment: sentiment,
		audit:     audit,
		log:       log.With().Str("service", "pipeline").Logger(),
	}
}

// SelectPortfolio runs one cycle over the snapshot. Stage failures
// degrade to the documented fallbacks instead of aborting: a too-short
// history reuses the previous cycle's regime parameters, a failed
// optimization falls back to the top-n assets by alpha, and a
// degenerate allocation falls back to equal weights.
func (s *Service) SelectPortfolio(ctx context.Context, cycleID string, snap *domain.Snapshot) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now().UTC()

	params, err := s.detectRegime(cycleID, snap)
	if err != nil {
		return nil, err
	}

	alphaVec := s.scorer.Score(ctx, snap, s.sentiment)
	if len(alphaVec) == 0 {
		return nil, &domain.EmptyUniverseError{Universe: 0, Target: params.N}
	}

	sel := s.selectAssets(ctx, cycleID, snap, alphaVec, params)

	weights, err := s.allocator.Allocate(snap, sel)
	if err != nil {
		if !errors.Is(err, domain.ErrDegenerateSelection) {
			s.log.Warn().Err(err).Msg("Allocation failed, falling back to equal weights")
		} else {
			s.log.Warn().Err(err).Msg("Degenerate selection, falling back to equal weights")
		}
		s.logEvent(cycleID, "allocation", "", fmt.Sprintf("equal-weight fallback: %v", err))
		weights = allocation.EqualWeights(sel.Chosen())
	}

	result := &Result{
		CycleID:   cycleID,
		StartedAt: started,
		Regime:    params,
		Alpha:     alphaVec,
		Selection: sel,
		Weights:   weights,
	}

	if err := s.audit.LogCycle(domain.CycleSnapshot{
		CycleID:    cycleID,
		StartedAt:  started,
		Regime:     params,
		Alpha:      alphaVec,
		Energy:     sel.Energy,
		Selected:   sel.Chosen(),
		Weights:    weights,
		LambdaRisk: params.Lambda,
	}); err != nil {
		s.log.Error().Err(err).Msg("Failed to log cycle")
	}

	s.log.Info().
		Str("cycle_id", cycleID).
		Str("regime", params.Regime).
		Int("selected", sel.Count()).
		Float64("energy", sel.Energy).
		Msg("Portfolio selected")
	return result, nil
}

// detectRegime falls back to the previous cycle's parameters when the
// history window is too short.
func (s *Service) detectRegime(cycleID string, snap *domain.Snapshot) (domain.RegimeParams, error) {
	returns := make(map[string][]float64)
	for _, asset := range snap.Assets() {
		returns[asset] = snap.Returns(asset)
	}

	params, err := s.detector.Detect(returns)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) && s.lastRegime != nil {
			s.log.Warn().Err(err).Msg("Insufficient history, reusing previous regime parameters")
			s.logEvent(cycleID, "regime_detection", "", fmt.Sprintf("reusing previous regime: %v", err))
			return *s.lastRegime, nil
		}
		return domain.RegimeParams{}, err
	}

	saved := params
	s.lastRegime = &saved
	return params, nil
}

// selectAssets runs the QUBO path and repairs the count. Any failure in
// correlation estimation, Hamiltonian construction or annealing falls
// back to the top-n assets by alpha.
func (s *Service) selectAssets(ctx context.Context, cycleID string, snap *domain.Snapshot, alphaVec domain.AlphaVector, params domain.RegimeParams) *domain.Selection {
	corr, err := s.estimator.Estimate(snap)
	if err != nil {
		s.log.Warn().Err(err).Msg("Correlation estimation failed, selecting top assets by alpha")
		s.logEvent(cycleID, "correlation", "", fmt.Sprintf("top-n fallback: %v", err))
		return topByAlpha(alphaVec, params.N)
	}

	problem, err := s.builder.Build(alphaVec, corr, params, s.builder.Penalty(alphaVec))
	if err != nil {
		s.log.Warn().Err(err).Msg("Hamiltonian construction failed, selecting top assets by alpha")
		s.logEvent(cycleID, "hamiltonian", "", fmt.Sprintf("top-n fallback: %v", err))
		return topByAlpha(alphaVec, params.N)
	}

	sel, err := s.annealer.Solve(ctx, problem)
	if err != nil {
		s.log.Warn().Err(err).Msg("Annealing failed, selecting top assets by alpha")
		s.logEvent(cycleID, "annealing", "", fmt.Sprintf("top-n fallback: %v", err))
		return topByAlpha(alphaVec, params.N)
	}

	return qubo.Repair(problem, sel)
}

// topByAlpha selects the n highest-alpha assets, or the whole universe
// when it is smaller than n. Deterministic: ties break by asset name.
func topByAlpha(alphaVec domain.AlphaVector, n int) *domain.Selection {
	assets := make([]string, 0, len(alphaVec))
	for asset := range alphaVec {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		if alphaVec[assets[i]] != alphaVec[assets[j]] {
			return alphaVec[assets[i]] > alphaVec[assets[j]]
		}
		return assets[i] < assets[j]
	})

	if n > len(assets) {
		n = len(assets)
	}
	chosen := make(map[string]bool, n)
	for _, asset := range assets[:n] {
		chosen[asset] = true
	}

	sort.Strings(assets)
	bits := make([]int, len(assets))
	for i, asset := range assets {
		if chosen[asset] {
			bits[i] = 1
		}
	}
	return &domain.Selection{Assets: assets, Bits: bits}
}

func (s *Service) logEvent(cycleID, stage, asset, message string) {
	if err := s.audit.LogEvent(cycleID, stage, asset, message); err != nil {
		s.log.Error().Err(err).Str("stage", stage).Msg("Failed to log audit event")
	}
}
