// Package allocation turns a selected asset set into target portfolio
// weights by minimizing tail risk over the historical return window.
package allocation

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/pkg/formulas"
)

const (
	// Sum-to-one constraint strength in the penalty objective.
	penaltyWeight = 1000.0

	// Portfolio return series shorter than this gets equal weights
	// instead of an optimization run.
	minObservations = 10

	hoursPerYear = 8760
)

// Allocator computes CVaR-aware target weights for a selection.
type Allocator struct {
	cfg config.AllocationConfig
	log zerolog.Logger
}

// NewAllocator creates a weight allocator.
func NewAllocator(cfg config.AllocationConfig, log zerolog.Logger) *Allocator {
	return &Allocator{
		cfg: cfg,
		log: log.With().Str("component", "allocator").Logger(),
	}
}

// Allocate solves for target weights over the chosen assets.
//
// Objective: minimize -(mu'w - riskAversion * CVaR(portfolio returns))
// plus a quadratic penalty on the sum-to-one constraint and a secondary
// penalty term that disfavors weight vectors with poor Sortino, Sharpe
// and Calmar ratios. Candidate weights are projected to the configured
// [min, max] band during evaluation and the final vector is normalized
// to sum to 1. Assets outside the selection carry no entry.
func (a *Allocator) Allocate(snap *domain.Snapshot, sel *domain.Selection) (domain.TargetWeights, error) {
	chosen := sel.Chosen()
	if len(chosen) == 0 {
		return nil, &domain.DegenerateSelectionError{Selected: 0, Cause: "no assets selected"}
	}
	if len(chosen) == 1 {
		return domain.TargetWeights{chosen[0]: 1.0}, nil
	}

	returns, obs := a.alignReturns(snap, chosen)
	if obs < minObservations {
		a.log.Warn().
			Int("observations", obs).
			Int("required", minObservations).
			Msg("Return window too short for CVaR optimization, using equal weights")
		return EqualWeights(chosen), nil
	}

	if a.allFlat(returns) {
		return nil, &domain.DegenerateSelectionError{
			Selected: len(chosen),
			Cause:    "zero-variance returns, CVaR undefined",
		}
	}

	mu := make([]float64, len(chosen))
	for i := range chosen {
		mu[i] = formulas.Mean(returns[i])
	}

	weights, err := a.minimize(chosen, mu, returns, obs)
	if err != nil {
		return nil, err
	}

	a.log.Debug().
		Int("assets", len(chosen)).
		Int("observations", obs).
		Float64("sum", weights.Sum()).
		Msg("Target weights computed")

	return weights, nil
}

// EqualWeights assigns 1/n to every asset. Used directly for degenerate
// inputs and by callers as the fallback when optimization fails.
func EqualWeights(assets []string) domain.TargetWeights {
	w := make(domain.TargetWeights, len(assets))
	for _, a := range assets {
		w[a] = 1.0 / float64(len(assets))
	}
	return w
}

// alignReturns collects per-asset return series trimmed to the shortest
// tail so every row covers the same observation window.
func (a *Allocator) alignReturns(snap *domain.Snapshot, assets []string) ([][]float64, int) {
	series := make([][]float64, len(assets))
	shortest := math.MaxInt
	for i, asset := range assets {
		series[i] = snap.Returns(asset)
		if len(series[i]) < shortest {
			shortest = len(series[i])
		}
	}
	if shortest == math.MaxInt || shortest == 0 {
		return series, 0
	}
	for i := range series {
		series[i] = series[i][len(series[i])-shortest:]
	}
	return series, shortest
}

func (a *Allocator) allFlat(returns [][]float64) bool {
	for _, r := range returns {
		if formulas.StdDev(r) > 0 {
			return false
		}
	}
	return true
}

func (a *Allocator) minimize(assets []string, mu []float64, returns [][]float64, obs int) (domain.TargetWeights, error) {
	n := len(assets)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := a.projectToBounds(x)

			var expectedReturn float64
			for i := 0; i < n; i++ {
				expectedReturn += mu[i] * xProj[i]
			}

			portfolio := portfolioReturns(xProj, returns, obs)
			cvar := formulas.CVaR(portfolio, a.cfg.Confidence)

			obj := -(expectedReturn - a.cfg.RiskAversion*cvar)

			sum := 0.0
			for i := 0; i < n; i++ {
				sum += xProj[i]
			}
			obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

			obj += a.cfg.PerfPenalty * ratioPenalty(portfolio)

			return obj
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("CVaR optimization failed: %w", err)
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}
	if !successStatuses[result.Status] {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("CVaR optimization failed: %w", err)
		}
		if !successStatuses[result.Status] {
			return nil, fmt.Errorf("CVaR optimization did not converge: status=%v", result.Status)
		}
	}

	// Project the solution to bounds, clip negatives and normalize.
	xFinal := a.projectToBounds(result.X)
	sum := 0.0
	for i := range xFinal {
		sum += math.Max(0, xFinal[i])
	}
	if sum <= 0 {
		return nil, fmt.Errorf("CVaR optimization produced a zero weight vector")
	}

	weights := make(domain.TargetWeights, n)
	for i, asset := range assets {
		weights[asset] = math.Max(0, xFinal[i]) / sum
	}
	return weights, nil
}

func (a *Allocator) projectToBounds(x []float64) []float64 {
	proj := make([]float64, len(x))
	for i := range x {
		proj[i] = math.Max(a.cfg.MinWeight, math.Min(a.cfg.MaxWeight, x[i]))
	}
	return proj
}

// portfolioReturns builds the weighted return series over the aligned
// observation window.
func portfolioReturns(w []float64, returns [][]float64, obs int) []float64 {
	out := make([]float64, obs)
	for t := 0; t < obs; t++ {
		var r float64
		for i := range w {
			r += w[i] * returns[i][t]
		}
		out[t] = r
	}
	return out
}

// ratioPenalty scores a candidate portfolio by its risk-adjusted return
// ratios. Poor (negative) ratios raise the objective; healthy ratios
// lower it. Ratios that cannot be computed contribute nothing.
func ratioPenalty(portfolio []float64) float64 {
	var score float64
	var count int
	if s := formulas.CalculateSortinoRatio(portfolio, 0, hoursPerYear); s != nil {
		score += *s
		count++
	}
	if s := formulas.CalculateSharpeRatio(portfolio, 0, hoursPerYear); s != nil {
		score += *s
		count++
	}
	if c := formulas.CalculateCalmarRatio(portfolio, hoursPerYear); c != nil {
		score += *c
		count++
	}
	if count == 0 {
		return 0
	}
	return -score / float64(count)
}
