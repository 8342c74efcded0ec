// Package risk estimates the cross-asset correlation structure consumed
// by the selection Hamiltonian.
package risk

import (
	"math"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Estimator builds a Pearson correlation matrix over a short-term
// return window. The matrix is symmetric with unit diagonal; positive
// semi-definiteness is an estimation artifact and not enforced.
type Estimator struct {
	cfg config.CorrelationConfig
	log zerolog.Logger
}

// NewEstimator creates a new correlation estimator.
func NewEstimator(cfg config.CorrelationConfig, log zerolog.Logger) *Estimator {
	return &Estimator{
		cfg: cfg,
		log: log.With().Str("component", "correlation").Logger(),
	}
}

// Estimate computes the correlation matrix for the snapshot's assets
// from their most recent returns. When fewer observations than the
// configured window exist, the full available history is used, matching
// short-lived universes; below two observations the estimate fails with
// InsufficientHistory.
func (e *Estimator) Estimate(snap *domain.Snapshot) (*domain.CorrelationMatrix, error) {
	assets := snap.Assets()
	n := len(assets)
	if n == 0 {
		return nil, &domain.InsufficientHistoryError{Observations: 0, Required: 2}
	}

	// Align all series to the shortest one, then trim to the window.
	minLen := math.MaxInt
	returns := make([][]float64, n)
	for i, asset := range assets {
		returns[i] = snap.Returns(asset)
		if len(returns[i]) < minLen {
			minLen = len(returns[i])
		}
	}
	if minLen < 2 {
		return nil, &domain.InsufficientHistoryError{Observations: minLen, Required: 2}
	}

	window := e.cfg.Window
	if window <= 0 || window > minLen {
		window = minLen
	}

	// Samples-by-assets matrix of the trailing window.
	x := mat.NewDense(window, n, nil)
	for j := range returns {
		series := returns[j][len(returns[j])-window:]
		for t, r := range series {
			x.Set(t, j, r)
		}
	}

	corr := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(corr, x, nil)

	rho := make([][]float64, n)
	for i := 0; i < n; i++ {
		rho[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := corr.At(i, j)
			// A zero-variance series produces NaN; treat it as
			// uncorrelated rather than poisoning the Hamiltonian.
			if math.IsNaN(v) {
				if i == j {
					v = 1
				} else {
					v = 0
				}
			}
			rho[i][j] = v
		}
	}

	e.log.Debug().
		Int("assets", n).
		Int("window", window).
		Msg("Correlation matrix estimated")

	return &domain.CorrelationMatrix{Assets: assets, Rho: rho}, nil
}
