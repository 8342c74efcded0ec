// Package regime maps observed market volatility to the selection
// parameters (portfolio size n, risk-penalty weight lambda).
package regime

import (
	"math"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/pkg/formulas"
	"github.com/rs/zerolog"
)

const (
	RegimeLowVolatility  = "LOW_VOLATILITY"
	RegimeNormal         = "NORMAL"
	RegimeHighVolatility = "HIGH_VOLATILITY"
)

// Detector derives (n, lambda) from the volatility of a market-wide
// reference return set. Both outputs are monotone in volatility and
// clamped to the configured bounds: turbulent markets get a larger,
// more diversified portfolio and a heavier correlation penalty.
type Detector struct {
	cfg config.RegimeConfig
	log zerolog.Logger
}

// NewDetector creates a new regime detector.
func NewDetector(cfg config.RegimeConfig, log zerolog.Logger) *Detector {
	return &Detector{
		cfg: cfg,
		log: log.With().Str("component", "regime_detector").Logger(),
	}
}

// Detect computes the regime parameters from per-asset return series.
// The volatility estimate is the mean of the per-asset standard
// deviations over the configured window. Fails with
// InsufficientHistory when fewer observations than the window are
// available; the caller falls back to the previous cycle's parameters.
func (d *Detector) Detect(returns map[string][]float64) (domain.RegimeParams, error) {
	if len(returns) == 0 {
		return domain.RegimeParams{}, &domain.InsufficientHistoryError{Observations: 0, Required: d.cfg.Window}
	}

	observations := math.MaxInt
	for _, series := range returns {
		if len(series) < observations {
			observations = len(series)
		}
	}
	if observations < d.cfg.Window {
		return domain.RegimeParams{}, &domain.InsufficientHistoryError{
			Observations: observations,
			Required:     d.cfg.Window,
		}
	}

	// Mean of per-asset window volatilities.
	total := 0.0
	for _, series := range returns {
		window := series[len(series)-d.cfg.Window:]
		total += formulas.StdDev(window)
	}
	vol := total / float64(len(returns))

	params := d.mapVolatility(vol)

	d.log.Info().
		Str("regime", params.Regime).
		Float64("window_vol", vol).
		Float64("annualized_vol", params.Volatility).
		Int("n", params.N).
		Float64("lambda", params.Lambda).
		Msg("Market regime detected")

	return params, nil
}

// mapVolatility interpolates (n, lambda) between the configured bounds.
// Volatility at or below vol_low yields (n_min, lambda_min); at or above
// vol_high yields (n_max, lambda_max).
func (d *Detector) mapVolatility(vol float64) domain.RegimeParams {
	frac := (vol - d.cfg.VolLow) / (d.cfg.VolHigh - d.cfg.VolLow)
	frac = clamp01(frac)

	n := d.cfg.NMin + int(math.Round(frac*float64(d.cfg.NMax-d.cfg.NMin)))
	lambda := d.cfg.LambdaMin + frac*(d.cfg.LambdaMax-d.cfg.LambdaMin)

	regime := RegimeNormal
	switch {
	case vol <= d.cfg.VolLow:
		regime = RegimeLowVolatility
	case vol >= d.cfg.VolHigh:
		regime = RegimeHighVolatility
	}

	return domain.RegimeParams{
		Regime:     regime,
		Volatility: vol * math.Sqrt(d.cfg.PeriodsPerYear),
		N:          n,
		Lambda:     lambda,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
