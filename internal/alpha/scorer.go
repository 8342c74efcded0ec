// Package alpha computes per-asset composite alpha scores from price
// momentum, mean reversion and externally supplied sentiment.
package alpha

import (
	"context"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/pkg/formulas"
	"github.com/rs/zerolog"
)

// Scorer combines three sub-signals into a composite alpha per asset and
// normalizes the result across the universe. Output is deterministic
// given identical inputs.
type Scorer struct {
	cfg config.AlphaConfig
	log zerolog.Logger
}

// NewScorer creates a new alpha scorer.
func NewScorer(cfg config.AlphaConfig, log zerolog.Logger) *Scorer {
	return &Scorer{
		cfg: cfg,
		log: log.With().Str("component", "alpha_scorer").Logger(),
	}
}

// Score computes the normalized alpha vector for every asset in the
// snapshot. Assets with missing sentiment receive a neutral zero
// contribution; assets with short price history lose only the
// sub-signals that cannot be computed.
func (s *Scorer) Score(ctx context.Context, snap *domain.Snapshot, sentiment domain.SentimentProvider) domain.AlphaVector {
	raw := make(map[string]float64)

	for _, asset := range snap.Assets() {
		closes := snap.Closes(asset)

		composite := s.cfg.MomentumWeight*s.momentum(closes) +
			s.cfg.SentimentWeight*s.sentimentScore(ctx, sentiment, asset) +
			s.cfg.ReversionWeight*s.meanReversion(closes)

		raw[asset] = composite
	}

	normalized := normalize(raw)

	s.log.Debug().
		Int("assets", len(normalized)).
		Msg("Alpha vector computed")

	return normalized
}

// momentum is the short-window return minus the long-window return.
// A positive value means recent acceleration relative to the longer trend.
func (s *Scorer) momentum(closes []float64) float64 {
	short := formulas.PctChange(closes, s.cfg.ShortWindow)
	long := formulas.PctChange(closes, s.cfg.LongWindow)
	if short == nil {
		return 0
	}
	if long == nil {
		return *short
	}
	return *short - *long
}

// meanReversion is the scaled deviation of the current price below its
// moving average: (SMA - price) / price. Positive when the asset trades
// under its average.
func (s *Scorer) meanReversion(closes []float64) float64 {
	ma := formulas.CalculateSMA(closes, s.cfg.MAWindow)
	if ma == nil || len(closes) == 0 {
		return 0
	}
	price := closes[len(closes)-1]
	if price <= 0 {
		return 0
	}
	return (*ma - price) / price
}

func (s *Scorer) sentimentScore(ctx context.Context, provider domain.SentimentProvider, asset string) float64 {
	if provider == nil {
		return 0
	}
	score, ok := provider.Score(ctx, asset)
	if !ok {
		return 0
	}
	return score
}

// normalize min-max scales the raw scores to [-1, 1] across the
// universe. A flat universe (all scores equal) maps to all zeros.
func normalize(raw map[string]float64) domain.AlphaVector {
	out := make(domain.AlphaVector, len(raw))
	if len(raw) == 0 {
		return out
	}

	first := true
	var min, max float64
	for _, v := range raw {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if max == min {
		for asset := range raw {
			out[asset] = 0
		}
		return out
	}

	for asset, v := range raw {
		out[asset] = 2*(v-min)/(max-min) - 1
	}
	return out
}
