// Package marketdata provides the in-process market data feed used in
// dev mode. Live exchange transport lives behind the provider interface
// and is supplied separately.
package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qfolio/qfolio/internal/domain"
)

const barInterval = time.Hour

// PriceSink receives mark prices as the feed advances. The paper broker
// implements this so its fills track the simulated market.
type PriceSink interface {
	SetPrice(asset string, price float64)
}

type assetSeries struct {
	rng   *rand.Rand
	bars  []domain.Candle
	price float64
	next  time.Time
}

// Simulated generates deterministic hourly bars per asset. Each asset
// follows its own seeded geometric walk, so a fixed seed reproduces the
// same history regardless of request order across assets.
type Simulated struct {
	log  zerolog.Logger
	seed int64
	sink PriceSink

	mu     sync.Mutex
	assets map[string]*assetSeries
}

// NewSimulated creates the feed. A zero seed falls back to wall time.
func NewSimulated(seed int64, log zerolog.Logger) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		log:    log.With().Str("component", "sim_feed").Logger(),
		seed:   seed,
		assets: make(map[string]*assetSeries),
	}
}

// AttachSink registers a mark-price receiver. Must be called before the
// first request.
func (s *Simulated) AttachSink(sink PriceSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// LatestBars implements domain.MarketDataProvider.
func (s *Simulated) LatestBars(ctx context.Context, asset string, n int) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.ensure(asset, n)
	bars := series.bars
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]domain.Candle, len(bars))
	copy(out, bars)
	return out, nil
}

// LatestPrice implements domain.MarketDataProvider.
func (s *Simulated) LatestPrice(ctx context.Context, asset string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.ensure(asset, 1)
	if s.sink != nil {
		s.sink.SetPrice(asset, series.price)
	}
	return series.price, nil
}

// ensure extends the asset's series to at least n bars. Caller holds the
// lock.
func (s *Simulated) ensure(asset string, n int) *assetSeries {
	series, ok := s.assets[asset]
	if !ok {
		h := fnv.New64a()
		h.Write([]byte(asset))
		assetSeed := s.seed ^ int64(h.Sum64())
		rng := rand.New(rand.NewSource(assetSeed))
		series = &assetSeries{
			rng:   rng,
			price: 20 + 400*rng.Float64(),
			// backdate the walk so a full lookback is available at startup
			next: time.Now().UTC().Truncate(barInterval).Add(-1000 * barInterval),
		}
		s.assets[asset] = series
	}

	for len(series.bars) < n {
		open := series.price
		drift := 0.0002 * (series.rng.Float64() - 0.45)
		shock := 0.004 * series.rng.NormFloat64()
		closePrice := open * (1 + drift + shock)
		high := math.Max(open, closePrice) * (1 + 0.001*series.rng.Float64())
		low := math.Min(open, closePrice) * (1 - 0.001*series.rng.Float64())

		series.bars = append(series.bars, domain.Candle{
			Timestamp: series.next,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1_000 * (1 + series.rng.Float64()),
		})
		series.price = closePrice
		series.next = series.next.Add(barInterval)
	}
	return series
}
