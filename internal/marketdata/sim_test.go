package marketdata

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	marks map[string]float64
}

func (r *recordingSink) SetPrice(asset string, price float64) {
	if r.marks == nil {
		r.marks = make(map[string]float64)
	}
	r.marks[asset] = price
}

func TestLatestBars_OrderedAndSized(t *testing.T) {
	feed := NewSimulated(42, zerolog.Nop())

	bars, err := feed.LatestBars(context.Background(), "BTC", 100)
	require.NoError(t, err)
	require.Len(t, bars, 100)

	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp), "bars must be ordered oldest to newest")
		assert.Equal(t, bars[i-1].Close, bars[i].Open, "each bar opens at the prior close")
	}
	for _, b := range bars {
		assert.Greater(t, b.Close, 0.0)
		assert.GreaterOrEqual(t, b.High, b.Low)
	}

	// the walk must advance: a series pinned to its starting price would
	// make every downstream return zero
	assert.NotEqual(t, bars[0].Open, bars[len(bars)-1].Close)
}

func TestLatestBars_FixedSeedIsDeterministic(t *testing.T) {
	a := NewSimulated(7, zerolog.Nop())
	b := NewSimulated(7, zerolog.Nop())

	// request order must not affect per-asset series
	_, err := a.LatestBars(context.Background(), "ETH", 10)
	require.NoError(t, err)
	barsA, err := a.LatestBars(context.Background(), "BTC", 50)
	require.NoError(t, err)

	barsB, err := b.LatestBars(context.Background(), "BTC", 50)
	require.NoError(t, err)

	require.Len(t, barsB, 50)
	for i := range barsA {
		assert.Equal(t, barsA[i].Close, barsB[i].Close)
	}
}

func TestLatestBars_GrowsSeriesOnLargerRequest(t *testing.T) {
	feed := NewSimulated(3, zerolog.Nop())

	short, err := feed.LatestBars(context.Background(), "SOL", 10)
	require.NoError(t, err)
	long, err := feed.LatestBars(context.Background(), "SOL", 30)
	require.NoError(t, err)

	require.Len(t, long, 30)
	// the original ten bars are the oldest prefix of the longer series
	for i := range short {
		assert.Equal(t, short[i].Close, long[i].Close)
	}
}

func TestLatestPrice_MatchesLastCloseAndMarksSink(t *testing.T) {
	feed := NewSimulated(11, zerolog.Nop())
	sink := &recordingSink{}
	feed.AttachSink(sink)

	bars, err := feed.LatestBars(context.Background(), "ADA", 20)
	require.NoError(t, err)

	price, err := feed.LatestPrice(context.Background(), "ADA")
	require.NoError(t, err)
	assert.Equal(t, bars[len(bars)-1].Close, price)
	assert.Equal(t, price, sink.marks["ADA"])
}

func TestLatestPrice_CancelledContext(t *testing.T) {
	feed := NewSimulated(1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := feed.LatestPrice(ctx, "BTC")
	assert.ErrorIs(t, err, context.Canceled)
}
