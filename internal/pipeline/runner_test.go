package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/qfolio/qfolio/internal/rebalance"
)

// barsMarket serves synthetic bars; failing assets error out.
type barsMarket struct {
	failing map[string]bool
}

func (m *barsMarket) LatestBars(ctx context.Context, asset string, n int) ([]domain.Candle, error) {
	if m.failing[asset] {
		return nil, errors.New("feed down")
	}
	price := 100.0
	drift := 0.0005 * float64(asset[0]%4)
	bars := make([]domain.Candle, n)
	for t := 0; t < n; t++ {
		price *= 1 + drift + 0.01*math.Sin(float64(t)*0.8+float64(asset[0]))
		bars[t] = domain.Candle{Timestamp: time.Unix(int64(t)*3600, 0), Close: price}
	}
	return bars, nil
}

func (m *barsMarket) LatestPrice(ctx context.Context, asset string) (float64, error) {
	return 100, nil
}

// recordingExecutor captures the weights handed to the order side.
type recordingExecutor struct {
	targets domain.TargetWeights
	err     error
}

func (e *recordingExecutor) Execute(ctx context.Context, cycleID string, targets domain.TargetWeights) (*rebalance.Report, error) {
	e.targets = targets
	if e.err != nil {
		return nil, e.err
	}
	return &rebalance.Report{CycleID: cycleID}, nil
}

func testUniverse() config.UniverseConfig {
	return config.UniverseConfig{
		Assets:       []string{"ADA", "BTC", "DOT", "ETH", "LINK", "SOL"},
		LookbackBars: 60,
	}
}

func TestRunner_FullCycle(t *testing.T) {
	market := &barsMarket{}
	exec := &recordingExecutor{}
	svc := NewService(testStrategy(), nil, nopAudit{}, zerolog.Nop())
	r := NewRunner(testUniverse(), market, svc, exec, zerolog.Nop())

	require.NoError(t, r.Run())

	result, report := r.Last()
	require.NotNil(t, result)
	require.NotNil(t, report)
	assert.Equal(t, result.CycleID, report.CycleID)
	assert.Equal(t, exec.targets, result.Weights)
	assert.InDelta(t, 1.0, result.Weights.Sum(), 1e-6)
}

func TestRunner_FailingAssetIsSkipped(t *testing.T) {
	market := &barsMarket{failing: map[string]bool{"DOT": true}}
	exec := &recordingExecutor{}
	svc := NewService(testStrategy(), nil, nopAudit{}, zerolog.Nop())
	r := NewRunner(testUniverse(), market, svc, exec, zerolog.Nop())

	require.NoError(t, r.Run())

	result, _ := r.Last()
	require.NotNil(t, result)
	assert.NotContains(t, result.Alpha, "DOT")
}

func TestRunner_EmptyUniverseAborts(t *testing.T) {
	market := &barsMarket{failing: map[string]bool{
		"ADA": true, "BTC": true, "DOT": true, "ETH": true, "LINK": true, "SOL": true,
	}}
	svc := NewService(testStrategy(), nil, nopAudit{}, zerolog.Nop())
	r := NewRunner(testUniverse(), market, svc, &recordingExecutor{}, zerolog.Nop())

	err := r.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyUniverse))

	result, report := r.Last()
	assert.Nil(t, result)
	assert.Nil(t, report)
}

func TestRunner_RebalanceErrorSurfaces(t *testing.T) {
	market := &barsMarket{}
	exec := &recordingExecutor{err: &domain.CircuitBreakerTrippedError{Drawdown: 0.2, Limit: 0.15}}
	svc := NewService(testStrategy(), nil, nopAudit{}, zerolog.Nop())
	r := NewRunner(testUniverse(), market, svc, exec, zerolog.Nop())

	err := r.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCircuitBreakerTripped))
}
