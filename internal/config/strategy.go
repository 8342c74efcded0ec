package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy is the full strategy parameter set. Every threshold the rule
// engine, annealer and orchestrator consume comes from here, never from
// constants baked into logic.
type Strategy struct {
	Universe    UniverseConfig    `yaml:"universe"`
	Compliance  ComplianceConfig  `yaml:"compliance"`
	Rebalance   RebalanceConfig   `yaml:"rebalance"`
	Annealer    AnnealerConfig    `yaml:"annealer"`
	Regime      RegimeConfig      `yaml:"regime"`
	Alpha       AlphaConfig       `yaml:"alpha"`
	QUBO        QUBOConfig        `yaml:"qubo"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Allocation  AllocationConfig  `yaml:"allocation"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// UniverseConfig names the eligible assets and the bar history pulled
// for each at the start of a cycle.
type UniverseConfig struct {
	Assets       []string `yaml:"assets"`
	LookbackBars int      `yaml:"lookback_bars"`
}

// ComplianceConfig holds the anti-wash-trading rule thresholds.
type ComplianceConfig struct {
	MinHoldHours           float64 `yaml:"min_hold_hours"`
	MinNetProfit           float64 `yaml:"min_net_profit"`
	MaxDailyTradesPerAsset int     `yaml:"max_daily_trades_per_asset"`
	MaxDailyTotalTrades    int     `yaml:"max_daily_total_trades"`
	MinTradeValue          float64 `yaml:"min_trade_value"`
	CommissionRate         float64 `yaml:"commission_rate"`
	CooldownHoursAfterSell float64 `yaml:"cooldown_hours_after_sell"`
}

// MinHold returns the minimum hold period as a duration.
func (c ComplianceConfig) MinHold() time.Duration {
	return time.Duration(c.MinHoldHours * float64(time.Hour))
}

// Cooldown returns the post-sell buy cooldown as a duration.
func (c ComplianceConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHoursAfterSell * float64(time.Hour))
}

// RebalanceConfig holds orchestrator tuning.
type RebalanceConfig struct {
	Threshold       float64            `yaml:"threshold"`         // minimum |delta_weight| to trade
	OrderIntervalMs int                `yaml:"order_interval_ms"` // minimum delay between orders
	MaxDrawdown     float64            `yaml:"max_drawdown"`      // circuit breaker trip level
	StepSizes       map[string]float64 `yaml:"step_sizes"`        // per-asset quantity step; "default" key applies otherwise
	RetryAttempts   int                `yaml:"retry_attempts"`
	CallTimeoutSec  int                `yaml:"call_timeout_sec"`
}

// StepSize returns the quantity step for an asset, falling back to the
// "default" entry.
func (r RebalanceConfig) StepSize(asset string) float64 {
	if s, ok := r.StepSizes[asset]; ok && s > 0 {
		return s
	}
	if s, ok := r.StepSizes["default"]; ok && s > 0 {
		return s
	}
	return 1e-6
}

// OrderInterval returns the minimum inter-order delay.
func (r RebalanceConfig) OrderInterval() time.Duration {
	return time.Duration(r.OrderIntervalMs) * time.Millisecond
}

// CallTimeout returns the bound on external calls (price discovery,
// order placement).
func (r RebalanceConfig) CallTimeout() time.Duration {
	if r.CallTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.CallTimeoutSec) * time.Second
}

// AnnealerConfig holds the simulated annealing schedule.
type AnnealerConfig struct {
	TStart         float64 `yaml:"t_start"`
	TEnd           float64 `yaml:"t_end"`
	Steps          int     `yaml:"steps"`  // K temperature steps
	Sweeps         int     `yaml:"sweeps"` // M single-bit-flip proposals per step
	Reads          int     `yaml:"reads"`  // independent runs, best kept
	Seed           int64   `yaml:"seed"`   // 0 = time-seeded, nondeterministic
	CountTolerance int     `yaml:"count_tolerance"`
}

// RegimeConfig maps volatility to (n, lambda) with clamped bounds.
type RegimeConfig struct {
	Window         int     `yaml:"window"` // observations in the volatility window
	VolLow         float64 `yaml:"vol_low"`
	VolHigh        float64 `yaml:"vol_high"`
	NMin           int     `yaml:"n_min"`
	NMax           int     `yaml:"n_max"`
	LambdaMin      float64 `yaml:"lambda_min"`
	LambdaMax      float64 `yaml:"lambda_max"`
	PeriodsPerYear float64 `yaml:"periods_per_year"` // 8760 for hourly bars
}

// AlphaConfig holds the composite alpha signal weights and windows.
type AlphaConfig struct {
	ShortWindow     int     `yaml:"short_window"` // momentum short lookback, bars
	LongWindow      int     `yaml:"long_window"`  // momentum long lookback, bars
	MAWindow        int     `yaml:"ma_window"`    // mean-reversion moving average, bars
	MomentumWeight  float64 `yaml:"momentum_weight"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
	ReversionWeight float64 `yaml:"reversion_weight"`
}

// QUBOConfig holds the Hamiltonian tuning knobs.
type QUBOConfig struct {
	// PenaltyMultiplier scales max|alpha| into the constraint strength P.
	// Correctness-critical: too small and the cardinality constraint no
	// longer dominates the alpha/risk terms.
	PenaltyMultiplier float64 `yaml:"penalty_multiplier"`
}

// CorrelationConfig holds the correlation estimation window.
type CorrelationConfig struct {
	Window int `yaml:"window"` // return observations, short-term
}

// AllocationConfig holds CVaR allocation parameters.
type AllocationConfig struct {
	Confidence   float64 `yaml:"confidence"`    // CVaR confidence level
	RiskAversion float64 `yaml:"risk_aversion"` // CVaR weight in the objective
	MinWeight    float64 `yaml:"min_weight"`
	MaxWeight    float64 `yaml:"max_weight"`
	PerfPenalty  float64 `yaml:"perf_penalty"` // Sortino/Sharpe/Calmar secondary penalty weight
}

// SchedulerConfig holds the rebalance cadence.
type SchedulerConfig struct {
	Cron string `yaml:"cron"`
}

// DefaultStrategy returns the built-in parameter set.
func DefaultStrategy() Strategy {
	return Strategy{
		Universe: UniverseConfig{
			Assets:       []string{"BTC", "ETH", "SOL", "ADA", "DOT", "LINK", "AVAX", "MATIC"},
			LookbackBars: 200,
		},
		Compliance: ComplianceConfig{
			MinHoldHours:           24,
			MinNetProfit:           0.001,
			MaxDailyTradesPerAsset: 4,
			MaxDailyTotalTrades:    40,
			MinTradeValue:          10.0,
			CommissionRate:         0.0001,
			CooldownHoursAfterSell: 4,
		},
		Rebalance: RebalanceConfig{
			Threshold:       0.05,
			OrderIntervalMs: 300,
			MaxDrawdown:     0.15,
			StepSizes:       map[string]float64{"default": 1e-6},
			RetryAttempts:   3,
			CallTimeoutSec:  10,
		},
		Annealer: AnnealerConfig{
			TStart:         10.0,
			TEnd:           0.01,
			Steps:          200,
			Sweeps:         50,
			Reads:          100,
			Seed:           0,
			CountTolerance: 1,
		},
		Regime: RegimeConfig{
			Window:         100,
			VolLow:         0.02,
			VolHigh:        0.05,
			NMin:           5,
			NMax:           20,
			LambdaMin:      0.3,
			LambdaMax:      1.5,
			PeriodsPerYear: 8760,
		},
		Alpha: AlphaConfig{
			ShortWindow:     24,
			LongWindow:      72,
			MAWindow:        24,
			MomentumWeight:  0.5,
			SentimentWeight: 0.3,
			ReversionWeight: 0.2,
		},
		QUBO:        QUBOConfig{PenaltyMultiplier: 2.0},
		Correlation: CorrelationConfig{Window: 48},
		Allocation: AllocationConfig{
			Confidence:   0.95,
			RiskAversion: 1.0,
			MinWeight:    0.02,
			MaxWeight:    0.40,
			PerfPenalty:  0.1,
		},
		Scheduler: SchedulerConfig{Cron: "0 */4 * * *"},
	}
}

// LoadStrategy reads the strategy YAML at path, layered over defaults.
// An empty path returns the defaults unchanged.
func LoadStrategy(path string) (Strategy, error) {
	s := DefaultStrategy()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read strategy config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse strategy config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate rejects parameter sets that cannot work.
func (s Strategy) Validate() error {
	if len(s.Universe.Assets) == 0 {
		return fmt.Errorf("universe: at least one asset required")
	}
	if s.Universe.LookbackBars <= s.Regime.Window {
		return fmt.Errorf("universe: lookback_bars (%d) must exceed the regime window (%d)", s.Universe.LookbackBars, s.Regime.Window)
	}
	if s.Annealer.TStart <= s.Annealer.TEnd {
		return fmt.Errorf("annealer: t_start (%.4f) must exceed t_end (%.4f)", s.Annealer.TStart, s.Annealer.TEnd)
	}
	if s.Annealer.TEnd <= 0 {
		return fmt.Errorf("annealer: t_end must be positive, got %.4f", s.Annealer.TEnd)
	}
	if s.Annealer.Reads < 1 || s.Annealer.Steps < 1 || s.Annealer.Sweeps < 1 {
		return fmt.Errorf("annealer: reads, steps and sweeps must all be at least 1")
	}
	if s.Regime.NMin < 1 || s.Regime.NMax < s.Regime.NMin {
		return fmt.Errorf("regime: need 1 <= n_min <= n_max, got [%d, %d]", s.Regime.NMin, s.Regime.NMax)
	}
	if s.Regime.VolHigh <= s.Regime.VolLow {
		return fmt.Errorf("regime: vol_high (%.4f) must exceed vol_low (%.4f)", s.Regime.VolHigh, s.Regime.VolLow)
	}
	if s.Allocation.Confidence <= 0 || s.Allocation.Confidence >= 1 {
		return fmt.Errorf("allocation: confidence must be in (0, 1), got %.4f", s.Allocation.Confidence)
	}
	if s.Rebalance.Threshold < 0 || s.Rebalance.Threshold >= 1 {
		return fmt.Errorf("rebalance: threshold must be in [0, 1), got %.4f", s.Rebalance.Threshold)
	}
	if s.QUBO.PenaltyMultiplier <= 0 {
		return fmt.Errorf("qubo: penalty_multiplier must be positive, got %.4f", s.QUBO.PenaltyMultiplier)
	}
	return nil
}
