package domain

import "context"

// MarketDataProvider supplies historical bars and live prices.
// Retrieval itself (exchange HTTP, caching) is an external collaborator.
type MarketDataProvider interface {
	// LatestBars returns up to n most recent bars for an asset,
	// ordered oldest to newest.
	LatestBars(ctx context.Context, asset string, n int) ([]Candle, error)
	// LatestPrice returns the most recent trade price for an asset.
	LatestPrice(ctx context.Context, asset string) (float64, error)
}

// SentimentProvider supplies a per-asset sentiment score in a bounded
// range, refreshed at cycle cadence. Missing data is tolerable: callers
// use a neutral zero contribution when ok is false.
type SentimentProvider interface {
	Score(ctx context.Context, asset string) (score float64, ok bool)
}

// BrokerClient is the trade execution boundary. Authentication (HMAC
// request signing) is handled by implementations out-of-band.
type BrokerClient interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	Holdings(ctx context.Context) (map[string]float64, error)
	CashBalance(ctx context.Context) (float64, error)
}

// AuditSink is the append-only structured record collaborator. The core
// never reads back from it.
type AuditSink interface {
	LogCycle(snapshot CycleSnapshot) error
	LogDecision(cycleID string, d ComplianceDecision) error
	LogTrade(cycleID string, t TradeRecord) error
	LogEvent(cycleID, stage, asset, message string) error
}
