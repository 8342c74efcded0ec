package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Concrete error types below
// wrap these so callers can branch with errors.Is while logs keep the
// numeric context needed to reconstruct decisions.
var (
	ErrInsufficientHistory   = errors.New("insufficient history")
	ErrEmptyUniverse         = errors.New("empty universe")
	ErrDegenerateSelection   = errors.New("degenerate selection")
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrComplianceBlocked     = errors.New("compliance blocked")
	ErrOrderRejected         = errors.New("order rejected")
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")
)

// InsufficientHistoryError reports a window with too few observations.
type InsufficientHistoryError struct {
	Observations int
	Required     int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: %d observations, need %d", e.Observations, e.Required)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// EmptyUniverseError reports that fewer eligible assets exist than the
// regime-derived portfolio size.
type EmptyUniverseError struct {
	Universe int
	Target   int
}

func (e *EmptyUniverseError) Error() string {
	return fmt.Sprintf("empty universe: %d eligible assets, target portfolio size %d", e.Universe, e.Target)
}

func (e *EmptyUniverseError) Unwrap() error { return ErrEmptyUniverse }

// DegenerateSelectionError reports a selection the allocator cannot
// weight (empty, or zero-variance returns make CVaR undefined).
type DegenerateSelectionError struct {
	Selected int
	Cause    string
}

func (e *DegenerateSelectionError) Error() string {
	return fmt.Sprintf("degenerate selection (%d assets): %s", e.Selected, e.Cause)
}

func (e *DegenerateSelectionError) Unwrap() error { return ErrDegenerateSelection }

// PriceUnavailableError excludes a single asset from the current cycle.
type PriceUnavailableError struct {
	Asset string
	Stage string
	Err   error
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for %s at stage %s: %v", e.Asset, e.Stage, e.Err)
}

func (e *PriceUnavailableError) Unwrap() error { return ErrPriceUnavailable }

// ComplianceBlockedError carries the full decision so audit records and
// logs can reproduce the rule evaluation.
type ComplianceBlockedError struct {
	Decision ComplianceDecision
}

func (e *ComplianceBlockedError) Error() string {
	d := e.Decision
	return fmt.Sprintf("compliance blocked %s %s qty=%.8f: %s (%s)", d.Side, d.Asset, d.Quantity, d.Reason, d.Rule)
}

func (e *ComplianceBlockedError) Unwrap() error { return ErrComplianceBlocked }

// OrderRejectedError reports a broker-side rejection, distinct from
// business-rule blocks.
type OrderRejectedError struct {
	Asset   string
	Side    Side
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s %s: %s", e.Side, e.Asset, e.Message)
}

func (e *OrderRejectedError) Unwrap() error { return ErrOrderRejected }

// CircuitBreakerTrippedError halts order submission for the remainder of
// the cycle. Distinguishable from compliance blocks in the audit trail.
type CircuitBreakerTrippedError struct {
	Drawdown float64
	Limit    float64
}

func (e *CircuitBreakerTrippedError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: drawdown %.4f exceeds limit %.4f", e.Drawdown, e.Limit)
}

func (e *CircuitBreakerTrippedError) Unwrap() error { return ErrCircuitBreakerTripped }
