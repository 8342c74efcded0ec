// Package audit persists the append-only decision trail: one record per
// selection cycle, compliance decision, trade and stage event. Records
// are written once and never updated.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qfolio/qfolio/internal/domain"
)

// Ledger writes audit records to the ledger database.
type Ledger struct {
	db  *sql.DB
	log zerolog.Logger
}

// tradesColumns avoids SELECT *; order must match scanTrade.
const tradesColumns = `order_id, asset, side, quantity, price, commission, executed_at, holding_quantity, holding_avg_price`

// NewLedger creates the audit ledger and ensures its schema exists.
func NewLedger(db *sql.DB, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle_id   TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			regime     TEXT NOT NULL,
			energy     REAL NOT NULL,
			snapshot   BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS compliance_decisions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id     TEXT NOT NULL,
			asset        TEXT NOT NULL,
			side         TEXT NOT NULL,
			quantity     REAL NOT NULL,
			price        REAL NOT NULL,
			approved     INTEGER NOT NULL,
			reason       TEXT NOT NULL,
			rule         TEXT NOT NULL,
			evaluated_at INTEGER NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id          TEXT NOT NULL,
			order_id          TEXT NOT NULL,
			asset             TEXT NOT NULL,
			side              TEXT NOT NULL,
			quantity          REAL NOT NULL,
			price             REAL NOT NULL,
			commission        REAL NOT NULL,
			executed_at       INTEGER NOT NULL,
			holding_quantity  REAL NOT NULL,
			holding_avg_price REAL NOT NULL,
			created_at        INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id   TEXT NOT NULL,
			stage      TEXT NOT NULL,
			asset      TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LogCycle records one selection cycle. The full snapshot is stored as a
// msgpack blob so a cycle can be reconstructed from the ledger alone.
func (l *Ledger) LogCycle(snapshot domain.CycleSnapshot) error {
	blob, err := msgpack.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode cycle snapshot: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO cycles (cycle_id, started_at, regime, energy, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.CycleID,
		snapshot.StartedAt.Unix(),
		snapshot.Regime.Regime,
		snapshot.Energy,
		blob,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log cycle: %w", err)
	}

	l.log.Info().
		Str("cycle_id", snapshot.CycleID).
		Str("regime", snapshot.Regime.Regime).
		Int("selected", len(snapshot.Selected)).
		Msg("Cycle logged")
	return nil
}

// LogDecision records one compliance verdict.
func (l *Ledger) LogDecision(cycleID string, d domain.ComplianceDecision) error {
	approved := 0
	if d.Approved {
		approved = 1
	}
	_, err := l.db.Exec(`
		INSERT INTO compliance_decisions
		(cycle_id, asset, side, quantity, price, approved, reason, rule, evaluated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, d.Asset, string(d.Side), d.Quantity, d.Price,
		approved, string(d.Reason), d.Rule, d.EvaluatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log compliance decision: %w", err)
	}
	return nil
}

// LogTrade records one executed trade. Duplicate order IDs are skipped
// so retried writes stay idempotent.
func (l *Ledger) LogTrade(cycleID string, t domain.TradeRecord) error {
	if t.OrderID != "" {
		exists, err := l.tradeExists(t.OrderID)
		if err != nil {
			return fmt.Errorf("failed to check for existing trade: %w", err)
		}
		if exists {
			l.log.Debug().
				Str("order_id", t.OrderID).
				Msg("Trade with order_id already exists, skipping duplicate")
			return nil
		}
	}

	_, err := l.db.Exec(`
		INSERT INTO trades
		(cycle_id, order_id, asset, side, quantity, price, commission,
		 executed_at, holding_quantity, holding_avg_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, t.OrderID, t.Asset, string(t.Side), t.Quantity, t.Price,
		t.Commission, t.ExecutedAt.Unix(), t.HoldingQuantity, t.HoldingAvgPrice,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}

	l.log.Info().
		Str("asset", t.Asset).
		Str("side", string(t.Side)).
		Float64("quantity", t.Quantity).
		Msg("Trade logged")
	return nil
}

// LogEvent records a free-form stage outcome.
func (l *Ledger) LogEvent(cycleID, stage, asset, message string) error {
	_, err := l.db.Exec(`
		INSERT INTO events (cycle_id, stage, asset, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		cycleID, stage, asset, message, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// Trades returns the full trade history, oldest first. Used to rebuild
// compliance state on startup.
func (l *Ledger) Trades() ([]domain.TradeRecord, error) {
	rows, err := l.db.Query("SELECT " + tradesColumns + " FROM trades ORDER BY executed_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// LatestCycle decodes the most recent cycle snapshot, or nil when the
// ledger is empty.
func (l *Ledger) LatestCycle() (*domain.CycleSnapshot, error) {
	var blob []byte
	err := l.db.QueryRow(
		"SELECT snapshot FROM cycles ORDER BY started_at DESC, cycle_id DESC LIMIT 1",
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest cycle: %w", err)
	}

	var snapshot domain.CycleSnapshot
	if err := msgpack.Unmarshal(blob, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cycle snapshot: %w", err)
	}
	return &snapshot, nil
}

func (l *Ledger) tradeExists(orderID string) (bool, error) {
	var count int
	err := l.db.QueryRow("SELECT COUNT(*) FROM trades WHERE order_id = ?", orderID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanTrade(rows *sql.Rows) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side string
	var executedAt int64
	err := rows.Scan(
		&t.OrderID, &t.Asset, &side, &t.Quantity, &t.Price,
		&t.Commission, &executedAt, &t.HoldingQuantity, &t.HoldingAvgPrice,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan trade: %w", err)
	}
	t.Side = domain.Side(side)
	t.ExecutedAt = time.Unix(executedAt, 0).UTC()
	return t, nil
}
