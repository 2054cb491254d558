package execution

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists execution attempts to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// ExecutionRecord is one buy order's outcome: how much of the planned
// position was actually bought and how the protective ladder went.
type ExecutionRecord struct {
	ID              int64   `json:"id"`
	TraceID         string  `json:"trace_id"`
	OrderID         int     `json:"order_id"`
	Ticker          string  `json:"ticker"`
	PlannedShares   float64 `json:"planned_shares"`
	FilledShares    float64 `json:"filled_shares"`
	RemainingShares float64 `json:"remaining_shares"`
	AvgFillPrice    float64 `json:"avg_fill_price"`
	Status          string  `json:"status"`
	ExecutedAt      string  `json:"executed_at"`
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id         TEXT NOT NULL,
		order_id         INTEGER NOT NULL,
		ticker           TEXT NOT NULL,
		planned_shares   REAL NOT NULL,
		filled_shares    REAL NOT NULL,
		remaining_shares REAL DEFAULT 0,
		avg_fill_price   REAL DEFAULT 0,
		status           TEXT NOT NULL,
		executed_at      DATETIME NOT NULL,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_executions_ticker ON executions(ticker);
	CREATE INDEX IF NOT EXISTS idx_executions_trace ON executions(trace_id);
	CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened execution journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// Record persists one execution attempt.
func (j *Journal) Record(ctx context.Context, rec ExecutionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	executedAt := rec.ExecutedAt
	if executedAt == "" {
		executedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (trace_id, order_id, ticker, planned_shares, filled_shares, remaining_shares, avg_fill_price, status, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID,
		rec.OrderID,
		rec.Ticker,
		rec.PlannedShares,
		rec.FilledShares,
		rec.RemainingShares,
		rec.AvgFillPrice,
		rec.Status,
		executedAt,
	)
	return err
}

// Recent returns the last N execution attempts, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, trace_id, order_id, ticker, planned_shares, filled_shares, remaining_shares, avg_fill_price, status, executed_at
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.OrderID, &r.Ticker, &r.PlannedShares,
			&r.FilledShares, &r.RemainingShares, &r.AvgFillPrice, &r.Status, &r.ExecutedAt); err != nil {
			continue
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
