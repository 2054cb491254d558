// Package errlog records structured trade-processing errors to an
// append-only JSON file. Entries are written for operators and audit; the
// system never reads them back.
package errlog

import (
	"context"
	"log"
	"time"

	"trade-executorv1/internal/jsonfile"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/model"
)

// Type classifies a trade-processing failure.
type Type string

const (
	TradeNotFound        Type = "TRADE_NOT_FOUND"
	TradeValidationFail  Type = "TRADE_VALIDATION_FAILED"
	ConnectionFailed     Type = "CONNECTION_FAILED"
	ConnectionTimeout    Type = "CONNECTION_TIMEOUT"
	BuyOrderNoFill       Type = "BUY_ORDER_NO_FILL"
	BuyOrderFailed       Type = "BUY_ORDER_FAILED"
	BuyOrderCompleteFail Type = "BUY_ORDER_COMPLETE_FAILURE"
	SellStopOrderFailed  Type = "SELL_STOP_ORDER_FAILED"
	SellStopOrdersFailed Type = "SELL_STOP_ORDERS_FAILED"
	TradeProcessingError Type = "TRADE_PROCESSING_ERROR"
)

// Entry is one logged failure. Trade carries a snapshot of the trade being
// processed when one was in hand.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Type      Type           `json:"error_type"`
	Ticker    string         `json:"ticker"`
	Message   string         `json:"error_message"`
	Trade     *model.Trade   `json:"trade_data,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Log appends entries to a lock-guarded JSON array file.
type Log struct {
	path string
	mu   locking.Mutex
}

// New creates a Log over the given file, guarded by mu.
func New(path string, mu locking.Mutex) *Log {
	return &Log{path: path, mu: mu}
}

// Append stamps and writes the entry. Logging failures are reported but
// never propagate: an error writing the error log must not change the
// executor's behavior.
func (l *Log) Append(ctx context.Context, e Entry) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format("2006-01-02 15:04:05")
	}

	if err := l.mu.Acquire(ctx); err != nil {
		log.Printf("[errlog] WARNING: could not lock %s: %v (entry dropped: %s %s)", l.path, err, e.Type, e.Ticker)
		return
	}
	defer l.mu.Release()

	var entries []Entry
	jsonfile.Read(l.path, &entries) // missing/corrupt file starts a fresh log
	entries = append(entries, e)

	if err := jsonfile.WriteAtomic(l.path, entries); err != nil {
		log.Printf("[errlog] WARNING: failed to write %s: %v", l.path, err)
		return
	}
	log.Printf("[errlog] %s %s: %s", e.Type, e.Ticker, e.Message)
}
