// Package queue persists the pending-trade queue: an unordered collection
// of Trade specifications in a JSON file shared between the executor and
// the tradesctl tool.
//
// Every mutating operation is one scoped exclusive acquisition spanning the
// full read-modify-rewrite, so a concurrent reader never observes a
// partially written queue and a concurrent add is never lost to an
// interleaved removal.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"trade-executorv1/internal/jsonfile"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/model"
)

var (
	// ErrNotFound is returned by Find/Remove when no trade matches.
	ErrNotFound = errors.New("queue: trade not found")

	// ErrIndexOutOfRange is returned by RemoveAt when the index went stale
	// between a Find and the removal.
	ErrIndexOutOfRange = errors.New("queue: trade index out of range")

	// ErrDuplicate is returned by Add when a trade with the same ticker and
	// price range is already queued.
	ErrDuplicate = errors.New("queue: trade already exists")
)

// Queue is the persisted trade queue.
type Queue struct {
	path string
	mu   locking.Mutex
}

// New creates a Queue over the given file, guarded by mu. A missing file
// reads as an empty queue.
func New(path string, mu locking.Mutex) *Queue {
	return &Queue{path: path, mu: mu}
}

// Find returns the index and trade matching ticker and price range
// (case-insensitive ticker, prices compared within model.PriceEpsilon).
func (q *Queue) Find(ctx context.Context, ticker string, lower, higher float64) (int, model.Trade, error) {
	if err := q.mu.Acquire(ctx); err != nil {
		return 0, model.Trade{}, err
	}
	defer q.mu.Release()

	trades := q.load()
	for i, t := range trades {
		if t.Matches(ticker, lower, higher) {
			return i, t, nil
		}
	}
	return 0, model.Trade{}, fmt.Errorf("%w: %s $%g-$%g", ErrNotFound, ticker, lower, higher)
}

// RemoveAt deletes the trade at index and returns it. The file is re-read
// under the lock, so trades added since the preceding Find survive; only
// the index itself can have gone stale, reported as ErrIndexOutOfRange.
func (q *Queue) RemoveAt(ctx context.Context, index int) (model.Trade, error) {
	if err := q.mu.Acquire(ctx); err != nil {
		return model.Trade{}, err
	}
	defer q.mu.Release()

	trades := q.load()
	if index < 0 || index >= len(trades) {
		return model.Trade{}, fmt.Errorf("%w: %d (queue has %d)", ErrIndexOutOfRange, index, len(trades))
	}
	removed := trades[index]
	trades = append(trades[:index], trades[index+1:]...)
	if err := q.store(trades); err != nil {
		return model.Trade{}, err
	}
	return removed, nil
}

// Remove deletes the first trade matching ticker and price range.
func (q *Queue) Remove(ctx context.Context, ticker string, lower, higher float64) (model.Trade, error) {
	if err := q.mu.Acquire(ctx); err != nil {
		return model.Trade{}, err
	}
	defer q.mu.Release()

	trades := q.load()
	for i, t := range trades {
		if t.Matches(ticker, lower, higher) {
			trades = append(trades[:i], trades[i+1:]...)
			if err := q.store(trades); err != nil {
				return model.Trade{}, err
			}
			return t, nil
		}
	}
	return model.Trade{}, fmt.Errorf("%w: %s $%g-$%g", ErrNotFound, ticker, lower, higher)
}

// List returns all queued trades.
func (q *Queue) List(ctx context.Context) ([]model.Trade, error) {
	if err := q.mu.Acquire(ctx); err != nil {
		return nil, err
	}
	defer q.mu.Release()
	return q.load(), nil
}

// Add validates, normalizes, and appends a trade. Trades duplicating an
// existing (ticker, lower, higher) triple are rejected.
func (q *Queue) Add(ctx context.Context, t model.Trade) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("queue add: %w", err)
	}
	t = t.Normalize()

	if err := q.mu.Acquire(ctx); err != nil {
		return err
	}
	defer q.mu.Release()

	trades := q.load()
	for _, existing := range trades {
		if existing.Matches(t.Ticker, t.LowerPriceRange, t.HigherPriceRange) {
			return fmt.Errorf("%w: %s $%g-$%g", ErrDuplicate, t.Ticker, t.LowerPriceRange, t.HigherPriceRange)
		}
	}
	trades = append(trades, t)
	if err := q.store(trades); err != nil {
		return err
	}
	log.Printf("[queue] trade added: %s %g shares ($%g-$%g)", t.Ticker, t.Shares, t.LowerPriceRange, t.HigherPriceRange)
	return nil
}

// Clear removes every queued trade and returns how many were dropped.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	if err := q.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer q.mu.Release()

	trades := q.load()
	if len(trades) == 0 {
		return 0, nil
	}
	if err := q.store(nil); err != nil {
		return 0, err
	}
	return len(trades), nil
}

// load reads the queue; missing or unreadable files read as empty.
func (q *Queue) load() []model.Trade {
	var trades []model.Trade
	if err := jsonfile.Read(q.path, &trades); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[queue] WARNING: %v (treating queue as empty)", err)
		}
		return nil
	}
	return trades
}

func (q *Queue) store(trades []model.Trade) error {
	if trades == nil {
		trades = []model.Trade{}
	}
	return jsonfile.WriteAtomic(q.path, trades)
}
