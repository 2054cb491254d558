// Package ledger maintains the shared pool of risk capital: a single
// persisted scalar with atomic read-modify-write semantics.
//
// The backing store is a small JSON file shared with the manual riskctl
// tool, so every mutation holds the cross-process mutex for the full span
// of read, modify, and rewrite.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"trade-executorv1/internal/jsonfile"
	"trade-executorv1/internal/locking"
)

// ErrNegativeRisk is returned by Subtract when the result would go below
// zero. The executor's Debit deliberately has no such floor.
var ErrNegativeRisk = errors.New("ledger: result would be negative")

type riskFile struct {
	AvailableRisk float64 `json:"available_risk"`
}

// Ledger is the persisted risk-capital counter.
type Ledger struct {
	path string
	mu   locking.Mutex
}

// New creates a Ledger over the given file, guarded by mu. A missing file
// is initialized to a zero-risk default on first use.
func New(path string, mu locking.Mutex) *Ledger {
	return &Ledger{path: path, mu: mu}
}

// Read returns the available risk capital.
func (l *Ledger) Read(ctx context.Context) (float64, error) {
	if err := l.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Release()
	return l.load(), nil
}

// Debit unconditionally subtracts amount and returns the new balance. There
// is no floor check: the executor debits risk as soon as a trade is
// dequeued, even if the balance goes negative. (riskctl's subtract is the
// guarded variant; see Subtract.)
func (l *Ledger) Debit(ctx context.Context, amount float64) (float64, error) {
	if err := l.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Release()

	current := l.load()
	updated := current - amount
	if err := l.store(updated); err != nil {
		return current, err
	}
	log.Printf("[ledger] risk updated: $%g -> $%g", current, updated)
	return updated, nil
}

// Set overwrites the balance and returns the previous value.
func (l *Ledger) Set(ctx context.Context, amount float64) (float64, error) {
	if err := l.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Release()

	old := l.load()
	if err := l.store(amount); err != nil {
		return old, err
	}
	return old, nil
}

// Add increases the balance and returns the new value.
func (l *Ledger) Add(ctx context.Context, amount float64) (float64, error) {
	if err := l.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Release()

	updated := l.load() + amount
	if err := l.store(updated); err != nil {
		return 0, err
	}
	return updated, nil
}

// Subtract decreases the balance, failing closed with ErrNegativeRisk if
// the result would drop below zero. This is the manual-tool variant; the
// executor path uses Debit.
func (l *Ledger) Subtract(ctx context.Context, amount float64) (float64, error) {
	if err := l.mu.Acquire(ctx); err != nil {
		return 0, err
	}
	defer l.mu.Release()

	current := l.load()
	updated := current - amount
	if updated < 0 {
		return current, fmt.Errorf("%w: $%g - $%g", ErrNegativeRisk, current, amount)
	}
	if err := l.store(updated); err != nil {
		return current, err
	}
	return updated, nil
}

// load reads the balance. A missing or corrupt file reads as zero; this is
// long-standing behavior the manual tooling depends on, kept as-is.
func (l *Ledger) load() float64 {
	var rf riskFile
	if err := jsonfile.Read(l.path, &rf); err != nil {
		return 0
	}
	return rf.AvailableRisk
}

func (l *Ledger) store(amount float64) error {
	return jsonfile.WriteAtomic(l.path, riskFile{AvailableRisk: amount})
}
