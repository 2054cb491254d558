// Package locking provides the cross-process mutual exclusion primitives
// guarding the trade queue and risk ledger files: an advisory file lock, a
// Redis-based lock for deployments that prefer an external lock service,
// and a process-wide singleton guard.
//
// Every lock is scoped: acquired for exactly one read-modify-write span and
// released on every exit path. Acquisition is retried a bounded number of
// times with a short backoff because multiple processes (the executor and
// the manual riskctl/tradesctl tools) may contend on the same files.
package locking

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultRetries and DefaultBackoff bound a single acquisition attempt
	// to roughly one second of contention before failing.
	DefaultRetries = 10
	DefaultBackoff = 100 * time.Millisecond
)

var (
	// ErrLockTimeout is returned when a mutex could not be acquired within
	// the bounded retry budget.
	ErrLockTimeout = errors.New("locking: could not acquire lock")

	// ErrAlreadyRunning is returned by Singleton.Acquire when another
	// process instance holds the singleton lock.
	ErrAlreadyRunning = errors.New("locking: another instance is already running")
)

// Mutex is a cross-process exclusive lock around one shared resource.
type Mutex interface {
	// Acquire blocks until the lock is held, the retry budget is exhausted
	// (ErrLockTimeout), or ctx is done.
	Acquire(ctx context.Context) error

	// Release drops the lock. Safe to call when not held.
	Release() error
}
