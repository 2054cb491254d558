package locking

import (
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// Singleton prevents two instances of the same binary from running
// concurrently. The executor does non-atomic multi-step work (dequeue,
// debit, buy, stop placement) that is not transactional across steps, so
// exclusion has to be coarse-grained at process level.
//
// The lock file records the holder's PID and start time so a blocked
// operator can see who owns it. Release is explicit; nothing relies on
// process-exit hooks.
type Singleton struct {
	path     string
	fl       *flock.Flock
	acquired bool
}

// NewSingleton creates a singleton guard backed by the given lock file.
func NewSingleton(path string) *Singleton {
	return &Singleton{path: path, fl: flock.New(path)}
}

// Acquire takes the lock or fails fast with ErrAlreadyRunning. It does not
// retry: a held singleton lock means another instance is mid-flight and
// waiting for it would only queue up duplicate work.
func (s *Singleton) Acquire() error {
	ok, err := s.fl.TryLock()
	if err != nil {
		return fmt.Errorf("singleton lock %s: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, s.path)
	}
	s.acquired = true

	info := fmt.Sprintf("PID: %d\nStarted: %s\n", os.Getpid(), time.Now().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(s.path, []byte(info), 0o644); err != nil {
		// Lock is held either way; the info is advisory.
		return nil
	}
	return nil
}

// InstanceInfo returns the PID/start-time recorded in the lock file, for
// reporting when Acquire fails. Empty string when unreadable.
func (s *Singleton) InstanceInfo() string {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return string(b)
}

// Release drops the lock and removes the lock file.
func (s *Singleton) Release() error {
	if !s.acquired {
		return nil
	}
	s.acquired = false
	if err := s.fl.Unlock(); err != nil {
		return err
	}
	os.Remove(s.path)
	return nil
}
