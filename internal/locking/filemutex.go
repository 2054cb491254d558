package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// FileMutex is a whole-file advisory lock. The lock file is a sidecar next
// to the data file rather than the data file itself, so atomic
// rename-into-place writes never swap the locked inode out from under a
// concurrent waiter.
type FileMutex struct {
	fl      *flock.Flock
	retries int
	backoff time.Duration
}

// NewFileMutex creates a file mutex backed by the given lock file path.
func NewFileMutex(path string) *FileMutex {
	return &FileMutex{
		fl:      flock.New(path),
		retries: DefaultRetries,
		backoff: DefaultBackoff,
	}
}

// Acquire tries the lock up to the retry budget, sleeping between attempts.
func (m *FileMutex) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < m.retries; attempt++ {
		ok, err := m.fl.TryLock()
		if err != nil {
			return fmt.Errorf("lock %s: %w", m.fl.Path(), err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.backoff):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, m.fl.Path(), m.retries)
}

// Release unlocks the file.
func (m *FileMutex) Release() error {
	return m.fl.Unlock()
}
