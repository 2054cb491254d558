package locking

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFileMutex_Exclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.lock")
	ctx := context.Background()

	m1 := NewFileMutex(path)
	if err := m1.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	m2 := NewFileMutex(path)
	m2.retries = 2
	m2.backoff = 10 * time.Millisecond
	err := m2.Acquire(ctx)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	if err := m1.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := m2.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	m2.Release()
}

func TestFileMutex_SerializesCriticalSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.lock")
	ctx := context.Background()

	var inside int
	var maxInside int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewFileMutex(path)
			m.retries = 100
			m.backoff = 5 * time.Millisecond
			for j := 0; j < 5; j++ {
				if err := m.Acquire(ctx); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				m.Release()
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("critical section overlap: max concurrent holders = %d", maxInside)
	}
}

func TestFileMutex_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")

	holder := NewFileMutex(path)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waiter := NewFileMutex(path)
	if err := waiter.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSingleton_FailsFastWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.lock")

	first := NewSingleton(path)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	second := NewSingleton(path)
	err := second.Acquire()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	// The holder's info should be visible to the loser.
	if info := second.InstanceInfo(); !strings.Contains(info, "PID:") {
		t.Errorf("expected PID in instance info, got %q", info)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	second.Release()
}

func TestSingleton_ReleaseIdempotent(t *testing.T) {
	s := NewSingleton(filepath.Join(t.TempDir(), "a.lock"))
	if err := s.Release(); err != nil {
		t.Fatalf("release before acquire should be a no-op, got %v", err)
	}
	if err := s.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}
