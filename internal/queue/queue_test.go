package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/model"
)

func sampleTrade() model.Trade {
	return model.Trade{
		Ticker:           "AAPL",
		Shares:           10,
		RiskAmount:       500,
		LowerPriceRange:  145,
		HigherPriceRange: 155,
		SellStops: []model.SellStop{
			{Price: 150, Shares: 5},
			{Price: 145, Shares: 3},
			{Price: 140, Shares: 2},
		},
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.json")
	return New(path, locking.NewFileMutex(path+".lock"))
}

func TestAddAndFind(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, sampleTrade()); err != nil {
		t.Fatal(err)
	}

	// Case-insensitive ticker, exact range.
	idx, trade, err := q.Find(ctx, "aapl", 145, 155)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 || trade.Ticker != "AAPL" {
		t.Fatalf("unexpected find result: idx=%d trade=%+v", idx, trade)
	}

	// Within epsilon.
	if _, _, err := q.Find(ctx, "AAPL", 145.0009, 154.9995); err != nil {
		t.Fatalf("epsilon match failed: %v", err)
	}

	// Outside epsilon.
	if _, _, err := q.Find(ctx, "AAPL", 145.01, 155); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdd_NormalizesTicker(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	tr := sampleTrade()
	tr.Ticker = "  msft "
	if err := q.Add(ctx, tr); err != nil {
		t.Fatal(err)
	}

	trades, err := q.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Ticker != "MSFT" {
		t.Fatalf("expected normalized MSFT, got %+v", trades)
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, sampleTrade()); err != nil {
		t.Fatal(err)
	}
	err := q.Add(ctx, sampleTrade())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same ticker, different range: allowed.
	other := sampleTrade()
	other.LowerPriceRange = 130
	other.HigherPriceRange = 140
	other.SellStops = []model.SellStop{{Price: 135, Shares: 10}}
	if err := q.Add(ctx, other); err != nil {
		t.Fatalf("different price range should not be a duplicate: %v", err)
	}
}

func TestAdd_RejectsInvalidTrades(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*model.Trade)
	}{
		{"empty ticker", func(tr *model.Trade) { tr.Ticker = " " }},
		{"zero shares", func(tr *model.Trade) { tr.Shares = 0 }},
		{"negative risk", func(tr *model.Trade) { tr.RiskAmount = -1 }},
		{"inverted range", func(tr *model.Trade) { tr.LowerPriceRange = 160 }},
		{"no stops", func(tr *model.Trade) { tr.SellStops = nil }},
		{"stop sum mismatch", func(tr *model.Trade) { tr.SellStops[0].Shares = 6 }},
		{"zero stop price", func(tr *model.Trade) { tr.SellStops[1].Price = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := sampleTrade()
			tc.mutate(&tr)
			if err := q.Add(ctx, tr); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestRemoveAt_StaleIndex(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Add(ctx, sampleTrade()); err != nil {
		t.Fatal(err)
	}

	if _, err := q.RemoveAt(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := q.RemoveAt(ctx, 0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange on stale index, got %v", err)
	}
}

func TestFindThenRemoveAt_ConcurrentAddNotLost(t *testing.T) {
	// Simulates two processes: one executing find+removeAt, another adding a
	// new trade in between. The added trade must survive the removal.
	path := filepath.Join(t.TempDir(), "trades.json")
	lockPath := path + ".lock"
	q1 := New(path, locking.NewFileMutex(lockPath))
	q2 := New(path, locking.NewFileMutex(lockPath))
	ctx := context.Background()

	if err := q1.Add(ctx, sampleTrade()); err != nil {
		t.Fatal(err)
	}

	idx, _, err := q1.Find(ctx, "AAPL", 145, 155)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other := sampleTrade()
		other.Ticker = "TSLA"
		if err := q2.Add(ctx, other); err != nil {
			t.Errorf("concurrent add: %v", err)
		}
	}()
	wg.Wait()

	if _, err := q1.RemoveAt(ctx, idx); err != nil {
		t.Fatal(err)
	}

	trades, err := q1.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Ticker != "TSLA" {
		t.Fatalf("concurrent add was lost: %+v", trades)
	}
}

func TestClear(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if n, err := q.Clear(ctx); err != nil || n != 0 {
		t.Fatalf("clear on empty queue: n=%d err=%v", n, err)
	}

	q.Add(ctx, sampleTrade())
	other := sampleTrade()
	other.Ticker = "NVDA"
	q.Add(ctx, other)

	n, err := q.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}

	trades, _ := q.List(ctx)
	if len(trades) != 0 {
		t.Fatalf("queue not empty after clear: %+v", trades)
	}
}

func TestRemoveByCriteria(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Add(ctx, sampleTrade())

	if _, err := q.Remove(ctx, "AAPL", 100, 110); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	removed, err := q.Remove(ctx, "aapl", 145, 155)
	if err != nil {
		t.Fatal(err)
	}
	if removed.Ticker != "AAPL" {
		t.Fatalf("removed wrong trade: %+v", removed)
	}
}
