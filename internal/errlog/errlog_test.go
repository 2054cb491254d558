package errlog

import (
	"context"
	"path/filepath"
	"testing"

	"trade-executorv1/internal/jsonfile"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/model"
)

func TestAppend_AccumulatesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_errors.json")
	l := New(path, locking.NewFileMutex(path+".lock"))
	ctx := context.Background()

	l.Append(ctx, Entry{Type: TradeNotFound, Ticker: "AAPL", Message: "no trade found"})

	trade := model.Trade{Ticker: "TSLA", Shares: 5, RiskAmount: 100, LowerPriceRange: 200, HigherPriceRange: 210,
		SellStops: []model.SellStop{{Price: 205, Shares: 5}}}
	l.Append(ctx, Entry{Type: TradeValidationFail, Ticker: "TSLA", Message: "validation failed", Trade: &trade})

	var entries []Entry
	if err := jsonfile.Read(path, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != TradeNotFound || entries[0].Timestamp == "" {
		t.Errorf("first entry malformed: %+v", entries[0])
	}
	if entries[1].Trade == nil || entries[1].Trade.Ticker != "TSLA" {
		t.Errorf("trade snapshot missing: %+v", entries[1])
	}
}
