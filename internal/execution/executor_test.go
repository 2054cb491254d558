package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trade-executorv1/internal/errlog"
	"trade-executorv1/internal/gateway"
	"trade-executorv1/internal/jsonfile"
	"trade-executorv1/internal/ledger"
	"trade-executorv1/internal/locking"
	"trade-executorv1/internal/metrics"
	"trade-executorv1/internal/model"
	"trade-executorv1/internal/queue"
)

type executorFixture struct {
	exec       *Executor
	gw         *fakeGateway
	queue      *queue.Queue
	ledger     *ledger.Ledger
	tradesPath string
	errLog     string
}

func newExecutorFixture(t *testing.T, gw *fakeGateway) *executorFixture {
	t.Helper()
	dir := t.TempDir()

	tradesPath := filepath.Join(dir, "trades.json")
	riskPath := filepath.Join(dir, "risk.json")
	errPath := filepath.Join(dir, "errors.json")

	q := queue.New(tradesPath, locking.NewFileMutex(tradesPath+".lock"))
	l := ledger.New(riskPath, locking.NewFileMutex(riskPath+".lock"))
	elog := errlog.New(errPath, locking.NewFileMutex(errPath+".lock"))

	if _, err := l.Set(context.Background(), 1000); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	exec := NewExecutor(q, l, gw, elog)
	exec.Monitor = fastMonitor(gw)
	exec.StopDelay = 0

	return &executorFixture{exec: exec, gw: gw, queue: q, ledger: l, tradesPath: tradesPath, errLog: errPath}
}

func (f *executorFixture) addSampleTrade(t *testing.T) model.Trade {
	t.Helper()
	trade := model.Trade{
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
	if err := f.queue.Add(context.Background(), trade); err != nil {
		t.Fatalf("add trade: %v", err)
	}
	return trade
}

func (f *executorFixture) errorTypes(t *testing.T) []errlog.Type {
	t.Helper()
	var entries []errlog.Entry
	if err := jsonfile.Read(f.errLog, &entries); err != nil {
		return nil
	}
	types := make([]errlog.Type, len(entries))
	for i, e := range entries {
		types[i] = e.Type
	}
	return types
}

func hasErrorType(types []errlog.Type, want errlog.Type) bool {
	for _, ty := range types {
		if ty == want {
			return true
		}
	}
	return false
}

func TestProcessTrade_NotFound(t *testing.T) {
	f := newExecutorFixture(t, newFakeGateway())

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure for an unknown trade")
	}

	if !hasErrorType(f.errorTypes(t), errlog.TradeNotFound) {
		t.Fatal("expected a TRADE_NOT_FOUND entry")
	}
	if risk, _ := f.ledger.Read(context.Background()); risk != 1000 {
		t.Fatalf("ledger must be untouched, got %g", risk)
	}
}

func TestProcessTrade_InvalidTradeEvicted(t *testing.T) {
	f := newExecutorFixture(t, newFakeGateway())

	// Stop ladder totals 8, not 10. Written straight to disk so the
	// queue's own validation cannot refuse it.
	bad := model.Trade{
		Ticker:           "AAPL",
		Shares:           10,
		RiskAmount:       500,
		LowerPriceRange:  145,
		HigherPriceRange: 155,
		SellStops:        []model.SellStop{{Price: 150, Shares: 5}, {Price: 145, Shares: 3}},
	}
	if err := jsonfile.WriteAtomic(f.tradesPath, []model.Trade{bad}); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure for an invalid trade")
	}

	left, _ := f.queue.List(context.Background())
	if len(left) != 0 {
		t.Fatalf("invalid trade must be evicted, %d still queued", len(left))
	}
	if !hasErrorType(f.errorTypes(t), errlog.TradeValidationFail) {
		t.Fatal("expected a TRADE_VALIDATION_FAILED entry")
	}
	if risk, _ := f.ledger.Read(context.Background()); risk != 1000 {
		t.Fatalf("ledger must be untouched, got %g", risk)
	}
}

func TestProcessTrade_InsufficientRiskEvicted(t *testing.T) {
	f := newExecutorFixture(t, newFakeGateway())
	f.addSampleTrade(t)

	if _, err := f.ledger.Set(context.Background(), 100); err != nil {
		t.Fatalf("set risk: %v", err)
	}

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure when risk exceeds the budget")
	}

	left, _ := f.queue.List(context.Background())
	if len(left) != 0 {
		t.Fatalf("unaffordable trade must be evicted, %d still queued", len(left))
	}
	if !hasErrorType(f.errorTypes(t), errlog.TradeValidationFail) {
		t.Fatal("expected a TRADE_VALIDATION_FAILED entry")
	}
	if risk, _ := f.ledger.Read(context.Background()); risk != 100 {
		t.Fatalf("ledger must be untouched, got %g", risk)
	}
}

func TestProcessTrade_ConnectFailureLeavesTradeQueued(t *testing.T) {
	gw := newFakeGateway()
	gw.connectErr = context.DeadlineExceeded
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure when the brokerage is unreachable")
	}

	left, _ := f.queue.List(context.Background())
	if len(left) != 1 {
		t.Fatalf("trade must stay queued for a retry, %d queued", len(left))
	}
	if risk, _ := f.ledger.Read(context.Background()); risk != 1000 {
		t.Fatalf("ledger must be untouched, got %g", risk)
	}
	if !hasErrorType(f.errorTypes(t), errlog.ConnectionFailed) {
		t.Fatal("expected a CONNECTION_FAILED entry")
	}
}

func TestProcessTrade_ConnectTimeoutLogged(t *testing.T) {
	gw := newFakeGateway()
	gw.connectErr = fmt.Errorf("%w within %s", gateway.ErrConnectionTimeout, 10*time.Second)
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure on a handshake timeout")
	}

	// The wrapped sentinel must still classify as a timeout, not a
	// generic connection failure.
	types := f.errorTypes(t)
	if !hasErrorType(types, errlog.ConnectionTimeout) {
		t.Fatal("expected a CONNECTION_TIMEOUT entry")
	}
	if hasErrorType(types, errlog.ConnectionFailed) {
		t.Fatal("timeout must not be logged as CONNECTION_FAILED")
	}
	left, _ := f.queue.List(context.Background())
	if len(left) != 1 {
		t.Fatalf("trade must stay queued for a retry, %d queued", len(left))
	}
}

// stuckMutex never acquires, as if another process held the file lock past
// the retry budget.
type stuckMutex struct{}

func (stuckMutex) Acquire(ctx context.Context) error { return locking.ErrLockTimeout }
func (stuckMutex) Release() error                    { return nil }

func TestProcessTrade_LedgerReadFailureIsProcessingError(t *testing.T) {
	gw := newFakeGateway()
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	badLedger := ledger.New(filepath.Join(t.TempDir(), "risk.json"), stuckMutex{})
	f.exec.ledger = badLedger

	// An unreadable ledger must not pass the budget check or evict the
	// trade; it is a processing error and the trade stays queued.
	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure when the ledger cannot be read")
	}

	if !hasErrorType(f.errorTypes(t), errlog.TradeProcessingError) {
		t.Fatal("expected a TRADE_PROCESSING_ERROR entry")
	}
	left, _ := f.queue.List(context.Background())
	if len(left) != 1 {
		t.Fatalf("trade must stay queued, %d queued", len(left))
	}
}

func TestProcessTrade_NoFillKeepsDebit(t *testing.T) {
	gw := newFakeGateway()
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	// The buy is accepted but never fills; no callbacks arrive at all.
	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected failure when nothing fills")
	}

	// The risk stays spent and the trade stays dequeued: orders were
	// working at the exchange and a retry could double the position.
	if risk, _ := f.ledger.Read(context.Background()); risk != 500 {
		t.Fatalf("ledger should hold the debit, got %g", risk)
	}
	left, _ := f.queue.List(context.Background())
	if len(left) != 0 {
		t.Fatalf("trade must not be re-queued, %d queued", len(left))
	}
	if !hasErrorType(f.errorTypes(t), errlog.BuyOrderCompleteFail) {
		t.Fatal("expected a BUY_ORDER_COMPLETE_FAILURE entry")
	}
	if gw.cancelCount() != 1 {
		t.Fatalf("unfilled buy must be cancelled, got %d cancels", gw.cancelCount())
	}
}

func TestProcessTrade_FullFillPlacesAllStops(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusFilled, Filled: 10, Remaining: 0, AvgFillPrice: 150.25})
		}
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if !f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected success on a full fill")
	}

	var stops []placedOrder
	for _, p := range gw.placed {
		if p.order.Action == "SELL" {
			stops = append(stops, p)
		}
	}
	if len(stops) != 3 {
		t.Fatalf("expected 3 sell stops, got %d", len(stops))
	}
	wantShares := []float64{5, 3, 2}
	wantPrices := []float64{150, 145, 140}
	for i, p := range stops {
		if p.order.Quantity != wantShares[i] || p.order.StopPrice != wantPrices[i] {
			t.Errorf("stop %d: got %g shares at $%g, want %g at $%g",
				i, p.order.Quantity, p.order.StopPrice, wantShares[i], wantPrices[i])
		}
	}

	if risk, _ := f.ledger.Read(context.Background()); risk != 500 {
		t.Fatalf("expected $500 risk remaining, got %g", risk)
	}
	if gw.disconnects == 0 {
		t.Fatal("session must be closed after processing")
	}
}

func TestProcessTrade_HealthMirrorsExecution(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusFilled, Filled: 10, Remaining: 0, AvgFillPrice: 150})
		}
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	health := metrics.NewHealthStatus()
	f.exec.Health = health

	if !f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected success")
	}

	if health.LastExecutionAt.IsZero() {
		t.Fatal("completed execution must stamp the health status")
	}
	if health.BrokerConnected {
		t.Fatal("broker session must read as closed once processing ends")
	}
}

func TestProcessTrade_PartialFillScalesStops(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusPartiallyFilled, Filled: 6, Remaining: 4, AvgFillPrice: 150})
		}
	}
	gw.onCancel = func(orderID int) {
		go gw.push(orderID, model.OrderUpdate{Status: model.StatusCancelled, Filled: 6, Remaining: 4, AvgFillPrice: 150})
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if !f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("a partial fill with stops placed is a success")
	}

	// 6 of 10 filled scales the 5/3/2 ladder to 3/1/1.
	var stopShares []float64
	for _, p := range gw.placed {
		if p.order.Action == "SELL" {
			stopShares = append(stopShares, p.order.Quantity)
		}
	}
	want := []float64{3, 1, 1}
	if len(stopShares) != len(want) {
		t.Fatalf("expected %d stops, got %d", len(want), len(stopShares))
	}
	for i := range want {
		if stopShares[i] != want[i] {
			t.Errorf("stop %d: got %g shares, want %g", i, stopShares[i], want[i])
		}
	}

	left, _ := f.queue.List(context.Background())
	if len(left) != 0 {
		t.Fatalf("trade should be consumed, %d queued", len(left))
	}
	if risk, _ := f.ledger.Read(context.Background()); risk != 500 {
		t.Fatalf("expected $500 risk remaining, got %g", risk)
	}
}

func TestProcessTrade_AllStopsFailedIsFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusFilled, Filled: 10, Remaining: 0, AvgFillPrice: 150})
			// Every subsequent placement is rejected.
			gw.mu.Lock()
			gw.placeErr = context.DeadlineExceeded
			gw.mu.Unlock()
		}
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("an unprotected position must be reported as a failure")
	}

	types := f.errorTypes(t)
	if !hasErrorType(types, errlog.SellStopOrdersFailed) {
		t.Fatal("expected a SELL_STOP_ORDERS_FAILED entry")
	}
	if !hasErrorType(types, errlog.TradeProcessingError) {
		t.Fatal("expected the failure to surface as TRADE_PROCESSING_ERROR")
	}
}

func TestProcessTrade_CaseInsensitiveLookup(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusFilled, Filled: 10, Remaining: 0, AvgFillPrice: 150})
		}
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	if !f.exec.ProcessTrade(context.Background(), strings.ToLower("AAPL"), 145, 155) {
		t.Fatal("lookup must be case insensitive")
	}
}

func TestProcessTrade_JournalRecordsAttempt(t *testing.T) {
	gw := newFakeGateway()
	gw.onPlace = func(orderID int, _ gateway.ContractSpec, order gateway.OrderSpec) {
		if order.Action == "BUY" {
			go gw.push(orderID, model.OrderUpdate{Status: model.StatusFilled, Filled: 10, Remaining: 0, AvgFillPrice: 150.25})
		}
	}
	f := newExecutorFixture(t, gw)
	f.addSampleTrade(t)

	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()
	f.exec.Journal = j

	if !f.exec.ProcessTrade(context.Background(), "AAPL", 145, 155) {
		t.Fatal("expected success")
	}

	recs, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 journal record, got %d", len(recs))
	}
	r := recs[0]
	if r.Ticker != "AAPL" || r.PlannedShares != 10 || r.FilledShares != 10 || r.AvgFillPrice != 150.25 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.TraceID == "" {
		t.Fatal("journal record must carry the trace id")
	}
	if _, err := time.Parse(time.RFC3339, r.ExecutedAt); err != nil {
		t.Fatalf("executed_at not RFC3339: %v", err)
	}
}
