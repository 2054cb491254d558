package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"trade-executorv1/internal/errlog"
	"trade-executorv1/internal/gateway"
	"trade-executorv1/internal/ledger"
	"trade-executorv1/internal/logger"
	"trade-executorv1/internal/markethours"
	"trade-executorv1/internal/metrics"
	"trade-executorv1/internal/model"
	"trade-executorv1/internal/notification"
	"trade-executorv1/internal/queue"
)

const (
	// DefaultStopDelay spaces out consecutive stop-order submissions so the
	// brokerage does not throttle the burst.
	DefaultStopDelay = 500 * time.Millisecond

	// DefaultTickSize is the minimum price increment for US equities above $1.
	DefaultTickSize = 0.01
)

// Executor runs the buy-then-protect pipeline for one trade at a time:
// look the trade up, validate it, connect to the brokerage, dequeue it,
// debit the risk ledger, buy at market, wait for the fill, and place the
// (possibly scaled) sell stop ladder.
type Executor struct {
	queue  *queue.Queue
	ledger *ledger.Ledger
	gw     gateway.Gateway
	elog   *errlog.Log

	// Monitor owns the fill-wait policy. Tests shrink its timeouts.
	Monitor *FillMonitor

	// Journal, when set, records every execution attempt that reached the
	// brokerage. Optional.
	Journal *Journal

	// Metrics, when set, receives counters and timings. Optional.
	Metrics *metrics.Metrics

	// Notify, when set, pages out critical execution failures. Optional.
	Notify notification.Notifier

	// Health, when set, mirrors the broker session and last-execution time
	// onto the health endpoint. Optional.
	Health *metrics.HealthStatus

	StopDelay time.Duration
	TickSize  float64
}

// NewExecutor wires an executor with the standard production policy.
func NewExecutor(q *queue.Queue, l *ledger.Ledger, gw gateway.Gateway, elog *errlog.Log) *Executor {
	return &Executor{
		queue:     q,
		ledger:    l,
		gw:        gw,
		elog:      elog,
		Monitor:   NewFillMonitor(gw),
		StopDelay: DefaultStopDelay,
		TickSize:  DefaultTickSize,
	}
}

// ProcessTrade executes the trade identified by ticker and price range and
// reports whether shares were bought. The trade leaves the queue the moment
// it is handed to the brokerage, and its risk amount leaves the ledger with
// it; neither is restored on a downstream failure, because by then real
// orders may be working at the exchange and a retry would double-spend.
//
// A trade that fails validation is evicted from the queue so it cannot
// poison the next run. A trade that never reached the brokerage (lookup or
// connection failure) stays queued.
func (e *Executor) ProcessTrade(ctx context.Context, ticker string, lower, higher float64) (ok bool) {
	traceID := logger.NewTraceID()
	log.Printf("[executor] trace=%s processing %s range $%g-$%g", traceID, ticker, lower, higher)

	// A market buy placed outside the session sits unfilled until the next
	// open and then executes at whatever the open prints. Warn, don't gate:
	// the operator may be doing exactly that on purpose.
	if !markethours.IsMarketOpen(time.Now()) {
		log.Printf("[executor] trace=%s WARNING: %s", traceID, markethours.StatusString(time.Now()))
	}

	var current *model.Trade
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] trace=%s PANIC: %v", traceID, r)
			e.elog.Append(ctx, errlog.Entry{
				Type:    errlog.TradeProcessingError,
				Ticker:  ticker,
				Message: fmt.Sprintf("unexpected failure while processing trade: %v", r),
				Trade:   current,
				TraceID: traceID,
			})
			e.countResult("failure")
			e.countFailure(errlog.TradeProcessingError)
			e.alert(ctx, notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "trade processing failed",
				Message: fmt.Sprint(r),
				Ticker:  ticker,
				TraceID: traceID,
			})
			ok = false
		}
	}()

	_, trade, err := e.queue.Find(ctx, ticker, lower, higher)
	if err != nil {
		log.Printf("[executor] trace=%s no queued trade matches %s $%g-$%g", traceID, ticker, lower, higher)
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.TradeNotFound,
			Ticker:  ticker,
			Message: fmt.Sprintf("no queued trade for %s with range $%.2f-$%.2f", ticker, lower, higher),
			TraceID: traceID,
		})
		return e.fail(errlog.TradeNotFound)
	}
	current = &trade

	vErr := trade.Validate()
	if vErr == nil {
		available, lErr := e.ledger.Read(ctx)
		if lErr != nil {
			// An unreadable ledger must not pass as an affordable trade.
			panic(fmt.Sprintf("risk ledger read failed during validation: %v", lErr))
		}
		if trade.RiskAmount > available {
			vErr = fmt.Errorf("risk amount $%g exceeds available risk $%g", trade.RiskAmount, available)
		}
	}
	if vErr != nil {
		// Evict it. A malformed or unaffordable trade would fail
		// identically on every future run and block the queue forever.
		if _, rmErr := e.queue.Remove(ctx, ticker, lower, higher); rmErr != nil {
			log.Printf("[executor] trace=%s WARNING: failed to evict invalid trade: %v", traceID, rmErr)
		}
		log.Printf("[executor] trace=%s trade %s invalid, evicted: %v", traceID, trade.Ticker, vErr)
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.TradeValidationFail,
			Ticker:  trade.Ticker,
			Message: vErr.Error(),
			Trade:   &trade,
			TraceID: traceID,
		})
		return e.fail(errlog.TradeValidationFail)
	}

	if err := e.gw.Connect(ctx); err != nil {
		kind := errlog.ConnectionFailed
		if errors.Is(err, gateway.ErrConnectionTimeout) {
			kind = errlog.ConnectionTimeout
		}
		log.Printf("[executor] trace=%s brokerage connection failed: %v", traceID, err)
		e.elog.Append(ctx, errlog.Entry{
			Type:    kind,
			Ticker:  trade.Ticker,
			Message: err.Error(),
			Trade:   &trade,
			TraceID: traceID,
		})
		return e.fail(kind)
	}
	e.setBrokerConnected(true)
	defer func() {
		e.gw.Disconnect()
		e.setBrokerConnected(false)
	}()

	// Past this point the trade is spent: out of the queue, risk debited.
	if _, err := e.queue.Remove(ctx, ticker, lower, higher); err != nil {
		log.Printf("[executor] trace=%s trade vanished from queue before execution: %v", traceID, err)
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.TradeNotFound,
			Ticker:  trade.Ticker,
			Message: "trade removed from queue by another process before execution",
			Trade:   &trade,
			TraceID: traceID,
		})
		return e.fail(errlog.TradeNotFound)
	}

	lockStart := time.Now()
	remaining, err := e.ledger.Debit(ctx, trade.RiskAmount)
	if err != nil {
		panic(fmt.Sprintf("risk ledger debit failed: %v", err))
	}
	e.observeLockWait(time.Since(lockStart))
	log.Printf("[executor] trace=%s debited $%g risk, $%g remaining", traceID, trade.RiskAmount, remaining)

	outcome, buyErr := e.placeBuy(ctx, traceID, trade)
	if !outcome.Success {
		return e.fail(buyErr)
	}

	e.placeStopLadder(ctx, traceID, trade, outcome)
	e.countResult("success")
	e.markExecuted()
	log.Printf("[executor] trace=%s trade %s complete: %g/%g shares", traceID, trade.Ticker, outcome.FilledShares, trade.Shares)
	return true
}

// placeBuy submits the market buy and waits for its fill. The outcome is
// journaled whether or not anything filled. On failure the returned type
// says whether the order was rejected outright or filled nothing.
func (e *Executor) placeBuy(ctx context.Context, traceID string, trade model.Trade) (FillOutcome, errlog.Type) {
	orderID := e.gw.NextOrderID()
	contract := gateway.StockContract(trade.Ticker)

	log.Printf("[executor] trace=%s placing market buy %d: %g %s", traceID, orderID, trade.Shares, trade.Ticker)
	if err := e.gw.PlaceOrder(orderID, contract, gateway.MarketOrder("BUY", trade.Shares)); err != nil {
		log.Printf("[executor] trace=%s buy order %d rejected: %v", traceID, orderID, err)
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.BuyOrderFailed,
			Ticker:  trade.Ticker,
			Message: err.Error(),
			Trade:   &trade,
			Detail:  map[string]any{"order_id": orderID},
			TraceID: traceID,
		})
		return FillOutcome{Status: model.StatusSubmitted}, errlog.BuyOrderFailed
	}
	if e.Metrics != nil {
		e.Metrics.BuyOrdersPlaced.Inc()
	}

	waitStart := time.Now()
	outcome := e.Monitor.AwaitFill(ctx, orderID, trade.Shares)
	if e.Metrics != nil {
		e.Metrics.FillWaitDur.Observe(time.Since(waitStart).Seconds())
		if outcome.Cancelled {
			e.Metrics.CancelsIssued.Inc()
		}
		if outcome.Success && !outcome.FullFill(trade.Shares) {
			e.Metrics.PartialFills.Inc()
		}
	}

	e.journal(ctx, ExecutionRecord{
		TraceID:         traceID,
		OrderID:         orderID,
		Ticker:          trade.Ticker,
		PlannedShares:   trade.Shares,
		FilledShares:    outcome.FilledShares,
		RemainingShares: outcome.RemainingShares,
		AvgFillPrice:    outcome.AvgPrice,
		Status:          string(outcome.Status),
	})

	if !outcome.Success {
		log.Printf("[executor] trace=%s buy order %d filled nothing", traceID, orderID)
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.BuyOrderNoFill,
			Ticker:  trade.Ticker,
			Message: fmt.Sprintf("no fill within %s", e.Monitor.TotalTimeout),
			Detail:  map[string]any{"order_id": orderID},
			TraceID: traceID,
		})
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.BuyOrderCompleteFail,
			Ticker:  trade.Ticker,
			Message: fmt.Sprintf("buy order filled 0 of %g shares before timeout", trade.Shares),
			Trade:   &trade,
			Detail:  map[string]any{"order_id": orderID, "status": string(outcome.Status)},
			TraceID: traceID,
		})
		return outcome, errlog.BuyOrderCompleteFail
	}
	return outcome, ""
}

// placeStopLadder submits the sell stops sized for the shares actually
// bought. Individual failures are logged and skipped; only a ladder where
// every attempted stop fails aborts via panic, because the position is then
// completely unprotected.
func (e *Executor) placeStopLadder(ctx context.Context, traceID string, trade model.Trade, outcome FillOutcome) {
	stops := trade.SellStops
	if !outcome.FullFill(trade.Shares) {
		stops = ScaleStops(stops, outcome.FilledShares, trade.Shares)
		log.Printf("[executor] trace=%s partial fill %g/%g, stop ladder scaled", traceID, outcome.FilledShares, trade.Shares)
	}

	attempted, failed := 0, 0
	for i, stop := range stops {
		if stop.Shares <= 0 {
			log.Printf("[executor] trace=%s skipping stop %d at $%g: scaled to zero shares", traceID, i+1, stop.Price)
			if e.Metrics != nil {
				e.Metrics.StopOrdersSkipped.Inc()
			}
			continue
		}
		if attempted > 0 && e.StopDelay > 0 {
			time.Sleep(e.StopDelay)
		}
		attempted++

		orderID := e.gw.NextOrderID()
		price := RoundToTick(stop.Price, e.TickSize)
		log.Printf("[executor] trace=%s placing sell stop %d: %g %s at $%g", traceID, orderID, stop.Shares, trade.Ticker, price)
		if err := e.gw.PlaceOrder(orderID, gateway.StockContract(trade.Ticker), gateway.StopOrder("SELL", stop.Shares, price)); err != nil {
			failed++
			log.Printf("[executor] trace=%s sell stop %d failed: %v", traceID, orderID, err)
			e.elog.Append(ctx, errlog.Entry{
				Type:    errlog.SellStopOrderFailed,
				Ticker:  trade.Ticker,
				Message: err.Error(),
				Trade:   &trade,
				Detail:  map[string]any{"order_id": orderID, "stop_price": price, "stop_shares": stop.Shares},
				TraceID: traceID,
			})
			if e.Metrics != nil {
				e.Metrics.StopOrdersFailed.Inc()
			}
			continue
		}
		if e.Metrics != nil {
			e.Metrics.StopOrdersPlaced.Inc()
		}
	}

	if attempted > 0 && failed == attempted {
		e.elog.Append(ctx, errlog.Entry{
			Type:    errlog.SellStopOrdersFailed,
			Ticker:  trade.Ticker,
			Message: fmt.Sprintf("all %d sell stop orders failed, position is unprotected", attempted),
			Trade:   &trade,
			TraceID: traceID,
		})
		e.alert(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "position is unprotected",
			Message: fmt.Sprintf("%g shares bought but every sell stop failed", outcome.FilledShares),
			Ticker:  trade.Ticker,
			TraceID: traceID,
		})
		panic(fmt.Sprintf("every sell stop for %s failed", trade.Ticker))
	}
}

func (e *Executor) fail(reason errlog.Type) bool {
	e.countResult("failure")
	e.countFailure(reason)
	return false
}

func (e *Executor) countResult(result string) {
	if e.Metrics != nil {
		e.Metrics.TradesProcessed.WithLabelValues(result).Inc()
	}
}

func (e *Executor) countFailure(reason errlog.Type) {
	if e.Metrics != nil {
		e.Metrics.TradeFailures.WithLabelValues(string(reason)).Inc()
	}
}

func (e *Executor) observeLockWait(d time.Duration) {
	if e.Metrics != nil {
		e.Metrics.LockWaitDur.Observe(d.Seconds())
	}
}

func (e *Executor) setBrokerConnected(v bool) {
	if e.Health != nil {
		e.Health.SetBrokerConnected(v)
	}
}

func (e *Executor) markExecuted() {
	if e.Health != nil {
		e.Health.SetLastExecution(time.Now())
	}
}

func (e *Executor) alert(ctx context.Context, a notification.Alert) {
	if e.Notify != nil {
		e.Notify.Send(ctx, a)
	}
}

func (e *Executor) journal(ctx context.Context, rec ExecutionRecord) {
	if e.Journal == nil {
		return
	}
	if err := e.Journal.Record(ctx, rec); err != nil {
		log.Printf("[executor] WARNING: journal write failed: %v", err)
	}
}
