package execution

import (
	"context"
	"log"
	"time"

	"trade-executorv1/internal/gateway"
	"trade-executorv1/internal/model"
)

// FillOutcome is what AwaitFill learned about an order by the time it
// stopped waiting. Success means some shares filled, regardless of whether
// the order reached a clean terminal state: a stalled partial fill still
// needs its stop orders placed downstream.
type FillOutcome struct {
	Success         bool
	FilledShares    float64
	RemainingShares float64
	AvgPrice        float64
	Status          model.OrderStatus
	Cancelled       bool
}

// FullFill reports whether the order filled the full expected quantity.
func (o FillOutcome) FullFill(expected float64) bool {
	return o.FilledShares >= expected
}

// FillMonitor waits on one order's callbacks with a total timeout and a
// stall-detection sub-timeout.
type FillMonitor struct {
	gw gateway.Gateway

	// TotalTimeout bounds the whole wait (120s default for market buys).
	TotalTimeout time.Duration

	// StallTimeout is how long a partially filled order may make no
	// progress before the monitor gives up and cancels.
	StallTimeout time.Duration

	// PollSlice is the wait granularity; a slice with no callback counts
	// as no progress.
	PollSlice time.Duration

	// CancelConfirmTimeout bounds the wait for a confirming callback after
	// a cancel is issued. The monitor never blocks indefinitely: it reports
	// whatever fill state it knows when this expires.
	CancelConfirmTimeout time.Duration
}

// NewFillMonitor creates a monitor with the standard market-order policy.
func NewFillMonitor(gw gateway.Gateway) *FillMonitor {
	return &FillMonitor{
		gw:                   gw,
		TotalTimeout:         120 * time.Second,
		StallTimeout:         30 * time.Second,
		PollSlice:            5 * time.Second,
		CancelConfirmTimeout: 10 * time.Second,
	}
}

// orderRecord is the monitor's running view of the order, updated by every
// callback and discarded when AwaitFill returns.
type orderRecord struct {
	status    model.OrderStatus
	filled    float64
	remaining float64
	avgPrice  float64
}

func (r *orderRecord) apply(u model.OrderUpdate) {
	if u.ErrorMsg != "" {
		// Error callbacks wake the waiter but carry no fill state.
		return
	}
	if u.Status != "" {
		r.status = u.Status
	}
	// Filled is cumulative; duplicates and reordered callbacks must never
	// walk the quantity backwards.
	if u.Filled > r.filled {
		r.filled = u.Filled
		r.remaining = u.Remaining
		r.avgPrice = u.AvgFillPrice
	} else if u.Status.Terminal() {
		r.remaining = u.Remaining
		if u.AvgFillPrice > 0 {
			r.avgPrice = u.AvgFillPrice
		}
	}
}

// AwaitFill blocks until the order fills, cancels, stalls, or times out.
//
// State machine: Waiting -> {Filled, Cancelled, StalledPartial, TimedOut}.
// On stall or timeout the monitor issues exactly one cancel and waits a
// bounded time for confirmation before reporting the known fill state.
func (m *FillMonitor) AwaitFill(ctx context.Context, orderID int, expectedShares float64) FillOutcome {
	updates := m.gw.Updates(orderID)
	defer m.gw.Release(orderID)

	log.Printf("[monitor] waiting for order %d to fill %g shares (timeout %s)", orderID, expectedShares, m.TotalTimeout)

	rec := &orderRecord{status: model.StatusSubmitted, remaining: expectedShares}
	lastFilled := 0.0
	lastProgress := time.Now()

	total := time.NewTimer(m.TotalTimeout)
	defer total.Stop()

	for {
		slice := time.NewTimer(m.PollSlice)

		select {
		case u := <-updates:
			slice.Stop()
			rec.apply(u)

			if rec.filled > lastFilled {
				lastFilled = rec.filled
				lastProgress = time.Now()
				log.Printf("[monitor] progress: %g/%g shares filled at avg $%g", rec.filled, expectedShares, rec.avgPrice)
			}

			switch rec.status {
			case model.StatusFilled:
				log.Printf("[monitor] order %d fully filled: %g shares at $%g", orderID, rec.filled, rec.avgPrice)
				return FillOutcome{
					Success:      true,
					FilledShares: rec.filled,
					AvgPrice:     rec.avgPrice,
					Status:       model.StatusFilled,
				}
			case model.StatusCancelled:
				log.Printf("[monitor] order %d cancelled: %g filled, %g remaining", orderID, rec.filled, rec.remaining)
				return FillOutcome{
					Success:         rec.filled > 0,
					FilledShares:    rec.filled,
					RemainingShares: rec.remaining,
					AvgPrice:        rec.avgPrice,
					Status:          model.StatusCancelled,
					Cancelled:       true,
				}
			}

		case <-slice.C:
			// Silence counts as no progress; lastProgress stands.

		case <-total.C:
			slice.Stop()
			log.Printf("[monitor] order %d hit total timeout, cancelling", orderID)
			return m.cancelAndReport(orderID, expectedShares, rec, updates)

		case <-ctx.Done():
			slice.Stop()
			log.Printf("[monitor] order %d wait aborted (%v), cancelling", orderID, ctx.Err())
			return m.cancelAndReport(orderID, expectedShares, rec, updates)
		}

		// A partial fill that stops making progress gets cancelled rather
		// than waited out; a completely unfilled order keeps waiting for
		// the full total timeout. Measured as wall time since the last
		// filled-quantity increase, so a stream of duplicate callbacks
		// cannot keep a stalled order alive.
		if rec.filled > 0 && rec.filled < expectedShares && time.Since(lastProgress) >= m.StallTimeout {
			log.Printf("[monitor] order %d stalled at %g/%g for %s, cancelling", orderID, rec.filled, expectedShares, time.Since(lastProgress).Round(time.Millisecond))
			return m.cancelAndReport(orderID, expectedShares, rec, updates)
		}
	}
}

// cancelAndReport issues the cancel and waits a bounded time for the
// brokerage to confirm. Whatever is known gets reported either way.
func (m *FillMonitor) cancelAndReport(orderID int, expectedShares float64, rec *orderRecord, updates <-chan model.OrderUpdate) FillOutcome {
	if err := m.gw.CancelOrder(orderID); err != nil {
		log.Printf("[monitor] WARNING: cancel order %d failed: %v", orderID, err)
	}

	confirm := time.NewTimer(m.CancelConfirmTimeout)
	defer confirm.Stop()

	for {
		select {
		case u := <-updates:
			rec.apply(u)
			if rec.status.Terminal() {
				log.Printf("[monitor] order %d confirmed %s: %g filled, %g remaining", orderID, rec.status, rec.filled, rec.remaining)
				return FillOutcome{
					Success:         rec.filled > 0,
					FilledShares:    rec.filled,
					RemainingShares: rec.remaining,
					AvgPrice:        rec.avgPrice,
					Status:          model.StatusCancelled,
					Cancelled:       true,
				}
			}

		case <-confirm.C:
			log.Printf("[monitor] order %d cancellation unconfirmed, reporting known state", orderID)
			remaining := rec.remaining
			if remaining == 0 && rec.filled < expectedShares {
				remaining = expectedShares - rec.filled
			}
			return FillOutcome{
				Success:         rec.filled > 0,
				FilledShares:    rec.filled,
				RemainingShares: remaining,
				AvgPrice:        rec.avgPrice,
				Status:          model.StatusTimeout,
			}
		}
	}
}
