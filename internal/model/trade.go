// Package model defines the shared domain types for the trade executor:
// queued trades, sell stops, and order status callbacks.
package model

import (
	"fmt"
	"math"
	"strings"
)

// PriceEpsilon is the tolerance used when matching price ranges and when
// checking that sell-stop shares add up to the planned trade size.
const PriceEpsilon = 0.001

// SellStop is one leg of a trade's stop-loss ladder.
type SellStop struct {
	Price  float64 `json:"price"`
	Shares float64 `json:"shares"`
}

// Trade is a pending trade specification as stored in the trade queue.
// Trades are created by the trade-entry tooling, consumed exactly once by
// the executor, and never mutated in place.
type Trade struct {
	Ticker           string     `json:"ticker"`
	Shares           float64    `json:"shares"`
	RiskAmount       float64    `json:"risk_amount"`
	LowerPriceRange  float64    `json:"lower_price_range"`
	HigherPriceRange float64    `json:"higher_price_range"`
	SellStops        []SellStop `json:"sell_stops"`
}

// TotalStopShares returns the sum of shares across all sell stops.
func (t Trade) TotalStopShares() float64 {
	var sum float64
	for _, s := range t.SellStops {
		sum += s.Shares
	}
	return sum
}

// Matches reports whether the trade matches the given lookup criteria:
// case-insensitive ticker and price range equality within PriceEpsilon.
func (t Trade) Matches(ticker string, lower, higher float64) bool {
	return strings.EqualFold(t.Ticker, ticker) &&
		math.Abs(t.LowerPriceRange-lower) < PriceEpsilon &&
		math.Abs(t.HigherPriceRange-higher) < PriceEpsilon
}

// Normalize returns a copy with the ticker trimmed and upper-cased.
func (t Trade) Normalize() Trade {
	t.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	stops := make([]SellStop, len(t.SellStops))
	copy(stops, t.SellStops)
	t.SellStops = stops
	return t
}

// Validate checks the structural invariants of a trade. It is enforced at
// queue insertion; the executor re-checks the stop-shares invariant at
// execution time.
func (t Trade) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	if t.Shares <= 0 {
		return fmt.Errorf("shares must be positive")
	}
	if t.RiskAmount <= 0 {
		return fmt.Errorf("risk amount must be positive")
	}
	if t.LowerPriceRange >= t.HigherPriceRange {
		return fmt.Errorf("lower price must be less than higher price")
	}
	if len(t.SellStops) == 0 {
		return fmt.Errorf("sell stops must be a non-empty list")
	}
	for i, s := range t.SellStops {
		if s.Price <= 0 {
			return fmt.Errorf("sell stop %d: price must be positive", i+1)
		}
		if s.Shares <= 0 {
			return fmt.Errorf("sell stop %d: shares must be positive", i+1)
		}
	}
	if diff := math.Abs(t.TotalStopShares() - t.Shares); diff > PriceEpsilon {
		return fmt.Errorf("sell stop shares (%g) don't match total shares (%g)",
			t.TotalStopShares(), t.Shares)
	}
	return nil
}
