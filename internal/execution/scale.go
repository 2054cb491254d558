package execution

import (
	"math"

	"trade-executorv1/internal/model"
)

// ScaleStops resizes a stop ladder for the shares actually bought. Each
// stop's shares become floor(shares * filled/planned), so rounding can only
// shrink the total allocation, never oversell the position. Stops that
// floor to zero are kept in the result with zero shares; the caller skips
// them (and logs the skip).
func ScaleStops(stops []model.SellStop, filledShares, plannedShares float64) []model.SellStop {
	scaleFactor := filledShares / plannedShares

	scaled := make([]model.SellStop, len(stops))
	for i, s := range stops {
		scaled[i] = model.SellStop{
			Price:  s.Price,
			Shares: math.Floor(s.Shares * scaleFactor),
		}
	}
	return scaled
}

// RoundToTick snaps a price to the contract's minimum price increment.
// Stop prices at an invalid tick get rejected by the brokerage, so they are
// rounded to the nearest valid tick before placement.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
