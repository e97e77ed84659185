package trigger

import (
	"github.com/papertrade-sim/internal/models"
)

// UpdateTrailing applies one price sample to a position's trailing-stop
// ratchet. For a long position the highest seen price only ever increases;
// when it does, the trailing stop is recomputed to highest - distance.
// Short positions are symmetric with the lowest seen price and + distance.
//
// Stale (out-of-order) samples are ignored by the monotonic comparisons, so
// the trailing stop never moves against the position once set.
//
// It returns true when the ratchet advanced and the position must be
// persisted. Callers check the trigger condition separately via Evaluate; a
// ratchet advance and a trailing trigger are mutually exclusive for a single
// sample, but both are always evaluated explicitly.
func UpdateTrailing(p *models.Position, currentPrice float64) bool {
	if !p.TrailingEnabled || p.TrailingDistance == nil || *p.TrailingDistance <= 0 {
		return false
	}

	if p.Side == models.PositionSideLong {
		if p.HighestPrice == nil || currentPrice > *p.HighestPrice {
			high := currentPrice
			stop := currentPrice - *p.TrailingDistance
			p.HighestPrice = &high
			p.TrailingStop = &stop
			return true
		}
		return false
	}

	if p.LowestPrice == nil || currentPrice < *p.LowestPrice {
		low := currentPrice
		stop := currentPrice + *p.TrailingDistance
		p.LowestPrice = &low
		p.TrailingStop = &stop
		return true
	}
	return false
}
