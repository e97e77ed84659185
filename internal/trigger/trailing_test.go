package trigger

import (
	"math/rand"
	"testing"

	"github.com/papertrade-sim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrailingLong(distance float64) *models.Position {
	return &models.Position{
		Side:             models.PositionSideLong,
		EntryPrice:       1.0900,
		Quantity:         1,
		TrailingEnabled:  true,
		TrailingDistance: ptr(distance),
	}
}

func newTrailingShort(distance float64) *models.Position {
	return &models.Position{
		Side:             models.PositionSideShort,
		EntryPrice:       1.0900,
		Quantity:         1,
		TrailingEnabled:  true,
		TrailingDistance: ptr(distance),
	}
}

func TestUpdateTrailingLongRatchet(t *testing.T) {
	p := newTrailingLong(0.0010)

	// First sample establishes the ratchet.
	assert.True(t, UpdateTrailing(p, 1.0900))
	require.NotNil(t, p.HighestPrice)
	require.NotNil(t, p.TrailingStop)
	assert.InDelta(t, 1.0900, *p.HighestPrice, 1e-9)
	assert.InDelta(t, 1.0890, *p.TrailingStop, 1e-9)

	// Favorable move advances both.
	assert.True(t, UpdateTrailing(p, 1.0950))
	assert.InDelta(t, 1.0950, *p.HighestPrice, 1e-9)
	assert.InDelta(t, 1.0940, *p.TrailingStop, 1e-9)

	// Adverse move leaves the ratchet untouched.
	assert.False(t, UpdateTrailing(p, 1.0945))
	assert.InDelta(t, 1.0950, *p.HighestPrice, 1e-9)
	assert.InDelta(t, 1.0940, *p.TrailingStop, 1e-9)
}

func TestUpdateTrailingShortRatchet(t *testing.T) {
	p := newTrailingShort(0.0010)

	assert.True(t, UpdateTrailing(p, 1.0900))
	assert.InDelta(t, 1.0900, *p.LowestPrice, 1e-9)
	assert.InDelta(t, 1.0910, *p.TrailingStop, 1e-9)

	assert.True(t, UpdateTrailing(p, 1.0850))
	assert.InDelta(t, 1.0850, *p.LowestPrice, 1e-9)
	assert.InDelta(t, 1.0860, *p.TrailingStop, 1e-9)

	// Stale higher sample is ignored.
	assert.False(t, UpdateTrailing(p, 1.0880))
	assert.InDelta(t, 1.0860, *p.TrailingStop, 1e-9)
}

func TestUpdateTrailingDisabled(t *testing.T) {
	p := &models.Position{Side: models.PositionSideLong, EntryPrice: 100}
	assert.False(t, UpdateTrailing(p, 110))
	assert.Nil(t, p.HighestPrice)

	p.TrailingEnabled = true // distance missing
	assert.False(t, UpdateTrailing(p, 110))
	assert.Nil(t, p.TrailingStop)
}

// Long with distance 0.0010 starting at 1.0900: price rises to 1.0950
// (trailing stop 1.0940), then falls to 1.0940 and the stop triggers.
func TestTrailingStopScenario(t *testing.T) {
	p := newTrailingLong(0.0010)

	UpdateTrailing(p, 1.0900)
	assert.Equal(t, KindNone, Evaluate(p, 1.0900))

	UpdateTrailing(p, 1.0950)
	assert.Equal(t, KindNone, Evaluate(p, 1.0950))

	assert.False(t, UpdateTrailing(p, 1.0940))
	assert.Equal(t, KindTrailingStop, Evaluate(p, 1.0940))
}

// A ratchet advance and a trailing trigger cannot both happen on the same
// sample: a new extreme means price moved favorably.
func TestRatchetAdvanceNeverTriggers(t *testing.T) {
	p := newTrailingLong(0.0010)
	prices := []float64{1.0900, 1.0920, 1.0955, 1.1000}

	for _, price := range prices {
		advanced := UpdateTrailing(p, price)
		kind := Evaluate(p, price)
		if advanced {
			assert.Equal(t, KindNone, kind)
		}
	}
}

// Property: over any price sequence the highest price is non-decreasing for
// longs, the lowest non-increasing for shorts, and the trailing stop only
// moves in the favorable direction once set.
func TestTrailingMonotonicityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		long := newTrailingLong(0.0025)
		short := newTrailingShort(0.0025)

		var prevHigh, prevLow, prevLongStop, prevShortStop *float64

		for sample := 0; sample < 100; sample++ {
			price := 1.0 + rng.Float64()*0.5

			UpdateTrailing(long, price)
			UpdateTrailing(short, price)

			if prevHigh != nil {
				require.GreaterOrEqual(t, *long.HighestPrice, *prevHigh)
				require.GreaterOrEqual(t, *long.TrailingStop, *prevLongStop)
			}
			if prevLow != nil {
				require.LessOrEqual(t, *short.LowestPrice, *prevLow)
				require.LessOrEqual(t, *short.TrailingStop, *prevShortStop)
			}

			if long.HighestPrice != nil {
				h, s := *long.HighestPrice, *long.TrailingStop
				prevHigh, prevLongStop = &h, &s
				require.InDelta(t, h-0.0025, s, 1e-9)
			}
			if short.LowestPrice != nil {
				l, s := *short.LowestPrice, *short.TrailingStop
				prevLow, prevShortStop = &l, &s
				require.InDelta(t, l+0.0025, s, 1e-9)
			}
		}
	}
}
