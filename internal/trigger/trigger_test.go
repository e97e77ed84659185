package trigger

import (
	"testing"

	"github.com/papertrade-sim/internal/models"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestShouldTriggerStopLoss(t *testing.T) {
	tests := []struct {
		name     string
		side     models.PositionSide
		price    float64
		stopLoss *float64
		want     bool
	}{
		{"nil stop loss never triggers", models.PositionSideLong, 1.0, nil, false},
		{"long above stop", models.PositionSideLong, 1.0900, ptr(1.0850), false},
		{"long exactly at stop triggers", models.PositionSideLong, 1.0850, ptr(1.0850), true},
		{"long below stop triggers", models.PositionSideLong, 1.0849, ptr(1.0850), true},
		{"short below stop", models.PositionSideShort, 1.0800, ptr(1.0850), false},
		{"short exactly at stop triggers", models.PositionSideShort, 1.0850, ptr(1.0850), true},
		{"short above stop triggers", models.PositionSideShort, 1.0851, ptr(1.0850), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldTriggerStopLoss(tt.side, tt.price, tt.stopLoss)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldTriggerTakeProfit(t *testing.T) {
	tests := []struct {
		name       string
		side       models.PositionSide
		price      float64
		takeProfit *float64
		want       bool
	}{
		{"nil take profit never triggers", models.PositionSideShort, 1.0, nil, false},
		{"long below target", models.PositionSideLong, 1.0999, ptr(1.1000), false},
		{"long exactly at target triggers", models.PositionSideLong, 1.1000, ptr(1.1000), true},
		{"long above target triggers", models.PositionSideLong, 1.1001, ptr(1.1000), true},
		{"short above target", models.PositionSideShort, 1.0851, ptr(1.0850), false},
		{"short exactly at target triggers", models.PositionSideShort, 1.0850, ptr(1.0850), true},
		{"short below target triggers", models.PositionSideShort, 1.0849, ptr(1.0850), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldTriggerTakeProfit(tt.side, tt.price, tt.takeProfit)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Long entry 1.1000, stop loss 1.0850: the sequence 1.0900, 1.0870, 1.0849
// must only trigger on the third sample.
func TestStopLossSequence(t *testing.T) {
	p := &models.Position{
		Side:       models.PositionSideLong,
		EntryPrice: 1.1000,
		StopLoss:   ptr(1.0850),
	}

	assert.Equal(t, KindNone, Evaluate(p, 1.0900))
	assert.Equal(t, KindNone, Evaluate(p, 1.0870))
	assert.Equal(t, KindStopLoss, Evaluate(p, 1.0849))
}

func TestShortTakeProfitExactBoundary(t *testing.T) {
	p := &models.Position{
		Side:       models.PositionSideShort,
		EntryPrice: 1.1000,
		TakeProfit: ptr(1.0850),
	}

	assert.Equal(t, KindNone, Evaluate(p, 1.0851))
	assert.Equal(t, KindTakeProfit, Evaluate(p, 1.0850))
}

// When thresholds are misconfigured so that one price satisfies both
// conditions, the protective stop-loss must win.
func TestStopLossPriorityOverTakeProfit(t *testing.T) {
	p := &models.Position{
		Side:       models.PositionSideLong,
		EntryPrice: 1.1000,
		StopLoss:   ptr(1.1100), // wrong side of entry
		TakeProfit: ptr(1.0900), // wrong side of entry
	}

	assert.Equal(t, KindStopLoss, Evaluate(p, 1.1000))
}

func TestEvaluateIndependentOfOtherPositions(t *testing.T) {
	a := &models.Position{Side: models.PositionSideLong, StopLoss: ptr(1.0)}
	b := &models.Position{Side: models.PositionSideLong, StopLoss: ptr(2.0)}

	assert.Equal(t, KindStopLoss, Evaluate(a, 0.9))
	assert.Equal(t, KindNone, Evaluate(b, 2.5))
}

func TestEvaluateClosedFieldsAbsent(t *testing.T) {
	p := &models.Position{Side: models.PositionSideShort, EntryPrice: 100}
	assert.Equal(t, KindNone, Evaluate(p, 0))
	assert.Equal(t, KindNone, Evaluate(p, 1e9))
}
