// Package trigger contains the pure decision logic for protective position
// exits: stop-loss, take-profit and trailing-stop evaluation. Functions here
// have no side effects and evaluate each position independently.
package trigger

import (
	"github.com/papertrade-sim/internal/models"
)

// Kind identifies which protective exit fired for a price sample
type Kind string

const (
	KindNone         Kind = ""
	KindStopLoss     Kind = "stop_loss"
	KindTakeProfit   Kind = "take_profit"
	KindTrailingStop Kind = "trailing_stop"
)

// CloseReason maps a trigger kind to its close reason
func (k Kind) CloseReason() models.CloseReason {
	switch k {
	case KindStopLoss:
		return models.CloseReasonStopLoss
	case KindTakeProfit:
		return models.CloseReasonTakeProfit
	case KindTrailingStop:
		return models.CloseReasonTrailingStop
	default:
		return models.CloseReasonManual
	}
}

// ShouldTriggerStopLoss reports whether the stop-loss condition is satisfied.
// A nil stopLoss never triggers. The boundary is inclusive:
//
//	LONG:  currentPrice <= stopLoss
//	SHORT: currentPrice >= stopLoss
func ShouldTriggerStopLoss(side models.PositionSide, currentPrice float64, stopLoss *float64) bool {
	if stopLoss == nil {
		return false
	}
	if side == models.PositionSideLong {
		return currentPrice <= *stopLoss
	}
	return currentPrice >= *stopLoss
}

// ShouldTriggerTakeProfit reports whether the take-profit condition is
// satisfied. A nil takeProfit never triggers. The boundary is inclusive:
//
//	LONG:  currentPrice >= takeProfit
//	SHORT: currentPrice <= takeProfit
func ShouldTriggerTakeProfit(side models.PositionSide, currentPrice float64, takeProfit *float64) bool {
	if takeProfit == nil {
		return false
	}
	if side == models.PositionSideLong {
		return currentPrice >= *takeProfit
	}
	return currentPrice <= *takeProfit
}

// shouldTriggerTrailing reports whether the derived trailing stop level is
// breached. A position without an established trailing stop never triggers.
func shouldTriggerTrailing(side models.PositionSide, currentPrice float64, trailingStop *float64) bool {
	if trailingStop == nil {
		return false
	}
	if side == models.PositionSideLong {
		return currentPrice <= *trailingStop
	}
	return currentPrice >= *trailingStop
}

// Evaluate decides which protective exit, if any, fires for one position at
// one price sample. Stop-loss is checked before take-profit: when
// misconfigured thresholds make both satisfiable at a single price, the
// protective exit wins.
func Evaluate(p *models.Position, currentPrice float64) Kind {
	if ShouldTriggerStopLoss(p.Side, currentPrice, p.StopLoss) {
		return KindStopLoss
	}
	if ShouldTriggerTakeProfit(p.Side, currentPrice, p.TakeProfit) {
		return KindTakeProfit
	}
	if p.TrailingEnabled && shouldTriggerTrailing(p.Side, currentPrice, p.TrailingStop) {
		return KindTrailingStop
	}
	return KindNone
}
