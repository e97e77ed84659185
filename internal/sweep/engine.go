package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/service"
	"github.com/papertrade-sim/internal/trigger"
	"github.com/papertrade-sim/pkg/keygen"
	"golang.org/x/sync/errgroup"
)

// errSkipPosition aborts the locked update without treating it as a failure.
var errSkipPosition = errors.New("skip position")

// PositionSource is the slice of the position repository the engine needs.
type PositionSource interface {
	GetOpenWithProtection() ([]models.Position, error)
	UpdateWithLock(id uint, updateFn func(*models.Position) error) error
}

// AccountLookup resolves the owning user for notifications.
type AccountLookup interface {
	GetByID(id uint) (*models.Account, error)
}

// Report summarizes one sweep pass.
type Report struct {
	Checked   int           `json:"checked"`
	Triggered int           `json:"triggered"`
	Settled   int           `json:"settled"`
	Replayed  int           `json:"replayed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

// Engine runs one sweep over every open position with protective exits:
// sample the price, advance the trailing ratchet, evaluate triggers and
// settle whatever fired. Positions are independent; a failure on one never
// stops the others, and a price fetch failure only skips its position.
type Engine struct {
	positions   PositionSource
	accounts    AccountLookup
	market      service.PriceSource
	settlement  service.Closer
	notifier    service.Notifier
	dedup       *Dedup
	concurrency int

	mu sync.Mutex // guards the in-flight report
}

// NewEngine creates a sweep engine. concurrency bounds how many positions
// are processed in parallel; values below 1 fall back to 1.
func NewEngine(
	positions PositionSource,
	accounts AccountLookup,
	market service.PriceSource,
	settlement service.Closer,
	notifier service.Notifier,
	dedup *Dedup,
	concurrency int,
) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		positions:   positions,
		accounts:    accounts,
		market:      market,
		settlement:  settlement,
		notifier:    notifier,
		dedup:       dedup,
		concurrency: concurrency,
	}
}

// Run executes one sweep pass and returns its report. Only loading the
// working set can fail; per-position problems are counted, logged and
// absorbed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	positions, err := e.positions.GetOpenWithProtection()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	report := &Report{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range positions {
		position := positions[i]
		g.Go(func() error {
			e.sweepOne(ctx, &position, report)
			return nil
		})
	}
	// Workers never return errors, so Wait only reflects ctx cancellation.
	_ = g.Wait()

	report.Duration = time.Since(start)
	if report.Triggered > 0 || report.Errors > 0 {
		log.Printf("[Sweep] checked=%d triggered=%d settled=%d replayed=%d skipped=%d errors=%d in %s",
			report.Checked, report.Triggered, report.Settled, report.Replayed,
			report.Skipped, report.Errors, report.Duration)
	}
	return report, nil
}

// sweepOne processes a single position against one price sample.
func (e *Engine) sweepOne(ctx context.Context, position *models.Position, report *Report) {
	e.count(report, func(r *Report) { r.Checked++ })

	if ctx.Err() != nil {
		e.count(report, func(r *Report) { r.Skipped++ })
		return
	}

	price, err := e.market.GetPrice(position.Symbol)
	if err != nil {
		// No price sample means no decision this pass, never a trigger.
		log.Printf("[Sweep] position %d: price fetch for %s failed: %v", position.ID, position.Symbol, err)
		e.count(report, func(r *Report) { r.Skipped++ })
		return
	}
	sampledAt := time.Now()

	// Ratchet and evaluation run on fresh state under the row lock so a
	// concurrent manual close or protection change cannot slip in between.
	var kind trigger.Kind
	err = e.positions.UpdateWithLock(position.ID, func(p *models.Position) error {
		if !p.IsOpen() || !p.HasProtection() {
			return errSkipPosition
		}
		trigger.UpdateTrailing(p, price)
		kind = trigger.Evaluate(p, price)
		*position = *p
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipPosition) {
			e.count(report, func(r *Report) { r.Skipped++ })
		} else {
			log.Printf("[Sweep] position %d: update failed: %v", position.ID, err)
			e.count(report, func(r *Report) { r.Errors++ })
		}
		return
	}

	if kind == trigger.KindNone {
		return
	}
	e.count(report, func(r *Report) { r.Triggered++ })

	dedupKey := fmt.Sprintf("%d:%s", position.ID, kind)
	if e.dedup != nil && e.dedup.IsDuplicate(dedupKey) {
		e.count(report, func(r *Report) { r.Skipped++ })
		return
	}

	result, err := e.settlement.ClosePosition(ctx, &service.CloseRequest{
		PositionID:     position.ID,
		Price:          price,
		IdempotencyKey: keygen.SweepIdempotencyKey(position.ID, string(kind), sampledAt),
		Reason:         kind.CloseReason(),
	})
	if err != nil {
		if errors.Is(err, service.ErrPositionClosed) {
			// Lost the race to a manual close.
			e.count(report, func(r *Report) { r.Skipped++ })
			return
		}
		log.Printf("[Sweep] position %d: settlement failed: %v", position.ID, err)
		if e.dedup != nil {
			e.dedup.Forget(dedupKey)
		}
		e.count(report, func(r *Report) { r.Errors++ })
		return
	}

	if result.Replayed {
		e.count(report, func(r *Report) { r.Replayed++ })
	} else {
		e.count(report, func(r *Report) { r.Settled++ })
		log.Printf("[Sweep] position %d closed: reason=%s price=%.8f pnl=%.8f",
			position.ID, kind, result.ClosePrice, result.RealizedPnL)
	}

	e.notify(ctx, position, kind, result)
}

// notify tells the position owner about the triggered close. Best effort.
func (e *Engine) notify(ctx context.Context, position *models.Position, kind trigger.Kind, result *service.CloseResult) {
	if e.notifier == nil {
		return
	}
	account, err := e.accounts.GetByID(position.AccountID)
	if err != nil {
		log.Printf("[Sweep] position %d: account lookup for notification failed: %v", position.ID, err)
		return
	}

	title := "Position closed"
	message := fmt.Sprintf("%s %s closed by %s at %.8f (PnL %.2f)",
		position.Symbol, position.Side, kind, result.ClosePrice, result.RealizedPnL)
	e.notifier.Notify(ctx, account.UserID, models.NotificationPositionClosed, title, message, map[string]interface{}{
		"position_id":  position.ID,
		"symbol":       position.Symbol,
		"reason":       string(kind),
		"close_price":  result.ClosePrice,
		"realized_pnl": result.RealizedPnL,
	})
}

func (e *Engine) count(report *Report, fn func(*Report)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(report)
}
