package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/models"
)

// PriceSource reports the latest price of a trading pair
type PriceSource interface {
	LatestPrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// TriggerPolicy decides whether a pending conditional order fills at price
type TriggerPolicy interface {
	ShouldFill(order models.Order, price decimal.Decimal) bool
}

// NoTrigger never fires. Trigger semantics for LIMIT, STOP_LOSS and
// TAKE_PROFIT orders are not defined, so pending orders stay pending.
type NoTrigger struct{}

func (NoTrigger) ShouldFill(models.Order, decimal.Decimal) bool { return false }

// Outcome of handling one pending order
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFilled   Outcome = "filled"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// SweepResult counts the outcomes of one sweep
type SweepResult struct {
	Checked  int
	Filled   int
	Rejected int
	Errors   int
}

// Worker polls pending conditional orders and settles the ones its policy fires on
type Worker struct {
	Service  *Service
	Prices   PriceSource
	Policy   TriggerPolicy
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
}

// NewWorker creates a worker with the NoTrigger policy
func NewWorker(svc *Service, prices PriceSource, interval time.Duration) *Worker {
	return &Worker{
		Service:  svc,
		Prices:   prices,
		Policy:   NoTrigger{},
		Interval: interval,
		Batch:    100,
		Logger:   slog.Default(),
	}
}

// Run sweeps on every tick until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		return errors.New("settlement worker interval must be positive")
	}
	w.Logger.Info("settlement worker started", "interval", w.Interval, "policy", fmt.Sprintf("%T", w.Policy))

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("settlement worker stopped")
			return nil
		case <-ticker.C:
			result, err := w.Sweep(ctx)
			if err != nil {
				w.Logger.Error("settlement sweep failed", "error", err)
				continue
			}
			if result.Filled > 0 || result.Rejected > 0 || result.Errors > 0 {
				w.Logger.Info("settlement sweep finished",
					"checked", result.Checked, "filled", result.Filled, "rejected", result.Rejected, "errors", result.Errors)
			}
		}
	}
}

// Sweep handles one batch of the oldest pending conditional orders
func (w *Worker) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	orders, err := w.Service.Store.ListPendingOrders(ctx,
		[]models.OrderType{models.OrderTypeLimit, models.OrderTypeStopLoss, models.OrderTypeTakeProfit}, w.Batch)
	if err != nil {
		return result, fmt.Errorf("failed to list pending orders: %w", err)
	}

	prices := make(map[string]decimal.Decimal)
	for _, order := range orders {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++

		price, ok := prices[order.Pair]
		if !ok {
			price, err = w.Prices.LatestPrice(ctx, order.Pair)
			if err != nil {
				w.Logger.Warn("no price for pending order", "order_id", order.ID, "pair", order.Pair, "error", err)
				result.Errors++
				metrics.RecordWorkerOrder(string(OutcomeError))
				continue
			}
			prices[order.Pair] = price
		}

		if !w.Policy.ShouldFill(order, price) {
			metrics.RecordWorkerOrder(string(OutcomeSkipped))
			continue
		}

		outcome, err := w.Service.FillPending(ctx, order.ID)
		if err != nil {
			w.Logger.Error("failed to fill pending order", "order_id", order.ID, "error", err)
			result.Errors++
			metrics.RecordWorkerOrder(string(OutcomeError))
			continue
		}
		switch outcome {
		case OutcomeFilled:
			result.Filled++
		case OutcomeRejected:
			result.Rejected++
		}
		metrics.RecordWorkerOrder(string(outcome))
	}
	return result, nil
}

// FillPending settles a triggered PENDING order at its own price. A BUY the
// balance no longer covers becomes REJECTED. Orders that left PENDING in the
// meantime are skipped.
func (s *Service) FillPending(ctx context.Context, orderID string) (Outcome, error) {
	outcome := OutcomeSkipped
	var filled *models.Order
	var trade *models.Trade

	err := s.Store.WithTx(ctx, func(tx db.Queries) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status != models.StatusPending {
			return nil
		}

		portfolio, err := tx.LockPortfolio(ctx, order.UserID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ledger.ErrPortfolioNotFound
			}
			return err
		}
		if order.Side == models.SideBuy && portfolio.Balance.LessThan(order.Total) {
			if err := tx.UpdateOrderStatus(ctx, order.ID, models.StatusPending, models.StatusRejected, s.now().UTC()); err != nil {
				return err
			}
			outcome = OutcomeRejected
			return nil
		}

		trade, err = s.settle(ctx, tx, order, marketPrice(order))
		if err != nil {
			return err
		}
		filled = order
		outcome = OutcomeFilled
		return nil
	})
	if err != nil {
		return OutcomeError, err
	}

	if filled != nil {
		metrics.RecordTrade(filled.Pair, string(filled.Side), trade.Total)
		s.Logger.InfoContext(ctx, "pending order filled", "order_id", filled.ID, "user_id", filled.UserID)
	}
	return outcome, nil
}
