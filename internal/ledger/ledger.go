package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/models"
)

var (
	// ErrPortfolioNotFound means a user has no portfolio row
	ErrPortfolioNotFound = errors.New("portfolio not found")
	// ErrInvalidAmount is returned for non-positive settlement or credit amounts
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Ledger owns every mutation of portfolio balances
type Ledger struct {
	store db.Store
	now   func() time.Time
}

// New creates a ledger on top of store
func New(store db.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Balance returns the portfolio of a user
func (l *Ledger) Balance(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, err := l.store.GetPortfolio(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, err
	}
	return p, nil
}

// ApplySettlement books a trade against the portfolio. It must run on the
// transaction that inserts the trade. A BUY spends total. A SELL returns total
// and adds the fee to the cumulative P/L.
func (l *Ledger) ApplySettlement(ctx context.Context, tx db.Queries, userID string, side models.Side, total, fee decimal.Decimal) (*models.Portfolio, error) {
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var balanceDelta, plDelta decimal.Decimal
	switch side {
	case models.SideBuy:
		balanceDelta = total.Neg()
	case models.SideSell:
		balanceDelta = total
		plDelta = fee
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	p, err := tx.AdjustPortfolio(ctx, userID, balanceDelta, plDelta, l.now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, fmt.Errorf("failed to apply settlement: %w", err)
	}
	return p, nil
}

// Credit deposits amount into a user's balance
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*models.Portfolio, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var p *models.Portfolio
	err := l.store.WithTx(ctx, func(tx db.Queries) error {
		if _, err := tx.LockPortfolio(ctx, userID); err != nil {
			return err
		}
		var err error
		p, err = tx.AdjustPortfolio(ctx, userID, amount, decimal.Zero, l.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, fmt.Errorf("failed to credit portfolio: %w", err)
	}
	return p, nil
}
