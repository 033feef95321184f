package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/models"
)

const maxPairLength = 32 // orders.pair column width

// totalTolerance is the relative difference allowed between total and amount * price
var totalTolerance = decimal.New(1, -9)

// DefaultFeeRate is the fee charged on every trade, as a fraction of its total
var DefaultFeeRate = decimal.RequireFromString("0.001")

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")
)

// OrderRequest is a user's order submission
type OrderRequest struct {
	Pair   string           `json:"pair"`
	Type   models.OrderType `json:"type"`
	Side   models.Side      `json:"side"`
	Amount decimal.Decimal  `json:"amount"`
	Price  *decimal.Decimal `json:"price"`
	Total  decimal.Decimal  `json:"total"`
}

// OrderResult is the persisted order and, for market orders, its trade
type OrderResult struct {
	Order *models.Order `json:"order"`
	Trade *models.Trade `json:"trade,omitempty"`
}

// OrderQuery selects a page of orders. Status "all" or empty disables the filter.
type OrderQuery struct {
	Status string
	Page   int
	Limit  int
}

// OrderPage is one page of orders with their trades
type OrderPage struct {
	Orders     []models.Order    `json:"orders"`
	Pagination models.Pagination `json:"pagination"`
}

// Service accepts, lists and cancels orders and settles fills
type Service struct {
	Store   db.Store
	Ledger  *ledger.Ledger
	FeeRate decimal.Decimal
	Logger  *slog.Logger

	now func() time.Time
}

// NewService creates a trading service with the default fee rate
func NewService(store db.Store, l *ledger.Ledger) *Service {
	return &Service{
		Store:   store,
		Ledger:  l,
		FeeRate: DefaultFeeRate,
		Logger:  slog.Default(),
		now:     time.Now,
	}
}

// Validate checks an order request before anything is written
func (r *OrderRequest) Validate() error {
	r.Pair = strings.TrimSpace(r.Pair)
	if r.Pair == "" {
		return models.Invalid("pair", "is required")
	}
	if utf8.RuneCountInString(r.Pair) > maxPairLength {
		return models.Invalid("pair", "must be at most 32 characters")
	}
	if !r.Type.Valid() {
		return models.Invalid("type", "must be one of MARKET, LIMIT, STOP_LOSS, TAKE_PROFIT")
	}
	if !r.Side.Valid() {
		return models.Invalid("side", "must be BUY or SELL")
	}
	if !r.Amount.IsPositive() {
		return models.Invalid("amount", "must be positive")
	}
	if !r.Total.IsPositive() {
		return models.Invalid("total", "must be positive")
	}
	if r.Price == nil {
		if r.Type.Conditional() {
			return models.Invalid("price", "is required for "+string(r.Type)+" orders")
		}
		return nil
	}
	if !r.Price.IsPositive() {
		return models.Invalid("price", "must be positive")
	}
	if !totalMatches(r.Amount.Mul(*r.Price), r.Total) {
		return models.Invalid("total", "must equal amount * price")
	}
	return nil
}

// totalMatches accepts a client total that differs from amount * price only by
// floating point noise on the client side.
func totalMatches(expected, total decimal.Decimal) bool {
	return expected.Sub(total).Abs().LessThanOrEqual(expected.Mul(totalTolerance))
}

// CreateOrder persists an order. Market orders are filled and settled in the
// same transaction. A BUY that the balance cannot cover is refused before any write.
func (s *Service) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Pair:      req.Pair,
		Type:      req.Type,
		Side:      req.Side,
		Amount:    req.Amount,
		Price:     req.Price,
		Total:     req.Total,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result := &OrderResult{Order: order}
	err := s.Store.WithTx(ctx, func(tx db.Queries) error {
		portfolio, err := tx.LockPortfolio(ctx, userID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ledger.ErrPortfolioNotFound
			}
			return err
		}
		if order.Side == models.SideBuy && portfolio.Balance.LessThan(order.Total) {
			return ErrInsufficientBalance
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if order.Type != models.OrderTypeMarket {
			return nil
		}

		trade, err := s.settle(ctx, tx, order, marketPrice(order))
		if err != nil {
			return err
		}
		result.Trade = trade
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.RecordOrder(string(req.Type), string(req.Side), string(models.StatusRejected))
			return nil, err
		}
		if errors.Is(err, ledger.ErrPortfolioNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	metrics.RecordOrder(string(order.Type), string(order.Side), string(order.Status))
	if result.Trade != nil {
		metrics.RecordTrade(order.Pair, string(order.Side), result.Trade.Total)
	}
	s.Logger.InfoContext(ctx, "order created",
		"order_id", order.ID, "user_id", userID, "type", order.Type, "side", order.Side, "status", order.Status)
	return result, nil
}

// marketPrice is the request price, or total/amount when none was given
func marketPrice(order *models.Order) decimal.Decimal {
	if order.Price != nil {
		return *order.Price
	}
	return order.Total.DivRound(order.Amount, 18)
}

// settle creates the trade for a pending order, marks it FILLED and books it
// in the ledger. It must run inside the transaction holding the portfolio lock.
func (s *Service) settle(ctx context.Context, tx db.Queries, order *models.Order, price decimal.Decimal) (*models.Trade, error) {
	executedAt := s.now().UTC()
	trade := &models.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		UserID:     order.UserID,
		Pair:       order.Pair,
		Side:       order.Side,
		Amount:     order.Amount,
		Price:      price,
		Total:      order.Total,
		Fee:        order.Total.Mul(s.FeeRate),
		TxHash:     newTxHash(executedAt),
		ExecutedAt: executedAt,
	}
	if err := tx.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, models.StatusPending, models.StatusFilled, executedAt); err != nil {
		return nil, err
	}
	if _, err := s.Ledger.ApplySettlement(ctx, tx, order.UserID, order.Side, trade.Total, trade.Fee); err != nil {
		return nil, err
	}

	order.Status = models.StatusFilled
	order.UpdatedAt = executedAt
	return trade, nil
}

// newTxHash synthesizes a transaction reference of the form tx_<unix ms>_<8 hex>
func newTxHash(at time.Time) string {
	return fmt.Sprintf("tx_%d_%s", at.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// ListOrders returns a user's orders newest first, each with its trades
func (s *Service) ListOrders(ctx context.Context, userID string, query OrderQuery) (*OrderPage, error) {
	filter := db.OrderFilter{UserID: userID}

	status := strings.ToUpper(strings.TrimSpace(query.Status))
	if status != "" && status != "ALL" {
		filter.Status = models.OrderStatus(status)
		if !filter.Status.Valid() {
			return nil, models.Invalid("status", "must be one of all, PENDING, FILLED, CANCELLED, REJECTED")
		}
	}

	page, limit := models.PageBounds(query.Page, query.Limit)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	orders, total, err := s.Store.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	trades, err := s.Store.TradesByOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load order trades: %w", err)
	}
	for i := range orders {
		orders[i].Trades = trades[orders[i].ID]
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &OrderPage{
		Orders:     orders,
		Pagination: models.NewPagination(page, limit, total),
	}, nil
}

// CancelOrder moves a user's PENDING order to CANCELLED. Nothing is refunded
// because nothing is reserved for pending orders.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var cancelled *models.Order
	err := s.Store.WithTx(ctx, func(tx db.Queries) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.UserID != userID {
			return ErrOrderNotFound
		}
		if !order.Status.CanTransition(models.StatusCancelled) {
			return ErrOrderNotCancellable
		}

		now := s.now().UTC()
		if err := tx.UpdateOrderStatus(ctx, order.ID, models.StatusPending, models.StatusCancelled, now); err != nil {
			if errors.Is(err, db.ErrStatusConflict) {
				return ErrOrderNotCancellable
			}
			return err
		}
		order.Status = models.StatusCancelled
		order.UpdatedAt = now
		cancelled = order
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderNotCancellable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	metrics.RecordOrder(string(cancelled.Type), string(cancelled.Side), string(cancelled.Status))
	s.Logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "user_id", userID)
	return cancelled, nil
}
