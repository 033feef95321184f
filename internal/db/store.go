package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique column already holds the value
	ErrDuplicate = errors.New("duplicate value")
	// ErrStatusConflict is returned when an order is no longer in the expected status
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// OrderFilter selects a page of a user's orders
type OrderFilter struct {
	UserID string
	Status models.OrderStatus
	Limit  int
	Offset int
}

// TradeFilter selects a page of a user's trades
type TradeFilter struct {
	UserID string
	Limit  int
	Offset int
}

// TradeStats aggregates a user's trade history
type TradeStats struct {
	Count  int
	Volume decimal.Decimal
}

// Queries is the set of operations available both on the store and inside a transaction
type Queries interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	CreatePortfolio(ctx context.Context, p *models.Portfolio) error
	GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error)
	// LockPortfolio reads the portfolio and holds it until the transaction ends
	LockPortfolio(ctx context.Context, userID string) (*models.Portfolio, error)
	AdjustPortfolio(ctx context.Context, userID string, balanceDelta, plDelta decimal.Decimal, at time.Time) (*models.Portfolio, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	// LockOrder reads the order and holds it until the transaction ends
	LockOrder(ctx context.Context, orderID string) (*models.Order, error)
	// UpdateOrderStatus moves an order from one status to another, or fails with ErrStatusConflict
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error)
	ListPendingOrders(ctx context.Context, types []models.OrderType, limit int) ([]models.Order, error)

	CreateTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, int, error)
	TradesByOrders(ctx context.Context, orderIDs []string) (map[string][]models.Trade, error)
	GetTradeStats(ctx context.Context, userID string) (TradeStats, error)
}

// Store is a persistence backend
type Store interface {
	Queries
	// WithTx runs fn in a transaction. A nil return commits, anything else rolls back.
	WithTx(ctx context.Context, fn func(tx Queries) error) error
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)
