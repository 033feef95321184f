package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/models"
)

// RecentTradesLimit is the number of trades shown on the dashboard
const RecentTradesLimit = 10

// Holding is one position in a user's portfolio snapshot
type Holding struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"`
}

// HoldingsProvider supplies per-symbol positions. Positions are not derived
// from the trade history.
type HoldingsProvider interface {
	Holdings(ctx context.Context, userID string) ([]Holding, error)
}

// NoHoldings reports an empty position snapshot
type NoHoldings struct{}

func (NoHoldings) Holdings(ctx context.Context, userID string) ([]Holding, error) {
	return []Holding{}, nil
}

// Stats summarizes a user's trading activity
type Stats struct {
	TotalTrades  int             `json:"totalTrades"`
	TotalVolume  decimal.Decimal `json:"totalVolume"`
	ActiveOrders int             `json:"activeOrders"`
}

// Dashboard is the overview of a user's account
type Dashboard struct {
	Portfolio    *models.Portfolio `json:"portfolio"`
	RecentTrades []models.Trade    `json:"recentTrades"`
	ActiveOrders []models.Order    `json:"activeOrders"`
	Stats        Stats             `json:"stats"`
}

// TradePage is one page of trade history
type TradePage struct {
	Trades     []models.Trade    `json:"trades"`
	Pagination models.Pagination `json:"pagination"`
}

// PortfolioView is the portfolio with its holdings snapshot
type PortfolioView struct {
	Portfolio *models.Portfolio `json:"portfolio"`
	Holdings  []Holding         `json:"holdings"`
}

// Service serves read-only views. It never writes.
type Service struct {
	Store    db.Store
	Ledger   *ledger.Ledger
	Holdings HoldingsProvider
}

// NewService creates a dashboard service without a holdings source
func NewService(store db.Store, l *ledger.Ledger) *Service {
	return &Service{Store: store, Ledger: l, Holdings: NoHoldings{}}
}

// Dashboard returns the portfolio, recent trades, pending orders and stats
func (s *Service) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	portfolio, err := s.Ledger.Balance(ctx, userID)
	if err != nil && !errors.Is(err, ledger.ErrPortfolioNotFound) {
		return nil, err
	}

	recent, _, err := s.Store.ListTrades(ctx, db.TradeFilter{UserID: userID, Limit: RecentTradesLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}

	active, err := s.pendingOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	tradeStats, err := s.Store.GetTradeStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade stats: %w", err)
	}

	if recent == nil {
		recent = []models.Trade{}
	}
	return &Dashboard{
		Portfolio:    portfolio,
		RecentTrades: recent,
		ActiveOrders: active,
		Stats: Stats{
			TotalTrades:  tradeStats.Count,
			TotalVolume:  tradeStats.Volume,
			ActiveOrders: len(active),
		},
	}, nil
}

// pendingOrders loads every PENDING order of a user, newest first
func (s *Service) pendingOrders(ctx context.Context, userID string) ([]models.Order, error) {
	filter := db.OrderFilter{UserID: userID, Status: models.StatusPending, Limit: models.MaxPageLimit}
	var all []models.Order
	for {
		orders, total, err := s.Store.ListOrders(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to get active orders: %w", err)
		}
		all = append(all, orders...)
		filter.Offset += len(orders)
		if len(orders) == 0 || filter.Offset >= total {
			break
		}
	}
	if all == nil {
		all = []models.Order{}
	}
	return all, nil
}

// Stats returns trade count, traded volume and the number of pending orders
func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	tradeStats, err := s.Store.GetTradeStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade stats: %w", err)
	}
	_, pending, err := s.Store.ListOrders(ctx, db.OrderFilter{UserID: userID, Status: models.StatusPending, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to count active orders: %w", err)
	}
	return &Stats{
		TotalTrades:  tradeStats.Count,
		TotalVolume:  tradeStats.Volume,
		ActiveOrders: pending,
	}, nil
}

// Trades returns a page of trade history, newest first
func (s *Service) Trades(ctx context.Context, userID string, page, limit int) (*TradePage, error) {
	page, limit = models.PageBounds(page, limit)
	trades, total, err := s.Store.ListTrades(ctx, db.TradeFilter{UserID: userID, Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return &TradePage{Trades: trades, Pagination: models.NewPagination(page, limit, total)}, nil
}

// Portfolio returns the balance record and the holdings snapshot
func (s *Service) Portfolio(ctx context.Context, userID string) (*PortfolioView, error) {
	portfolio, err := s.Ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.Holdings.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	if holdings == nil {
		holdings = []Holding{}
	}
	return &PortfolioView{Portfolio: portfolio, Holdings: holdings}, nil
}
