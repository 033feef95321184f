package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/models"
)

// Memory is an in-process Store used for development and tests.
// Transactions are serialized by a single mutex and run against a copy
// of the data that replaces the live copy on commit.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	users      map[string]models.User
	portfolios map[string]models.Portfolio // keyed by user id
	orders     map[string]models.Order
	trades     []models.Trade
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: &memData{
		users:      make(map[string]models.User),
		portfolios: make(map[string]models.Portfolio),
		orders:     make(map[string]models.Order),
	}}
}

func (d *memData) clone() *memData {
	c := &memData{
		users:      make(map[string]models.User, len(d.users)),
		portfolios: make(map[string]models.Portfolio, len(d.portfolios)),
		orders:     make(map[string]models.Order, len(d.orders)),
		trades:     make([]models.Trade, len(d.trades)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.portfolios {
		c.portfolios[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	copy(c.trades, d.trades)
	return c
}

// WithTx runs fn against a private copy of the data and publishes it if fn succeeds
func (m *Memory) WithTx(ctx context.Context, fn func(tx Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.data.clone()
	if err := fn(&memQueries{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (m *Memory) Close() {}

func (m *Memory) q() *memQueries { return &memQueries{d: m.data} }

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().CreateUser(ctx, user)
}

func (m *Memory) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().GetUserByID(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().GetUserByEmail(ctx, email)
}

func (m *Memory) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().GetUserByWallet(ctx, wallet)
}

func (m *Memory) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().UpdateUser(ctx, user)
}

func (m *Memory) CreatePortfolio(ctx context.Context, p *models.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().CreatePortfolio(ctx, p)
}

func (m *Memory) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().GetPortfolio(ctx, userID)
}

func (m *Memory) LockPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().LockPortfolio(ctx, userID)
}

func (m *Memory) AdjustPortfolio(ctx context.Context, userID string, balanceDelta, plDelta decimal.Decimal, at time.Time) (*models.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().AdjustPortfolio(ctx, userID, balanceDelta, plDelta, at)
}

func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().CreateOrder(ctx, order)
}

func (m *Memory) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().LockOrder(ctx, orderID)
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().UpdateOrderStatus(ctx, orderID, from, to, at)
}

func (m *Memory) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().ListOrders(ctx, filter)
}

func (m *Memory) ListPendingOrders(ctx context.Context, types []models.OrderType, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().ListPendingOrders(ctx, types, limit)
}

func (m *Memory) CreateTrade(ctx context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().CreateTrade(ctx, trade)
}

func (m *Memory) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().ListTrades(ctx, filter)
}

func (m *Memory) TradesByOrders(ctx context.Context, orderIDs []string) (map[string][]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().TradesByOrders(ctx, orderIDs)
}

func (m *Memory) GetTradeStats(ctx context.Context, userID string) (TradeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q().GetTradeStats(ctx, userID)
}

// memQueries operates on data the caller already holds exclusively
type memQueries struct {
	d *memData
}

func sameString(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (q *memQueries) CreateUser(ctx context.Context, user *models.User) error {
	if _, ok := q.d.users[user.ID]; ok {
		return fmt.Errorf("failed to create user: users_pkey: %w", ErrDuplicate)
	}
	for _, u := range q.d.users {
		if sameString(u.Email, user.Email) {
			return fmt.Errorf("failed to create user: users_email_key: %w", ErrDuplicate)
		}
		if sameString(u.WalletAddress, user.WalletAddress) {
			return fmt.Errorf("failed to create user: users_wallet_address_key: %w", ErrDuplicate)
		}
	}
	stored := *user
	stored.Portfolio = nil
	q.d.users[user.ID] = stored
	return nil
}

func (q *memQueries) findUser(match func(u *models.User) bool) (*models.User, error) {
	for _, u := range q.d.users {
		if match(&u) {
			found := u
			return &found, nil
		}
	}
	return nil, fmt.Errorf("failed to get user: %w", ErrNotFound)
}

func (q *memQueries) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := q.d.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", ErrNotFound)
	}
	return &u, nil
}

func (q *memQueries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return q.findUser(func(u *models.User) bool { return u.Email != nil && *u.Email == email })
}

func (q *memQueries) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	return q.findUser(func(u *models.User) bool { return u.WalletAddress != nil && *u.WalletAddress == wallet })
}

func (q *memQueries) UpdateUser(ctx context.Context, user *models.User) error {
	stored, ok := q.d.users[user.ID]
	if !ok {
		return fmt.Errorf("failed to update user: %w", ErrNotFound)
	}
	for id, u := range q.d.users {
		if id != user.ID && sameString(u.WalletAddress, user.WalletAddress) {
			return fmt.Errorf("failed to update user: users_wallet_address_key: %w", ErrDuplicate)
		}
	}
	stored.Name = user.Name
	stored.Avatar = user.Avatar
	stored.WalletAddress = user.WalletAddress
	q.d.users[user.ID] = stored
	return nil
}

func (q *memQueries) CreatePortfolio(ctx context.Context, p *models.Portfolio) error {
	if _, ok := q.d.portfolios[p.UserID]; ok {
		return fmt.Errorf("failed to create portfolio: portfolios_user_id_key: %w", ErrDuplicate)
	}
	q.d.portfolios[p.UserID] = *p
	return nil
}

func (q *memQueries) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, ok := q.d.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("failed to get portfolio: %w", ErrNotFound)
	}
	return &p, nil
}

func (q *memQueries) LockPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	return q.GetPortfolio(ctx, userID)
}

func (q *memQueries) AdjustPortfolio(ctx context.Context, userID string, balanceDelta, plDelta decimal.Decimal, at time.Time) (*models.Portfolio, error) {
	p, ok := q.d.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("failed to adjust portfolio: %w", ErrNotFound)
	}
	p.Balance = p.Balance.Add(balanceDelta)
	p.TotalPL = p.TotalPL.Add(plDelta)
	p.UpdatedAt = at
	q.d.portfolios[userID] = p
	return &p, nil
}

func copyOrder(o models.Order) models.Order {
	if o.Price != nil {
		price := *o.Price
		o.Price = &price
	}
	o.Trades = nil
	return o
}

func (q *memQueries) CreateOrder(ctx context.Context, order *models.Order) error {
	if _, ok := q.d.orders[order.ID]; ok {
		return fmt.Errorf("failed to create order: orders_pkey: %w", ErrDuplicate)
	}
	q.d.orders[order.ID] = copyOrder(*order)
	return nil
}

func (q *memQueries) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, ok := q.d.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("failed to lock order: %w", ErrNotFound)
	}
	o = copyOrder(o)
	return &o, nil
}

func (q *memQueries) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	o, ok := q.d.orders[orderID]
	if !ok || o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = at
	q.d.orders[orderID] = o
	return nil
}

func sortOrders(orders []models.Order, newestFirst bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (q *memQueries) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	var matched []models.Order
	for _, o := range q.d.orders {
		if o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sortOrders(matched, true)
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (q *memQueries) ListPendingOrders(ctx context.Context, types []models.OrderType, limit int) ([]models.Order, error) {
	wanted := make(map[models.OrderType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	var matched []models.Order
	for _, o := range q.d.orders {
		if o.Status == models.StatusPending && wanted[o.Type] {
			matched = append(matched, copyOrder(o))
		}
	}
	sortOrders(matched, false)
	return page(matched, limit, 0), nil
}

func (q *memQueries) CreateTrade(ctx context.Context, trade *models.Trade) error {
	if _, ok := q.d.orders[trade.OrderID]; !ok {
		return fmt.Errorf("failed to create trade: order %s: %w", trade.OrderID, ErrNotFound)
	}
	q.d.trades = append(q.d.trades, *trade)
	return nil
}

func (q *memQueries) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, int, error) {
	var matched []models.Trade
	for _, t := range q.d.trades {
		if t.UserID == filter.UserID {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].ExecutedAt.Equal(matched[j].ExecutedAt) {
			return matched[i].ExecutedAt.After(matched[j].ExecutedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (q *memQueries) TradesByOrders(ctx context.Context, orderIDs []string) (map[string][]models.Trade, error) {
	wanted := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}
	result := make(map[string][]models.Trade)
	for _, t := range q.d.trades {
		if wanted[t.OrderID] {
			result[t.OrderID] = append(result[t.OrderID], t)
		}
	}
	return result, nil
}

func (q *memQueries) GetTradeStats(ctx context.Context, userID string) (TradeStats, error) {
	stats := TradeStats{Volume: decimal.Zero}
	for _, t := range q.d.trades {
		if t.UserID == userID {
			stats.Count++
			stats.Volume = stats.Volume.Add(t.Total)
		}
	}
	return stats, nil
}
