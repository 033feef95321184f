package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/models"
)

const uniqueViolation = "23505"

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	conn
	Pool *pgxpool.Pool
}

// conn implements Queries on top of a pool or a transaction
type conn struct {
	q querier
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{conn: conn{q: pool}, Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// WithTx runs fn inside a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx Queries) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&conn{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const userColumns = "id, email, password_hash, wallet_address, name, avatar, join_date"

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.WalletAddress, &user.Name, &user.Avatar, &user.JoinDate)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new user
func (c *conn) CreateUser(ctx context.Context, user *models.User) error {
	_, err := c.q.Exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		user.ID, user.Email, user.PasswordHash, user.WalletAddress, user.Name, user.Avatar, user.JoinDate)
	if err != nil {
		return wrapErr("failed to create user", err)
	}
	return nil
}

// GetUserByID retrieves a user by id
func (c *conn) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(c.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, wrapErr("failed to get user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (c *conn) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(c.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
	if err != nil {
		return nil, wrapErr("failed to get user", err)
	}
	return user, nil
}

// GetUserByWallet retrieves a user by wallet address
func (c *conn) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	user, err := scanUser(c.q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE wallet_address = $1", wallet))
	if err != nil {
		return nil, wrapErr("failed to get user", err)
	}
	return user, nil
}

// UpdateUser saves the editable profile fields
func (c *conn) UpdateUser(ctx context.Context, user *models.User) error {
	tag, err := c.q.Exec(ctx,
		"UPDATE users SET name = $1, avatar = $2, wallet_address = $3 WHERE id = $4",
		user.Name, user.Avatar, user.WalletAddress, user.ID)
	if err != nil {
		return wrapErr("failed to update user", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update user: %w", ErrNotFound)
	}
	return nil
}

const portfolioColumns = "id, user_id, balance, total_pl, updated_at"

func scanPortfolio(row pgx.Row) (*models.Portfolio, error) {
	p := &models.Portfolio{}
	if err := row.Scan(&p.ID, &p.UserID, &p.Balance, &p.TotalPL, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePortfolio inserts the portfolio of a user
func (c *conn) CreatePortfolio(ctx context.Context, p *models.Portfolio) error {
	_, err := c.q.Exec(ctx,
		"INSERT INTO portfolios ("+portfolioColumns+") VALUES ($1, $2, $3, $4, $5)",
		p.ID, p.UserID, p.Balance, p.TotalPL, p.UpdatedAt)
	if err != nil {
		return wrapErr("failed to create portfolio", err)
	}
	return nil
}

// GetPortfolio retrieves the portfolio of a user
func (c *conn) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, err := scanPortfolio(c.q.QueryRow(ctx, "SELECT "+portfolioColumns+" FROM portfolios WHERE user_id = $1", userID))
	if err != nil {
		return nil, wrapErr("failed to get portfolio", err)
	}
	return p, nil
}

// LockPortfolio locks the row for update to serialize settlements of one user
func (c *conn) LockPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, err := scanPortfolio(c.q.QueryRow(ctx,
		"SELECT "+portfolioColumns+" FROM portfolios WHERE user_id = $1 FOR UPDATE", userID))
	if err != nil {
		return nil, wrapErr("failed to lock portfolio", err)
	}
	return p, nil
}

// AdjustPortfolio adds the deltas to balance and total P/L
func (c *conn) AdjustPortfolio(ctx context.Context, userID string, balanceDelta, plDelta decimal.Decimal, at time.Time) (*models.Portfolio, error) {
	p, err := scanPortfolio(c.q.QueryRow(ctx,
		"UPDATE portfolios SET balance = balance + $1, total_pl = total_pl + $2, updated_at = $3 "+
			"WHERE user_id = $4 RETURNING "+portfolioColumns,
		balanceDelta, plDelta, at, userID))
	if err != nil {
		return nil, wrapErr("failed to adjust portfolio", err)
	}
	return p, nil
}

const orderColumns = "id, user_id, pair, type, side, amount, price, total, status, created_at, updated_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var price decimal.NullDecimal
	err := row.Scan(&o.ID, &o.UserID, &o.Pair, &o.Type, &o.Side, &o.Amount, &price, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		o.Price = &price.Decimal
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder inserts a new order
func (c *conn) CreateOrder(ctx context.Context, order *models.Order) error {
	var price decimal.NullDecimal
	if order.Price != nil {
		price = decimal.NewNullDecimal(*order.Price)
	}
	_, err := c.q.Exec(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		order.ID, order.UserID, order.Pair, order.Type, order.Side, order.Amount, price, order.Total,
		order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return wrapErr("failed to create order", err)
	}
	return nil
}

// LockOrder locks the order row for update
func (c *conn) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := scanOrder(c.q.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		return nil, wrapErr("failed to lock order", err)
	}
	return order, nil
}

// UpdateOrderStatus updates an order's status if it is still in the expected one
func (c *conn) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	tag, err := c.q.Exec(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4",
		to, at, orderID, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListOrders retrieves a page of a user's orders, newest first, and the total count
func (c *conn) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int, error) {
	where := "WHERE user_id = $1"
	args := []any{filter.UserID}
	if filter.Status != "" {
		where += " AND status = $2"
		args = append(args, filter.Status)
	}

	var total int
	if err := c.q.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2)
	rows, err := c.q.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListPendingOrders retrieves the oldest pending orders of the given types
func (c *conn) ListPendingOrders(ctx context.Context, types []models.OrderType, limit int) ([]models.Order, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := c.q.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'PENDING' AND type = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`, names, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}
	return collectOrders(rows)
}

const tradeColumns = "id, order_id, user_id, pair, side, amount, price, total, fee, tx_hash, executed_at"

func scanTrade(row pgx.Row) (*models.Trade, error) {
	t := &models.Trade{}
	err := row.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Pair, &t.Side, &t.Amount, &t.Price, &t.Total, &t.Fee, &t.TxHash, &t.ExecutedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTrades(rows pgx.Rows) ([]models.Trade, error) {
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// CreateTrade inserts a new trade
func (c *conn) CreateTrade(ctx context.Context, trade *models.Trade) error {
	_, err := c.q.Exec(ctx,
		"INSERT INTO trades ("+tradeColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		trade.ID, trade.OrderID, trade.UserID, trade.Pair, trade.Side, trade.Amount, trade.Price,
		trade.Total, trade.Fee, trade.TxHash, trade.ExecutedAt)
	if err != nil {
		return wrapErr("failed to create trade", err)
	}
	return nil
}

// ListTrades retrieves a page of a user's trades, newest first, and the total count
func (c *conn) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, int, error) {
	var total int
	if err := c.q.QueryRow(ctx, "SELECT COUNT(*) FROM trades WHERE user_id = $1", filter.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	rows, err := c.q.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE user_id = $1 ORDER BY executed_at DESC, id DESC LIMIT $2 OFFSET $3",
		filter.UserID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, 0, err
	}
	return trades, total, nil
}

// TradesByOrders groups the trades of the given orders by order id
func (c *conn) TradesByOrders(ctx context.Context, orderIDs []string) (map[string][]models.Trade, error) {
	result := make(map[string][]models.Trade)
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := c.q.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE order_id = ANY($1) ORDER BY executed_at ASC", orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get order trades: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		result[t.OrderID] = append(result[t.OrderID], t)
	}
	return result, nil
}

// GetTradeStats counts a user's trades and sums their totals
func (c *conn) GetTradeStats(ctx context.Context, userID string) (TradeStats, error) {
	var stats TradeStats
	err := c.q.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(total), 0) FROM trades WHERE user_id = $1", userID).
		Scan(&stats.Count, &stats.Volume)
	if err != nil {
		return TradeStats{}, fmt.Errorf("failed to get trade stats: %w", err)
	}
	return stats, nil
}
