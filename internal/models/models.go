package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The frontend reads balances and amounts as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderType is the kind of order a user submits
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// Valid reports whether t is a known order type
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeTakeProfit:
		return true
	}
	return false
}

// Conditional orders wait for a price trigger instead of filling on submission.
func (t OrderType) Conditional() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLoss || t == OrderTypeTakeProfit
}

// Side is BUY or SELL
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// CanTransition reports whether an order may move from s to next.
// Only PENDING orders move, and only into a terminal state.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == StatusPending && next.Terminal()
}

// User represents a registered user. A user has an email, a wallet address, or both.
type User struct {
	ID            string     `json:"id"`
	Email         *string    `json:"email"`
	PasswordHash  string     `json:"-"`
	WalletAddress *string    `json:"walletAddress"`
	Name          string     `json:"name"`
	Avatar        string     `json:"avatar"`
	JoinDate      time.Time  `json:"joinDate"`
	Portfolio     *Portfolio `json:"portfolio,omitempty"`
}

// HasPassword reports whether the user registered with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Portfolio is the single balance and cumulative P/L record of a user
type Portfolio struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	TotalPL   decimal.Decimal `json:"totalPL"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Order represents a user's trade intent
type Order struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Pair      string           `json:"pair"`
	Type      OrderType        `json:"type"`
	Side      Side             `json:"side"`
	Amount    decimal.Decimal  `json:"amount"`
	Price     *decimal.Decimal `json:"price"`
	Total     decimal.Decimal  `json:"total"`
	Status    OrderStatus      `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Trades    []Trade          `json:"trades"`
}

// MarshalJSON always emits trades as a list, empty for an unfilled order
func (o Order) MarshalJSON() ([]byte, error) {
	type order Order
	out := order(o)
	if out.Trades == nil {
		out.Trades = []Trade{}
	}
	return json.Marshal(out)
}

// Trade represents an executed fill of an order
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId"`
	UserID     string          `json:"userId"`
	Pair       string          `json:"pair"`
	Side       Side            `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	Fee        decimal.Decimal `json:"fee"`
	TxHash     string          `json:"txHash"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Pagination describes one page of a listing
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes the page count for total items
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage keeps (page-1)*limit far from int overflow
	MaxPage = 1_000_000
)

// PageBounds applies the listing defaults: page 1, limit 20, at most 100 per
// page. Pages past MaxPage are clamped to it.
func PageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
