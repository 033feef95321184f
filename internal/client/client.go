// Package client is a typed client for the trading API that keeps its login
// in a session.Store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xtrntr/unifi/internal/dashboard"
	"github.com/xtrntr/unifi/internal/market"
	"github.com/xtrntr/unifi/internal/models"
	"github.com/xtrntr/unifi/internal/session"
	"github.com/xtrntr/unifi/internal/trading"
)

// DefaultRefreshBefore is the remaining session validity below which the token is refreshed
const DefaultRefreshBefore = 24 * time.Hour

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired, please log in again")
)

// APIError is an error response from the server
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// AuthResponse is returned by register, login and refresh
type AuthResponse struct {
	Message   string       `json:"message,omitempty"`
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type Client struct {
	BaseURL       string
	HTTP          *http.Client
	Session       *session.Store
	RefreshBefore time.Duration
}

func New(baseURL string, store *session.Store) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTP:          &http.Client{Timeout: 30 * time.Second},
		Session:       store,
		RefreshBefore: DefaultRefreshBefore,
	}
}

// Register creates an account and saves its session. body is a password or
// wallet registration payload.
func (c *Client) Register(ctx context.Context, body any) (*AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/register", body)
}

// Login signs in and saves the session. body is a password or wallet login payload.
func (c *Client) Login(ctx context.Context, body any) (*AuthResponse, error) {
	return c.authenticate(ctx, "/api/auth/login", body)
}

func (c *Client) LoginWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.Login(ctx, map[string]string{"email": email, "password": password})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp, false); err != nil {
		return nil, err
	}
	if err := c.Session.Save(resp.Token, resp.User); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the server and drops the local session whatever the server says
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil, false)
	if clearErr := c.Session.Clear(); clearErr != nil {
		return clearErr
	}
	return err
}

// Refresh exchanges the session token for a fresh one
func (c *Client) Refresh(ctx context.Context) error {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, nil, &resp, true); err != nil {
		return err
	}
	return c.Session.UpdateToken(resp.Token)
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var resp struct {
		User *models.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (c *Client) Dashboard(ctx context.Context) (*dashboard.Dashboard, error) {
	var resp dashboard.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/users/dashboard", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Trades(ctx context.Context, page, limit int) (*dashboard.TradePage, error) {
	var resp dashboard.TradePage
	if err := c.do(ctx, http.MethodGet, "/api/users/trades", pageQuery(page, limit), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Portfolio(ctx context.Context) (*dashboard.PortfolioView, error) {
	var resp dashboard.PortfolioView
	if err := c.do(ctx, http.MethodGet, "/api/users/portfolio", nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateOrder(ctx context.Context, req trading.OrderRequest) (*trading.OrderResult, error) {
	var resp trading.OrderResult
	if err := c.do(ctx, http.MethodPost, "/api/trading/orders", nil, req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Orders(ctx context.Context, status string, page, limit int) (*trading.OrderPage, error) {
	query := pageQuery(page, limit)
	if status != "" {
		query.Set("status", status)
	}
	var resp trading.OrderPage
	if err := c.do(ctx, http.MethodGet, "/api/trading/orders", query, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/api/trading/orders/"+url.PathEscape(orderID), nil, nil, nil, true)
}

func (c *Client) Candles(ctx context.Context, q market.CandleQuery) (*market.CandleSeries, error) {
	query := url.Values{"base": {q.Base}}
	if q.Quote != "" {
		query.Set("quote", q.Quote)
	}
	if q.Days > 0 {
		query.Set("days", strconv.Itoa(q.Days))
	}
	if q.Interval != "" {
		query.Set("interval", q.Interval)
	}
	var resp market.CandleSeries
	if err := c.do(ctx, http.MethodGet, "/api/market/candles", query, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func pageQuery(page, limit int) url.Values {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}

// token returns the session token, refreshing it first when the session is
// close to expiry
func (c *Client) token(ctx context.Context, path string) (string, error) {
	data, ok := c.Session.Load()
	if !ok {
		return "", ErrNotLoggedIn
	}
	if path != "/api/auth/refresh" && c.Session.Remaining() < c.RefreshBefore {
		if err := c.Refresh(ctx); err != nil {
			return "", fmt.Errorf("failed to refresh session: %w", err)
		}
		if data, ok = c.Session.Load(); !ok {
			return "", ErrSessionExpired
		}
	}
	return data.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, auth bool) error {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.token(ctx, path)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && auth {
		if err := c.Session.Clear(); err != nil {
			return err
		}
		return ErrSessionExpired
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
		if payload.Details != "" {
			msg += ": " + payload.Details
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
