package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/auth"
	"github.com/xtrntr/unifi/internal/dashboard"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/market"
	"github.com/xtrntr/unifi/internal/models"
	"github.com/xtrntr/unifi/internal/trading"
)

const maxBodyBytes = 1 << 20

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store     db.Store
	Auth      *auth.Service
	Trading   *trading.Service
	Dashboard *dashboard.Service
	Candles   *market.Candles
	Swaps     *market.Aggregator
	Logger    *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(store db.Store, authService *auth.Service, tradingService *trading.Service,
	dashboardService *dashboard.Service, candles *market.Candles, swaps *market.Aggregator) *Handler {
	return &Handler{
		Store:     store,
		Auth:      authService,
		Trading:   tradingService,
		Dashboard: dashboardService,
		Candles:   candles,
		Swaps:     swaps,
		Logger:    slog.Default(),
	}
}

type contextKey struct{}

var userIDKey contextKey

// UserID returns the authenticated user's id set by JWTAuthMiddleware
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// authResponse is returned by register, login and refresh
type authResponse struct {
	Message   string       `json:"message,omitempty"`
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, models.Invalid("", "invalid request body")
	}
	return body, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return models.Invalid("", "invalid request body")
	}
	return nil
}

// queryInt reads an optional positive integer parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, models.Invalid(name, "must be a positive integer")
	}
	return n, nil
}

func pageParams(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// Index describes the service
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "UniFi Trading API", "version": "1.0.0"})
}

// Health reports whether the database is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		h.Logger.WarnContext(ctx, "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// Register handles email/password and wallet registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reg, err := auth.ParseRegistration(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.Auth.Register(r.Context(), reg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Message:   "User registered successfully",
		User:      session.User,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// Login handles email/password and wallet login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	creds, err := auth.ParseLogin(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.Auth.Login(r.Context(), creds)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Message:   "Login successful",
		User:      session.User,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout is stateless; the client drops its token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Refresh issues a new token for the authenticated user
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	session, err := h.Auth.Refresh(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: session.User, Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "No token provided"})
			return
		}

		user, err := h.Auth.Authenticate(r.Context(), header)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrUserNotFound) {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid token"})
				return
			}
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProfile returns the authenticated user with its portfolio
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	user, err := h.Auth.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// UpdateProfile changes name, avatar and wallet address
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var update auth.ProfileUpdate
	if err := decodeBody(r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.Auth.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Profile updated successfully", "user": user})
}

// GetDashboard returns portfolio, recent trades, active orders and stats
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	view, err := h.Dashboard.Dashboard(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetDashboardStats returns trade count, volume and active order count
func (h *Handler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	stats, err := h.Dashboard.Stats(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// GetUserTrades retrieves a page of the user's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	page, limit, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	trades, err := h.Dashboard.Trades(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetPortfolio returns the portfolio with its holdings
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	view, err := h.Dashboard.Portfolio(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PlaceOrder handles order placement. Market orders settle immediately.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	var req trading.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.Trading.CreateOrder(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	message := "Order created successfully"
	if result.Trade != nil {
		message = "Order executed successfully"
	}
	writeJSON(w, http.StatusCreated, struct {
		Message string `json:"message"`
		*trading.OrderResult
	}{message, result})
}

// GetUserOrders retrieves a page of the user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	page, limit, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.Trading.ListOrders(r.Context(), userID, trading.OrderQuery{
		Status: r.URL.Query().Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels a pending order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	order, err := h.Trading.CancelOrder(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order cancelled successfully", "order": order})
}

// GetCandles returns a chart series for a currency pair
func (h *Handler) GetCandles(w http.ResponseWriter, r *http.Request) {
	q, err := market.ParseCandleQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	series, err := h.Candles.Candles(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// GetSwapTokens lists swappable tokens
func (h *Handler) GetSwapTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.Swaps.Tokens(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func quoteRequest(r *http.Request) market.QuoteRequest {
	q := r.URL.Query()
	return market.QuoteRequest{Src: q.Get("src"), Dst: q.Get("dst"), Amount: q.Get("amount")}
}

// GetSwapQuote proxies a swap quote
func (h *Handler) GetSwapQuote(w http.ResponseWriter, r *http.Request) {
	body, err := h.Swaps.Quote(r.Context(), quoteRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

// GetSwapTransaction proxies a ready-to-sign swap transaction
func (h *Handler) GetSwapTransaction(w http.ResponseWriter, r *http.Request) {
	req := market.SwapRequest{QuoteRequest: quoteRequest(r), From: r.URL.Query().Get("from")}
	if raw := r.URL.Query().Get("slippage"); raw != "" {
		slippage, err := decimal.NewFromString(raw)
		if err != nil {
			h.writeError(w, r, models.Invalid("slippage", "must be a number"))
			return
		}
		req.Slippage = slippage
	}

	body, err := h.Swaps.Swap(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
