package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xtrntr/unifi/internal/auth"
	"github.com/xtrntr/unifi/internal/ledger"
	"github.com/xtrntr/unifi/internal/market"
	"github.com/xtrntr/unifi/internal/models"
	"github.com/xtrntr/unifi/internal/trading"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// statusFor maps a service error to its HTTP status and response body
func statusFor(err error) (int, errorResponse) {
	var verr *models.ValidationError
	var upstream *market.UpstreamError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: "Validation error", Details: verr.Error()}
	case errors.Is(err, auth.ErrEmailRegistered):
		return http.StatusBadRequest, errorResponse{Error: "Email already registered"}
	case errors.Is(err, auth.ErrWalletRegistered):
		return http.StatusBadRequest, errorResponse{Error: "Wallet already registered"}
	case errors.Is(err, auth.ErrDuplicateIdentity):
		return http.StatusBadRequest, errorResponse{Error: "Account already registered"}
	case errors.Is(err, trading.ErrInsufficientBalance):
		return http.StatusBadRequest, errorResponse{Error: "Insufficient balance"}
	case errors.Is(err, trading.ErrOrderNotCancellable):
		return http.StatusBadRequest, errorResponse{Error: "Order cannot be cancelled"}

	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Error: "Invalid credentials"}
	case errors.Is(err, auth.ErrWalletNotRegistered):
		return http.StatusUnauthorized, errorResponse{Error: "Wallet not registered"}
	case errors.Is(err, auth.ErrSignatureUnverified):
		return http.StatusUnauthorized, errorResponse{Error: "Wallet signature verification is not available"}
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, errorResponse{Error: "Invalid token"}

	case errors.Is(err, trading.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{Error: "Order not found"}
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, errorResponse{Error: "User not found"}
	case errors.Is(err, ledger.ErrPortfolioNotFound):
		return http.StatusNotFound, errorResponse{Error: "Portfolio not found"}

	case errors.Is(err, market.ErrInsufficientData):
		return http.StatusUnprocessableEntity, errorResponse{Error: "Insufficient data points", Details: err.Error()}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, errorResponse{Error: upstream.Message}
	case errors.Is(err, market.ErrNoAPIKey):
		return http.StatusServiceUnavailable, errorResponse{Error: "Swap aggregator API key not configured"}
	}
	return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	switch {
	case status == http.StatusBadGateway:
		h.Logger.WarnContext(r.Context(), "upstream failure", "path", r.URL.Path, "error", err)
	case status >= http.StatusInternalServerError:
		h.Logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}
