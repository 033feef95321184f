package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xtrntr/unifi/internal/logging"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/ratelimit"
)

// RouterConfig holds the optional parts of the router
type RouterConfig struct {
	AllowedOrigins []string
	// Limiter guards /api routes; nil disables rate limiting
	Limiter   ratelimit.Limiter
	RateLimit ratelimit.Limit
	// Streamer serves /ws/prices when set
	Streamer http.Handler
	// Metrics exposes /metrics when true
	Metrics bool
	Logger  *slog.Logger
}

// NewRouter wires every route of the API
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h.Logger = logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	if cfg.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}
	if cfg.Streamer != nil {
		r.Handle("/ws/prices", cfg.Streamer)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(ratelimit.Middleware(cfg.Limiter, cfg.RateLimit, logger))
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.With(h.JWTAuthMiddleware).Post("/refresh", h.Refresh)
		})

		// Protected endpoints (require JWT)
		r.Route("/users", func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)
			r.Get("/me", h.GetProfile)
			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)
			r.Get("/dashboard", h.GetDashboard)
			r.Get("/dashboard/stats", h.GetDashboardStats)
			r.Get("/trades", h.GetUserTrades)
			r.Get("/portfolio", h.GetPortfolio)
		})

		r.Route("/trading", func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)
			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetUserOrders)
			r.Delete("/orders/{id}", h.CancelOrder)
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/candles", h.GetCandles)
			r.Get("/swap/tokens", h.GetSwapTokens)
			r.Get("/swap/quote", h.GetSwapQuote)
			r.Get("/swap/transaction", h.GetSwapTransaction)
		})
	})

	return r
}
