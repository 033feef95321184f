package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unifi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	orderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_order_total",
			Help: "Total number of orders by outcome",
		},
		[]string{"type", "side", "status"},
	)

	tradeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_trade_count_total",
			Help: "Total number of trades executed",
		},
		[]string{"pair", "side"},
	)

	tradeVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_trade_volume_total",
			Help: "Total traded value in quote currency",
		},
		[]string{"pair", "side"},
	)

	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_upstream_requests_total",
			Help: "Requests to external price and quote services",
		},
		[]string{"service", "outcome"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unifi_upstream_request_duration_seconds",
			Help:    "Duration of requests to external services",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unifi_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unifi_websocket_clients",
			Help: "Open price stream connections",
		},
	)

	workerSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unifi_settlement_worker_orders_total",
			Help: "Pending orders processed by the settlement worker",
		},
		[]string{"outcome"},
	)
)

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOrder counts a created or rejected order
func RecordOrder(orderType, side, status string) {
	orderTotal.WithLabelValues(orderType, side, status).Inc()
}

// RecordTrade counts an executed trade and its value
func RecordTrade(pair, side string, total decimal.Decimal) {
	tradeCount.WithLabelValues(pair, side).Inc()
	tradeVolume.WithLabelValues(pair, side).Add(total.InexactFloat64())
}

// RecordUpstream records the outcome and latency of an external call
func RecordUpstream(service, outcome string, duration time.Duration) {
	upstreamRequests.WithLabelValues(service, outcome).Inc()
	upstreamDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRateLimited counts a rejected request
func RecordRateLimited() {
	rateLimited.Inc()
}

// WebsocketOpened tracks a new price stream
func WebsocketOpened() { websocketClients.Inc() }

// WebsocketClosed tracks a closed price stream
func WebsocketClosed() { websocketClients.Dec() }

// RecordWorkerOrder counts a pending order handled by the settlement worker
func RecordWorkerOrder(outcome string) {
	workerSweeps.WithLabelValues(outcome).Inc()
}

// Middleware records request count and latency per route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
