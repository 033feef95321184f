package market

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/models"
)

// DefaultRefreshInterval is how often an open price stream is refreshed
const DefaultRefreshInterval = 5 * time.Minute

const writeWait = 10 * time.Second

// ParseCandleQuery reads base, quote, days and interval from URL parameters
func ParseCandleQuery(values url.Values) (CandleQuery, error) {
	q := CandleQuery{
		Base:     values.Get("base"),
		Quote:    values.Get("quote"),
		Interval: values.Get("interval"),
	}
	if days := values.Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 || n > 3650 {
			return q, models.Invalid("days", "must be a whole number between 1 and 3650")
		}
		q.Days = n
	}
	if err := q.Normalize(); err != nil {
		return q, err
	}
	return q, nil
}

// StreamMessage is pushed to price stream clients
type StreamMessage struct {
	Type  string        `json:"type"`
	Data  *CandleSeries `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Streamer pushes a candle series to a websocket client right away and then
// on every refresh until the client goes away
type Streamer struct {
	Candles  *Candles
	Interval time.Duration
	Logger   *slog.Logger

	// base ends every open stream when it is cancelled. Hijacked connections
	// are not closed by http.Server.Shutdown.
	base     context.Context
	upgrader websocket.Upgrader
}

// NewStreamer creates a price streamer whose streams live at most as long as
// ctx. An empty origin list accepts any origin.
func NewStreamer(ctx context.Context, candles *Candles, interval time.Duration, allowedOrigins []string) *Streamer {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Streamer{
		Candles:  candles,
		Interval: interval,
		Logger:   slog.Default(),
		base:     ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q, err := ParseCandleQuery(r.URL.Query())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	metrics.WebsocketOpened()
	defer metrics.WebsocketClosed()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	// The client never sends anything; a read error means it is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Logger.Debug("price stream opened", "base", q.Base, "quote", q.Quote, "interval", q.Interval)
	s.stream(ctx, conn, q)
	if s.base.Err() != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
	}
	s.Logger.Debug("price stream closed", "base", q.Base, "quote", q.Quote)
}

func (s *Streamer) stream(ctx context.Context, conn *websocket.Conn, q CandleQuery) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if err := s.push(ctx, conn, q); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Streamer) push(ctx context.Context, conn *websocket.Conn, q CandleQuery) error {
	series, err := s.Candles.Candles(ctx, q)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	msg := StreamMessage{Type: "candles", Data: series}
	if err != nil {
		msg = StreamMessage{Type: "error", Error: streamError(err)}
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	return nil
}

func streamError(err error) string {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Message
	}
	if errors.Is(err, ErrInsufficientData) {
		return err.Error()
	}
	return "Failed to load price data"
}
