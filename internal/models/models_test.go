package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name                string
		page, limit         int
		wantPage, wantLimit int
	}{
		{name: "Defaults", page: 0, limit: 0, wantPage: 1, wantLimit: DefaultPageLimit},
		{name: "Passthrough", page: 3, limit: 50, wantPage: 3, wantLimit: 50},
		{name: "LimitCapped", page: 1, limit: 1000, wantPage: 1, wantLimit: MaxPageLimit},
		{name: "PageCapped", page: math.MaxInt / 10, limit: MaxPageLimit, wantPage: MaxPage, wantLimit: MaxPageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := PageBounds(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
			assert.GreaterOrEqual(t, (page-1)*limit, 0)
		})
	}
}

func TestOrder_MarshalJSON(t *testing.T) {
	order := Order{ID: "o1", Pair: "ETH/USDT", Type: OrderTypeLimit, Side: SideBuy,
		Amount: decimal.NewFromInt(1), Total: decimal.NewFromInt(10), Status: StatusPending}

	data, err := json.Marshal(order)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, []any{}, fields["trades"])
	assert.Equal(t, float64(10), fields["total"])

	order.Trades = []Trade{{ID: "t1", OrderID: "o1"}}
	data, err = json.Marshal(&order)
	require.NoError(t, err)
	var decoded Order
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Trades, 1)
	assert.Equal(t, "t1", decoded.Trades[0].ID)
}
