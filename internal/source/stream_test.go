package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/models"
)

func TestParseTradeMessage(t *testing.T) {
	payload := []byte(`{
		"id": "AAPL240119C00190000|1705431600-42",
		"symbol": "AAPL",
		"premium": 125000,
		"strike": 190,
		"expiry": "2024-01-19",
		"side": "buy",
		"size": 500,
		"price": 2.5,
		"timestamp": 1705431600123
	}`)

	ev, err := parseTradeMessage(payload)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", ev.Symbol)
	assert.Equal(t, "AAPL240119C00190000", ev.ContractID, "composite suffix stripped")
	assert.Equal(t, 125000.0, ev.Premium)
	assert.Equal(t, int64(500), ev.Size)
	assert.Equal(t, models.TradeBuy, ev.Side)
	assert.Equal(t, models.SourceStream, ev.Source)
	assert.Equal(t, time.UnixMilli(1705431600123).UTC(), ev.Timestamp)
}

func TestParseTradeMessageSideVariants(t *testing.T) {
	tests := []struct {
		raw  string
		want models.TradeSide
	}{
		{"buy", models.TradeBuy},
		{"b", models.TradeBuy},
		{"sell", models.TradeSell},
		{"s", models.TradeSell},
		{"", models.SideUnknown},
		{"midpoint", models.SideUnknown},
	}
	for _, tt := range tests {
		ev, err := parseTradeMessage([]byte(
			`{"id":"AAPL240119C00190000","symbol":"AAPL","side":"` + tt.raw + `"}`))
		require.NoError(t, err)
		assert.Equal(t, tt.want, ev.Side, "side %q", tt.raw)
	}
}

func TestParseTradeMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"id":`},
		{"missing id", `{"symbol":"AAPL"}`},
		{"missing symbol", `{"id":"AAPL240119C00190000"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTradeMessage([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestParseTradeMessageMissingTimestamp(t *testing.T) {
	before := time.Now().UTC()
	ev, err := parseTradeMessage([]byte(`{"id":"AAPL240119C00190000","symbol":"AAPL"}`))
	require.NoError(t, err)
	assert.False(t, ev.Timestamp.Before(before))
}
