package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/metrics"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/source"
)

type nullSource struct {
	events chan models.RawEvent
}

func (n *nullSource) Start(ctx context.Context) error { return nil }
func (n *nullSource) Events() <-chan models.RawEvent { return n.events }
func (n *nullSource) Stop(ctx context.Context) error { return nil }

func testGateway(t *testing.T) *source.SourceGateway {
	t.Helper()
	health := source.NewHealthMonitor(time.Hour)
	health.SetConnected(true, time.Now())
	gw := source.NewSourceGateway(source.GatewayConfig{},
		&nullSource{events: make(chan models.RawEvent)},
		&nullSource{events: make(chan models.RawEvent)},
		health, metrics.New(), zerolog.Nop())
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { gw.Stop(context.Background()) })
	return gw
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(":0", testGateway(t), metrics.New(), zerolog.Nop())

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "streaming", resp.Mode)
	assert.True(t, resp.Health.Connected)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.New()
	reg.EventsIngested.WithLabelValues("stream").Inc()
	s := NewServer(":0", testGateway(t), reg, zerolog.Nop())

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowsentry_events_ingested_total")
}

func TestAlertFeed(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(feed.handleWS))
	defer srv.Close()
	defer feed.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	alert := models.Alert{ID: uuid.New(), Kind: models.AlertPrint, CreatedAt: time.Now()}

	// The upgrade races the fan-out; retry until the client is registered.
	require.Eventually(t, func() bool {
		require.NoError(t, feed.OnEvent(alert))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		var got models.Alert
		if err := conn.ReadJSON(&got); err != nil {
			return false
		}
		return got.ID == alert.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeedAfterClose(t *testing.T) {
	feed := NewFeed(zerolog.Nop())
	feed.Close()

	// OnEvent after close is a no-op, not a panic.
	assert.NoError(t, feed.OnEvent(models.Alert{ID: uuid.New()}))
}
