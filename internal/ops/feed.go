package ops

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/flowsentry/flowsentry/internal/models"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedSendBuffer   = 64
)

// Feed pushes dispatched alerts to connected websocket clients. It is a
// dispatcher consumer: a slow client's buffer fills and the client is
// dropped; dispatch itself is never blocked.
type Feed struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan models.Alert
}

// NewFeed constructs an empty feed.
func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		logger:   logger.With().Str("component", "alert_feed").Logger(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		clients:  make(map[*feedClient]struct{}),
	}
}

// Name implements dispatch.Consumer.
func (f *Feed) Name() string { return "ws_feed" }

// OnEvent implements dispatch.Consumer. It fans the alert out to every
// connected client without waiting on any of them.
func (f *Feed) OnEvent(alert models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- alert:
		default:
			// Slow client; drop it rather than queue unboundedly.
			delete(f.clients, c)
			close(c.send)
			f.logger.Warn().Msg("dropping slow feed client")
		}
	}
	return nil
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for c := range f.clients {
		close(c.send)
		delete(f.clients, c)
	}
}

func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &feedClient{conn: conn, send: make(chan models.Alert, feedSendBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[client] = struct{}{}
	f.mu.Unlock()

	go f.writeLoop(client)
	go f.readLoop(client)
}

func (f *Feed) writeLoop(c *feedClient) {
	defer c.conn.Close()
	for alert := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteJSON(alert); err != nil {
			f.remove(c)
			return
		}
	}
}

// readLoop discards client frames; its job is noticing disconnects.
func (f *Feed) readLoop(c *feedClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			f.remove(c)
			return
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}
