package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/operation"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPingPeriod = 30 * time.Second
	feedBuffer     = 32
)

// Feed broadcasts every record to connected websocket clients. A client
// that falls feedBuffer messages behind is disconnected.
type Feed struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewFeed creates an empty feed.
func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		logger: logger.With().Str("component", "sink.feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Collect implements Sink.
func (f *Feed) Collect(_ context.Context, snap *operation.Snapshot) error {
	return f.Publish(NewRecord(KindCompleted, snap))
}

// CollectFirstStuck implements Sink.
func (f *Feed) CollectFirstStuck(_ context.Context, snap *operation.Snapshot) error {
	return f.Publish(NewRecord(KindStuck, snap))
}

// CollectError implements Sink.
func (f *Feed) CollectError(msg string, err error) {
	payload := map[string]string{"kind": "error", "message": msg}
	if err != nil {
		payload["error"] = err.Error()
	}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return
	}
	f.broadcast(data)
}

// Publish sends rec to every client.
func (f *Feed) Publish(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f.broadcast(data)
	return nil
}

func (f *Feed) broadcast(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Feed client too slow, disconnecting")
			delete(f.clients, c)
			c.close()
		}
	}
}

// ServeHTTP upgrades the request and streams records until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug().Err(err).Msg("Feed upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	f.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Feed client connected")

	go f.readLoop(c)
	f.writeLoop(c)
}

// readLoop discards client messages and unregisters the client once the
// connection fails.
func (f *Feed) readLoop(c *feedClient) {
	defer f.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(c)
				return
			}
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
	}
}

// Close disconnects every client and rejects new ones.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		c.close()
	}
	return nil
}
