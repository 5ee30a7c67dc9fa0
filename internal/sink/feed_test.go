package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialFeed(t *testing.T, f *Feed) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return f.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestFeed_Broadcast(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	conn := dialFeed(t, f)

	require.NoError(t, f.CollectFirstStuck(context.Background(), newSnapshot(t, false)))
	f.CollectError("sink failed", errors.New("boom"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var rec Record
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, KindStuck, rec.Kind)
	assert.Equal(t, "GET /orders", rec.Description)

	var errMsg map[string]string
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg["kind"])
	assert.Equal(t, "boom", errMsg["error"])
}

func TestFeed_CloseDisconnectsClients(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	conn := dialFeed(t, f)

	require.NoError(t, f.Close())
	assert.Zero(t, f.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
}

func TestFeed_ClientDisconnectUnregisters(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	conn := dialFeed(t, f)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	data, err := json.Marshal(NewRecord(KindCompleted, newSnapshot(t, true)))
	require.NoError(t, err)
	assert.NotPanics(t, func() { f.broadcast(data) })
}
