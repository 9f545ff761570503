package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialQuotes(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHandler_StreamsUntilHubStops(t *testing.T) {
	hub := NewHub()
	hub.Start(context.Background())
	srv := httptest.NewServer(WebSocketHandler(hub, zerolog.Nop()))
	defer srv.Close()

	conn := dialQuotes(t, srv, "?code=smsg")
	require.Eventually(t, func() bool { return hub.SubscriberCount("SMSG") == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(Quote{Tick: 1, Code: "SMSG", Price: 72000})
	hub.Publish(Quote{Tick: 1, Code: "BTC", Price: 1})
	hub.Publish(Quote{Tick: 2, Code: "SMSG", Price: 72100})

	for _, want := range []int{1, 2} {
		var q Quote
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&q))
		assert.Equal(t, want, q.Tick)
		assert.Equal(t, "SMSG", q.Code)
	}

	hub.Stop()
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketHandler_ClientCloseUnsubscribes(t *testing.T) {
	hub := NewHub()
	hub.Start(context.Background())
	defer hub.Stop()
	srv := httptest.NewServer(WebSocketHandler(hub, zerolog.Nop()))
	defer srv.Close()

	conn := dialQuotes(t, srv, "")
	require.Eventually(t, func() bool { return hub.SubscriberCount(All) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount(All) == 0 }, 2*time.Second, 5*time.Millisecond)
}
