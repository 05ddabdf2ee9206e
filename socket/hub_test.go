package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal WSMessage JSON")
	return msg
}

func startHub(t *testing.T, origin string) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	hub.AllowedOrigin = origin
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The email would come from the verified token in production.
		ServeWs(hub, w, r, r.URL.Query().Get("email"))
	}))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, wsURL, email string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?email="+email, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ready := readMessage(t, conn)
	require.Equal(t, ReadyType, ready.Type)
	return conn
}

func TestHubFansOutToSameUserOnly(t *testing.T) {
	hub, wsURL := startHub(t, "*")

	tab1 := dial(t, wsURL, "a@x.com")
	tab2 := dial(t, wsURL, "a@x.com")
	other := dial(t, wsURL, "b@x.com")

	assert.Equal(t, 2, hub.ClientCount("a@x.com"))
	assert.Equal(t, 1, hub.ClientCount("b@x.com"))

	hub.Publish("a@x.com", DocumentsUpdateType, DocumentsPayload{UIDs: []int64{2, 3}})

	for _, conn := range []*websocket.Conn{tab1, tab2} {
		msg := readMessage(t, conn)
		assert.Equal(t, DocumentsUpdateType, msg.Type)
		assert.JSONEq(t, `{"uids":[2,3]}`, string(msg.Payload))
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "another user's connection must not receive the event")
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub, wsURL := startHub(t, "*")

	conn := dial(t, wsURL, "a@x.com")
	require.Equal(t, 1, hub.ClientCount("a@x.com"))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.ClientCount("a@x.com") == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize+10; i++ {
			hub.Publish("a@x.com", DocumentDeleteType, DocumentsPayload{UIDs: []int64{1}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stopped hub")
	}
}

func TestUpgradeRejectsForeignOrigin(t *testing.T) {
	_, wsURL := startHub(t, "https://app.example.com")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?email=a@x.com", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
