package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dialHub spins up a server that registers every connection with the hub for
// the given user, then dials it.
func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		hub.Register(userID, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the server side to land in the hub.
	deadline := time.Now().Add(time.Second)
	for hub.ActiveConnections(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return conn
}

func TestSendJSONReachesClient(t *testing.T) {
	hub := NewHub(10, zap.NewNop())
	conn := dialHub(t, hub, "user-1")

	require.NoError(t, hub.SendJSON("user-1", map[string]string{"type": "test.event"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "test.event", payload["type"])
}

func TestSendToUnknownUserIsNoop(t *testing.T) {
	hub := NewHub(10, zap.NewNop())

	// Must not panic or block.
	hub.Send("nobody", []byte("hello"))
	require.NoError(t, hub.SendJSON("nobody", "hello"))
}

func TestUnregisterRemovesConnection(t *testing.T) {
	hub := NewHub(10, zap.NewNop())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.Register("user-1", conn)
		hub.Unregister("user-1", client)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(time.Second)
	for hub.ActiveConnections("user-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPerUserConnectionLimit(t *testing.T) {
	hub := NewHub(1, zap.NewNop())

	first := dialHub(t, hub, "user-1")
	defer func() { _ = first.Close() }()
	assert.Equal(t, 1, hub.ActiveConnections("user-1"))

	// The second connection is rejected server-side; the hub stays at one.
	second := dialHub(t, hub, "user-1")
	defer func() { _ = second.Close() }()
	assert.Equal(t, 1, hub.ActiveConnections("user-1"))
}
