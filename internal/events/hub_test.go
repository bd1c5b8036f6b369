package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m ServerMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_FiltersBySubject(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	h := NewHub(log)
	conn := dial(t, h, "?subjectId=claim-1")

	h.Publish(Event{Type: "claim.approve", SubjectID: "claim-2", Status: "Approved"})
	h.Publish(Event{Type: "claim.pay", SubjectID: "claim-1", Status: "Paid"})

	m := read(t, conn)
	require.NotNil(t, m.Event)
	assert.Equal(t, "claim.pay", m.Event.Type)
	assert.Equal(t, "claim-1", m.Event.SubjectID)
	assert.NotEmpty(t, m.Event.ID)
	assert.False(t, m.Event.Timestamp.IsZero())
}

func TestHub_SubscribeAndPing(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	h := NewHub(log)
	conn := dial(t, h, "")

	sub := "req-9"
	require.NoError(t, conn.WriteJSON(ClientMessage{Subscribe: &sub}))
	m := read(t, conn)
	require.NotNil(t, m.Subscribed)
	assert.Equal(t, "req-9", *m.Subscribed)

	require.NoError(t, conn.WriteJSON(ClientMessage{Ping: "hi"}))
	assert.Equal(t, "pong", read(t, conn).Pong)

	h.Publish(Event{Type: "policy_request.submit", SubjectID: "other"})
	h.Publish(Event{Type: "policy_request.approve", SubjectID: "req-9"})
	m = read(t, conn)
	require.NotNil(t, m.Event)
	assert.Equal(t, "policy_request.approve", m.Event.Type)
}

func TestHub_CloseDisconnects(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	h := NewHub(log)
	conn := dial(t, h, "")
	h.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
