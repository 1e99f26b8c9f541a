package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slowburn/pkg/model"
	"slowburn/pkg/playback"
)

type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialEvents(t *testing.T, hub *EventHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) rawEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e rawEvent
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestEventHub_InitialStateAndPing(t *testing.T) {
	ctrl := &MockController{snap: playback.Snapshot{Section: model.SectionVocab, LineIndex: 1}}
	hub := NewEventHub(ctrl)
	conn := dialEvents(t, hub)

	e := readEvent(t, conn)
	require.Equal(t, "state", e.Type)
	var snap playback.Snapshot
	require.NoError(t, json.Unmarshal(e.Payload, &snap))
	assert.Equal(t, model.SectionVocab, snap.Section)
	assert.Equal(t, 1, snap.LineIndex)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, "error", readEvent(t, conn).Type)
}

func TestEventHub_ForwardsSnapshotsAndAudio(t *testing.T) {
	ctrl := &MockController{}
	hub := NewEventHub(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		hub.Run(ctx)
	}()

	conn := dialEvents(t, hub)
	assert.Equal(t, "state", readEvent(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Clients() == 1 && ctrl.subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	ctrl.emit(playback.Snapshot{Section: model.SectionInsight, Generation: 4})
	e := readEvent(t, conn)
	require.Equal(t, "state", e.Type)
	var snap playback.Snapshot
	require.NoError(t, json.Unmarshal(e.Payload, &snap))
	assert.Equal(t, model.SectionInsight, snap.Section)
	assert.Equal(t, uint64(4), snap.Generation)

	hub.PublishAudio("clip-1", testClip(t))
	e = readEvent(t, conn)
	require.Equal(t, "audio", e.Type)
	var ap AudioPayload
	require.NoError(t, json.Unmarshal(e.Payload, &ap))
	assert.Equal(t, "clip-1", ap.ID)
	assert.Equal(t, "/api/playback/current.wav", ap.URL)
	assert.Equal(t, int64(20), ap.DurationMs)

	cancel()
	<-stopped
	assert.Zero(t, ctrl.subscribers())
}

func TestEventHub_DropsClosedClients(t *testing.T) {
	hub := NewEventHub(&MockController{})
	conn := dialEvents(t, hub)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
