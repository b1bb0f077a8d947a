package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
	"github.com/hello-sally/jobwatch/internal/ws"
)

// fakeDaemon upgrades one connection and writes msgs to it.
func fakeDaemon(t *testing.T, token string, msgs ...ws.WSMessage) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				t.Errorf("marshal: %v", err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_ConnectsAndDecodes(t *testing.T) {
	url := fakeDaemon(t, "s3cret",
		ws.WSMessage{Type: ws.MsgSnapshot, Seq: 4, Payload: ws.SnapshotPayload{
			Watches: []watch.Status{{Report: "12", Job: notify.Transcription}},
		}},
		ws.WSMessage{Type: "unknown", Seq: 5, Payload: map[string]int{"x": 1}},
		ws.WSMessage{Type: ws.MsgNotification, Seq: 6, Payload: notify.Notification{
			Watch: "12", Job: notify.Transcription, ItemID: "3", Kind: notify.Failed, Label: "retro",
		}},
		ws.WSMessage{Type: ws.MsgWatchStatus, Seq: 9, Payload: watch.Status{Report: "12", Job: notify.Analysis}},
		ws.WSMessage{Type: ws.MsgError, Seq: 10, Payload: ws.ErrorPayload{Message: "boom"}},
	)
	c := NewWSClient(url, "s3cret", nil)
	t.Cleanup(c.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.IsType(t, ConnectedMsg{}, c.Listen(ctx)())

	snap, ok := c.ReadLoop(ctx)().(SnapshotMsg)
	require.True(t, ok)
	require.Len(t, snap.Watches, 1)
	assert.Equal(t, "12", snap.Watches[0].Report.String())

	n, ok := c.ReadLoop(ctx)().(NotificationMsg)
	require.True(t, ok)
	assert.Equal(t, notify.Failed, n.Notification.Kind)
	assert.Equal(t, "retro", n.Notification.Label)

	st, ok := c.ReadLoop(ctx)().(WatchStatusMsg)
	require.True(t, ok)
	assert.Equal(t, notify.Analysis, st.Status.Job)

	e, ok := c.ReadLoop(ctx)().(ErrorMsg)
	require.True(t, ok)
	assert.Equal(t, "boom", e.Message)

	assert.Equal(t, uint64(10), c.Seq())
	assert.Equal(t, 1, c.Gaps())
}

func TestWSClient_ReadLoopWithoutConnection(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/ws", "", nil)
	msg, ok := c.ReadLoop(context.Background())().(DisconnectedMsg)
	require.True(t, ok)
	assert.ErrorIs(t, msg.Err, errNotConnected)
}

func TestWSClient_DisconnectReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), "", nil)
	ctx := context.Background()
	require.IsType(t, ConnectedMsg{}, c.Listen(ctx)())
	msg, ok := c.ReadLoop(ctx)().(DisconnectedMsg)
	require.True(t, ok)
	assert.Error(t, msg.Err)
}

func TestWSClient_ListenGivesUpWhenCanceled(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/ws", "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan interface{}, 1)
	go func() { done <- c.Listen(ctx)() }()
	select {
	case msg := <-done:
		assert.Nil(t, msg)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
