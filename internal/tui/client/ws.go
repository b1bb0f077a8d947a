package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
	"github.com/hello-sally/jobwatch/internal/ws"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNotConnected = errors.New("not connected")

// message is the inbound side of ws.WSMessage with the payload left raw.
type message struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient manages the websocket connection to the jobwatch daemon.
type WSClient struct {
	url    string
	token  string
	logger *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings
	conn    *websocket.Conn
	seq     uint64
	gaps    int
	pingCtx context.CancelFunc
}

// NewWSClient creates a client for the daemon's /ws URL. A nil logger
// means slog.Default.
func NewWSClient(url, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{url: url, token: token, logger: logger.With("component", "tui")}
}

// --- Bubble Tea messages ---

type ConnectedMsg struct{}

type DisconnectedMsg struct{ Err error }

// SnapshotMsg replaces the whole watch list.
type SnapshotMsg struct{ Watches []watch.Status }

type WatchStatusMsg struct{ Status watch.Status }

type NotificationMsg struct{ Notification notify.Notification }

type ErrorMsg struct{ Message string }

// Listen returns a command that dials until connected or ctx is done,
// backing off exponentially between attempts.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		header := http.Header{}
		if c.token != "" {
			header.Set("Authorization", "Bearer "+c.token)
		}
		for {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
			if err != nil {
				c.logger.Debug("ws dial failed", "url", c.url, "error", err, "retry", delay)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)
			return ConnectedMsg{}
		}
	}
}

// ReadLoop returns a command that reads until the next message the model
// cares about. Start it after ConnectedMsg and again after each message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: errNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})

		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				if ctx.Err() != nil {
					return nil
				}
				return DisconnectedMsg{Err: err}
			}

			var msg message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Debug("ws decode failed", "error", err)
				continue
			}
			c.track(msg.Seq)

			if teaMsg := decode(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// track records seq and counts skipped sequence numbers.
func (c *WSClient) track(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != 0 && seq > c.seq+1 {
		c.gaps++
	}
	c.seq = seq
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Gaps counts how many times a sequence number was skipped.
func (c *WSClient) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func decode(msg message) tea.Msg {
	switch msg.Type {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return SnapshotMsg{Watches: p.Watches}
		}
	case ws.MsgWatchStatus:
		var p ws.WatchStatusPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WatchStatusMsg{Status: p}
		}
	case ws.MsgNotification:
		var p ws.NotificationPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return NotificationMsg{Notification: p}
		}
	case ws.MsgError:
		var p ws.ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return ErrorMsg{Message: p.Message}
		}
	}
	return nil
}
