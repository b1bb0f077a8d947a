package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/watch"
)

// ErrTooManyConnections is returned by AddClient when the connection
// limit has been reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

// StatusSource supplies the watch list sent in snapshots.
type StatusSource interface {
	Statuses() []watch.Status
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans notifications and watch status changes out to every
// connected websocket client. It never blocks its callers: a client
// whose buffer is full is disconnected.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	seq      uint64
	source   StatusSource
	logger   *slog.Logger
	clock    clockwork.Clock
	stop     chan struct{}
	stopOnce sync.Once
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithMaxConnections caps concurrent clients. Zero means unlimited.
func WithMaxConnections(n int) BroadcasterOption {
	return func(b *Broadcaster) { b.maxConns = n }
}

func WithBroadcastLogger(l *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

func WithBroadcastClock(c clockwork.Clock) BroadcasterOption {
	return func(b *Broadcaster) { b.clock = c }
}

// NewBroadcaster creates a broadcaster that also pushes a full snapshot
// every snapshotInterval. A non-positive interval disables periodic
// snapshots.
func NewBroadcaster(snapshotInterval time.Duration, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		clients: make(map[*client]bool),
		logger:  slog.Default(),
		clock:   clockwork.NewRealClock(),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With("component", "ws")
	if snapshotInterval > 0 {
		go b.snapshotLoop(snapshotInterval)
	}
	return b
}

// SetStatusSource sets where snapshots read watch statuses from. Must be
// called before clients connect.
func (b *Broadcaster) SetStatusSource(src StatusSource) {
	b.mu.Lock()
	b.source = src
	b.mu.Unlock()
}

// AddClient registers conn and queues an initial snapshot for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, clientBuffer)}
	snap := b.snapshot()

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	// The initial snapshot reuses the current seq.
	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Seq: b.seq, Payload: snap})
	if err == nil {
		c.send <- data
	}
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Notify implements notify.Sink.
func (b *Broadcaster) Notify(n notify.Notification) {
	b.broadcast(MsgNotification, n)
}

// QueueStatus pushes one watch's status change.
func (b *Broadcaster) QueueStatus(s watch.Status) {
	b.broadcast(MsgWatchStatus, s)
}

// BroadcastSnapshot pushes the full watch list to every client.
func (b *Broadcaster) BroadcastSnapshot() {
	b.broadcast(MsgSnapshot, b.snapshot())
}

// snapshot reads the source without holding b.mu: controllers call
// Notify while holding their own lock.
func (b *Broadcaster) snapshot() SnapshotPayload {
	b.mu.RLock()
	src := b.source
	b.mu.RUnlock()
	p := SnapshotPayload{Watches: []watch.Status{}}
	if src != nil {
		if all := src.Statuses(); all != nil {
			p.Watches = all
		}
	}
	return p
}

func (b *Broadcaster) snapshotLoop(every time.Duration) {
	ticker := b.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.Chan():
			b.BroadcastSnapshot()
		}
	}
}

func (b *Broadcaster) broadcast(t MessageType, payload interface{}) {
	b.mu.Lock()
	b.seq++
	msg := WSMessage{Type: t, Seq: b.seq, Payload: payload}
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal", "type", t, "error", err)
		return
	}
	for _, c := range clients {
		slow := false
		b.mu.RLock()
		if b.clients[c] {
			select {
			case c.send <- data:
			default:
				slow = true
			}
		}
		b.mu.RUnlock()
		if slow {
			b.logger.Warn("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}
