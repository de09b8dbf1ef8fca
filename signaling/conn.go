package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	meshsignal "github.com/webmeet/meshsignal"
)

const (
	// Close the socket if a single write takes longer than this.
	writeTimeout = 5 * time.Second
	// Outbound events queued per connection before the peer is considered
	// too slow and events are dropped.
	outboundQueueSize = 256
)

// Conn is one live client session as the registry and relay see it.
// Enqueue never blocks; events for a gone or stalled peer are dropped.
type Conn interface {
	ID() meshsignal.PeerID
	Enqueue(ev Event, data any)
}

// wsConn wraps a websocket with a buffered outbound queue drained by a
// single writer goroutine, so delivery order per recipient matches
// enqueue order.
type wsConn struct {
	id   meshsignal.PeerID
	sock *websocket.Conn
	out  chan Envelope
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

func newWSConn(sock *websocket.Conn, log *slog.Logger) *wsConn {
	c := &wsConn{
		id:   uuid.New(),
		sock: sock,
		out:  make(chan Envelope, outboundQueueSize),
		done: make(chan struct{}),
		log:  log,
	}
	go c.writePump()
	return c
}

func (c *wsConn) ID() meshsignal.PeerID { return c.id }

// Enqueue marshals data and queues it for delivery. A full queue or a
// closed connection drops the event; relay is fire-and-forget.
func (c *wsConn) Enqueue(ev Event, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Error("marshal outbound event", "event", ev, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.out <- Envelope{Event: ev, Data: raw}:
	default:
		c.log.Debug("outbound queue full, dropping event", "peer", c.id, "event", ev)
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.out:
			if err := WriteEnvelope(c.sock, env, writeTimeout); err != nil {
				c.log.Debug("peer write failed, shutting down writer", "peer", c.id, "error", err)
				c.close()
				return
			}
		}
	}
}

// close stops the writer goroutine. Idempotent; racing Enqueues fall
// through to the drop path.
func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}
