package signal

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// sendQueueSize bounds the per-connection outbound queue. A peer that
	// cannot drain its socket loses frames instead of stalling the hub.
	sendQueueSize = 64

	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second
)

// Conn owns the write side of one WebSocket. All hub-originated frames for
// a peer pass through its queue, so writes never interleave at the byte
// level and are delivered in enqueue order.
//
// The identity and relayAuthenticated fields are guarded by the hub mutex,
// not by the Conn itself.
type Conn struct {
	ws *websocket.Conn

	// identity is bound once at registration and never changes.
	identity string

	// relayAuthenticated transitions false->true at most once.
	relayAuthenticated bool

	sendq     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:    ws,
		sendq: make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Identity returns the bound identity, or "" before registration.
func (c *Conn) Identity() string {
	return c.identity
}

// Send enqueues an envelope for delivery. It is best-effort: a closed
// connection or a full queue drops the frame with a log line. Per-peer
// write failure must not stall or crash the hub.
func (c *Conn) Send(env Envelope) {
	frame := env.Encode()
	select {
	case <-c.done:
		log.Debug().Str("peer", c.identity).Str("type", string(env.Type)).Msg("[Conn] send after close, dropped")
	case c.sendq <- frame:
	default:
		framesDropped.Inc()
		log.Warn().Str("peer", c.identity).Str("type", string(env.Type)).Msg("[Conn] send queue full, frame dropped")
	}
}

func (c *Conn) writeLoop() {
	broken := false
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendq:
			if broken {
				framesDropped.Inc()
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Swallow the failure; the read loop observes the dead
				// socket and runs cleanup.
				broken = true
				framesDropped.Inc()
				log.Warn().Err(err).Str("peer", c.identity).Msg("[Conn] write failed")
			}
		}
	}
}

// Close tears down the socket. It is safe to call from any goroutine and
// from multiple paths; the underlying close runs once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
