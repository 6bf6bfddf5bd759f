package signal

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub is the signaling core: it owns the peer directory, the relay graph
// and the relay authenticator, and dispatches every inbound envelope to
// exactly one of them.
//
// A single mutex covers every lookup-decide-dispatch sequence, so two
// inbound frames can never observe inconsistent views across directory and
// graph. The region is never held across blocking I/O: sends are
// non-blocking enqueues onto each connection's serialized writer.
type Hub struct {
	mu    sync.Mutex
	dir   *Directory
	graph *RelayGraph
	auth  *Authenticator
}

// NewHub creates a hub. An empty relaySecret disables the relay data plane.
func NewHub(relaySecret string) *Hub {
	return &Hub{
		dir:   NewDirectory(),
		graph: NewRelayGraph(),
		auth:  NewAuthenticator(relaySecret),
	}
}

// RelayEnabled reports whether a relay secret is configured.
func (h *Hub) RelayEnabled() bool {
	return h.auth.Enabled()
}

// ServeConn drives one WebSocket until it closes: it decodes text frames
// into envelopes, dispatches them, and runs directory and relay-graph
// cleanup exactly once when the socket dies.
func (h *Hub) ServeConn(ws *websocket.Conn) {
	c := newConn(ws)
	defer h.teardown(c)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			// A malformed frame never costs the sender its connection.
			log.Warn().Err(err).Str("peer", c.Identity()).Msg("[Hub] discarding malformed frame")
			continue
		}
		h.dispatch(c, env)
	}
}

func (h *Hub) dispatch(c *Conn, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch env.Type {
	case TypeRegister:
		h.handleRegister(c, env)
	case TypePeerList:
		h.handlePeerList(c)
	case TypeOffer, TypeAnswer, TypeCandidate:
		h.forward(c, env)
	case TypeConnect:
		h.handleConnect(c, env)
	case TypeRelayAuth:
		h.handleRelayAuth(c, env)
	case TypeRelayConnect:
		h.handleRelayConnect(c, env)
	case TypeRelayData:
		h.handleRelayData(c, env)
	case TypeRelayDisconnect:
		h.handleRelayDisconnect(c, env)
	default:
		// error, chat, server-originated tags and quarantined unknown
		// frames are logged and discarded.
		log.Debug().Str("peer", c.Identity()).Str("type", string(env.Type)).Msg("[Hub] unroutable frame dropped")
	}
}

// handleRegister binds an identity to the connection and echoes it. The
// echo is the first hub-originated frame on the connection because it is
// enqueued before the mutex is released. A connection that already holds an
// identity ignores further register frames.
func (h *Hub) handleRegister(c *Conn, env Envelope) {
	if c.identity != "" {
		log.Debug().Str("peer", c.identity).Msg("[Hub] duplicate register ignored")
		return
	}
	assigned := h.dir.Register(c, env.Payload)
	connectedPeers.Set(float64(h.dir.Len()))
	log.Info().Str("peer", assigned).Str("requested", env.Payload).Msg("[Hub] peer registered")
	c.Send(Envelope{Type: TypeRegister, Payload: assigned})
}

func (h *Hub) handlePeerList(c *Conn) {
	list := h.dir.ListExcluding(c.identity)
	c.Send(Envelope{Type: TypePeerList, Payload: MarshalPeerList(list)})
}

// forward stamps the sender identity onto the envelope and delivers it
// verbatim to the target. The hub never inspects the payload.
func (h *Hub) forward(c *Conn, env Envelope) {
	target, ok := h.dir.Lookup(env.To)
	if !ok {
		h.reject(c, "peer_not_found", "Peer not found: "+env.To)
		return
	}
	env.From = c.identity
	target.Send(env)
	framesForwarded.WithLabelValues(string(env.Type)).Inc()
	log.Debug().Str("type", string(env.Type)).Str("from", env.From).Str("to", env.To).Msg("[Hub] forwarded")
}

func (h *Hub) handleConnect(c *Conn, env Envelope) {
	target, ok := h.dir.Lookup(env.To)
	if !ok {
		h.reject(c, "peer_not_found", "Peer not found: "+env.To)
		return
	}
	target.Send(Envelope{
		Type:    TypeConnect,
		From:    c.identity,
		To:      env.To,
		Payload: "connect_request",
	})
	framesForwarded.WithLabelValues(string(TypeConnect)).Inc()
}

// handleRelayAuth flips the connection's relay flag on success. The flag
// transitions false->true at most once and is never reset.
func (h *Hub) handleRelayAuth(c *Conn, env Envelope) {
	result := h.auth.Verify(env.Payload)
	if result.Success && !c.relayAuthenticated {
		c.relayAuthenticated = true
		log.Info().Str("peer", c.identity).Msg("[Hub] relay authenticated")
	}
	if !result.Success {
		log.Warn().Str("peer", c.identity).Str("reason", result.Message).Msg("[Hub] relay auth failed")
	}
	c.Send(Envelope{Type: TypeRelayAuthResult, Payload: result.Marshal()})
}

// handleRelayConnect inserts the pair and notifies the target. Only the
// originator must be authenticated; the target learns of the pair purely by
// the notification and may use it without authenticating.
func (h *Hub) handleRelayConnect(c *Conn, env Envelope) {
	if !c.relayAuthenticated {
		h.reject(c, "not_authenticated", "Not authenticated for relay")
		return
	}
	// A pair always joins two distinct identities.
	if env.To == c.identity {
		h.reject(c, "self_pair", "Cannot relay to self")
		return
	}
	target, ok := h.dir.Lookup(env.To)
	if !ok {
		h.reject(c, "peer_not_found", "Peer not found: "+env.To)
		return
	}
	h.graph.Insert(c.identity, env.To)
	activeRelayPairs.Set(float64(h.graph.Len()))
	log.Info().Str("from", c.identity).Str("to", env.To).Msg("[Hub] relay pair established")
	target.Send(Envelope{Type: TypeRelayConnect, From: c.identity, To: env.To})
}

func (h *Hub) handleRelayData(c *Conn, env Envelope) {
	if !h.graph.Has(c.identity, env.To) {
		h.reject(c, "no_relay_pair", "No relay connection with "+env.To)
		return
	}
	target, ok := h.dir.Lookup(env.To)
	if !ok {
		h.reject(c, "peer_not_found", "Peer not found: "+env.To)
		return
	}
	env.From = c.identity
	target.Send(env)
	framesForwarded.WithLabelValues(string(TypeRelayData)).Inc()
	relayDataBytes.Add(float64(len(env.Payload)))
}

func (h *Hub) handleRelayDisconnect(c *Conn, env Envelope) {
	h.graph.Remove(c.identity, env.To)
	activeRelayPairs.Set(float64(h.graph.Len()))
	if target, ok := h.dir.Lookup(env.To); ok {
		target.Send(Envelope{Type: TypeRelayDisconnect, From: c.identity, To: env.To})
	}
	log.Info().Str("from", c.identity).Str("to", env.To).Msg("[Hub] relay pair removed")
}

func (h *Hub) reject(c *Conn, reason, message string) {
	framesRejected.WithLabelValues(reason).Inc()
	log.Debug().Str("peer", c.identity).Str("reason", reason).Msg("[Hub] frame rejected")
	c.Send(Envelope{Type: TypeError, Payload: message})
}

// teardown runs once per connection when its socket dies: every relay pair
// containing the identity is removed with a single relay_disconnect to the
// surviving end, then the directory entry is released for reuse.
func (h *Hub) teardown(c *Conn) {
	c.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	id := c.identity
	if id == "" {
		return
	}
	for _, other := range h.graph.RemovePeer(id) {
		if survivor, ok := h.dir.Lookup(other); ok {
			survivor.Send(Envelope{Type: TypeRelayDisconnect, From: id, To: other})
		}
	}
	h.dir.Unregister(id)
	connectedPeers.Set(float64(h.dir.Len()))
	activeRelayPairs.Set(float64(h.graph.Len()))
	log.Info().Str("peer", id).Msg("[Hub] peer disconnected")
}

// PeerStatus is one row of the admin peer listing.
type PeerStatus struct {
	ID                 string `json:"id"`
	RelayAuthenticated bool   `json:"relay_authenticated"`
}

// Peers snapshots the registered peers and their relay auth flags.
func (h *Hub) Peers() []PeerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := make([]PeerStatus, 0, h.dir.Len())
	for _, id := range h.dir.ListExcluding("") {
		c, _ := h.dir.Lookup(id)
		list = append(list, PeerStatus{ID: id, RelayAuthenticated: c.relayAuthenticated})
	}
	return list
}

// RelayPairs snapshots the active relay pairs.
func (h *Hub) RelayPairs() [][2]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Pairs()
}
