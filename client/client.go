package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gosuda.org/peerlink/signal"
)

// ConnectionState tracks the signaling connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RelayState tracks relay authentication, orthogonally to the connection
// state.
type RelayState int

const (
	RelayNotAuthenticated RelayState = iota
	RelayAuthenticating
	RelayAuthenticated
	RelayAuthFailed
)

func (s RelayState) String() string {
	switch s {
	case RelayNotAuthenticated:
		return "not_authenticated"
	case RelayAuthenticating:
		return "authenticating"
	case RelayAuthenticated:
		return "authenticated"
	case RelayAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Callbacks are the application's hooks into the protocol actor. All
// callbacks fire from the client's read goroutine or a transport goroutine;
// they must not block. Nil entries are skipped.
type Callbacks struct {
	OnPeerList         func(peers []string)
	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string)

	// OnTextMessage / OnBinaryMessage deliver application payloads from
	// both the direct and the relay data path.
	OnTextMessage   func(peerID, text string)
	OnBinaryMessage func(peerID string, data []byte)

	OnError       func(err error)
	OnStateChange func(state ConnectionState)

	OnRelayAuthResult   func(success bool, message string)
	OnRelayConnected    func(peerID string)
	OnRelayDisconnected func(peerID string)
}

// sessionDescription is the payload of offer and answer envelopes.
type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// iceCandidate is the payload of candidate envelopes.
type iceCandidate struct {
	Candidate string `json:"candidate"`
	Mid       string `json:"mid"`
}

// Client is the peer's side of the signaling state machine. It drives
// registration, peer-list polling, session negotiation through the peer
// transport, and the relay data path.
type Client struct {
	cfg       Config
	transport Transport
	callbacks Callbacks

	mu         sync.Mutex
	ws         *websocket.Conn
	state      ConnectionState
	relayState RelayState
	localID    string
	peers      map[string]*peerSession
	relayPeers map[string]struct{}
	registered chan string
	authResult chan signal.AuthResult
	userClosed bool

	// writeMu serializes frames onto the signaling socket.
	writeMu sync.Mutex
}

// New creates a client. The callbacks must be set before Connect and not
// changed afterwards.
func New(cfg Config, callbacks Callbacks) *Client {
	cfg = cfg.withDefaults()
	transport := cfg.Transport
	if transport == nil {
		transport = NewWebRTCTransport(cfg.STUNServers, cfg.TURNServers)
	}
	return &Client{
		cfg:        cfg,
		transport:  transport,
		callbacks:  callbacks,
		peers:      make(map[string]*peerSession),
		relayPeers: make(map[string]struct{}),
	}
}

// LocalID returns the hub-assigned identity, or "" before registration.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// State returns the signaling connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RelayState returns the relay authentication state.
func (c *Client) RelayState() RelayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relayState
}

// Connect dials the signaling hub, registers, and waits for the echoed
// identity. It returns once the client is Connected or the connection
// timeout expires.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.userClosed = false
	c.registered = make(chan string, 1)
	c.authResult = make(chan signal.AuthResult, 1)
	registered := c.registered
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	// One deadline bounds the whole handshake: dial plus register echo.
	deadline := time.Now().Add(c.cfg.ConnectionTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	ws, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.SignalingURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.setState(StateFailed)
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, c.cfg.SignalingURL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	go c.readLoop(ws)

	if err := c.sendEnvelope(signal.Envelope{Type: signal.TypeRegister, Payload: c.cfg.PeerID}); err != nil {
		c.teardownSocket(ws)
		c.setState(StateFailed)
		return err
	}

	select {
	case id := <-registered:
		log.Info().Str("peer", id).Msg("[P2P] registered with signaling hub")
		c.setState(StateConnected)
		return nil
	case <-time.After(time.Until(deadline)):
		c.teardownSocket(ws)
		c.setState(StateFailed)
		return fmt.Errorf("%w: no registration echo", ErrTimeout)
	case <-ctx.Done():
		c.teardownSocket(ws)
		c.setState(StateFailed)
		return ctx.Err()
	}
}

// Close disconnects from the hub and closes every direct session. The
// client does not auto-reconnect after Close.
func (c *Client) Close() {
	c.mu.Lock()
	c.userClosed = true
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		c.teardownSocket(ws)
	}
}

// RequestPeerList asks the hub for the current directory snapshot; the
// result arrives via OnPeerList.
func (c *Client) RequestPeerList() error {
	return c.sendEnvelope(signal.Envelope{Type: signal.TypePeerList})
}

// ConnectToPeer initiates a direct session: it sends an offer and streams
// candidates as they gather. OnPeerConnected fires once the data channel
// opens.
func (c *Client) ConnectToPeer(peerID string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: not connected to signaling hub", ErrConnectionFailed)
	}
	if _, exists := c.peers[peerID]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	log.Info().Str("peer", peerID).Msg("[P2P] initiating direct connection")
	_, err := c.newPeerSession(peerID, true)
	return err
}

// ConnectToPeerWait initiates a direct session and blocks until the data
// channel opens, the context ends, or the peer connect timeout expires.
func (c *Client) ConnectToPeerWait(ctx context.Context, peerID string) error {
	if err := c.ConnectToPeer(peerID); err != nil {
		return err
	}
	c.mu.Lock()
	ps := c.peers[peerID]
	c.mu.Unlock()
	if ps == nil {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	select {
	case <-ps.open:
		return nil
	case <-time.After(c.cfg.PeerConnectTimeout):
		return fmt.Errorf("%w: peer %s", ErrTimeout, peerID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DisconnectFromPeer closes the direct session with the peer, if any.
func (c *Client) DisconnectFromPeer(peerID string) {
	c.mu.Lock()
	ps := c.peers[peerID]
	delete(c.peers, peerID)
	c.mu.Unlock()
	if ps != nil {
		_ = ps.session.Close()
	}
}

// SendText sends text over the direct data channel.
func (c *Client) SendText(peerID, text string) error {
	ps, err := c.openSession(peerID)
	if err != nil {
		return err
	}
	return ps.session.SendText(text)
}

// SendBinary sends bytes over the direct data channel.
func (c *Client) SendBinary(peerID string, data []byte) error {
	ps, err := c.openSession(peerID)
	if err != nil {
		return err
	}
	return ps.session.SendBinary(data)
}

// BroadcastText sends text to every peer with an open direct channel and
// returns the number of deliveries attempted.
func (c *Client) BroadcastText(text string) int {
	count := 0
	for _, ps := range c.openSessions() {
		if ps.session.SendText(text) == nil {
			count++
		}
	}
	return count
}

// BroadcastBinary sends bytes to every peer with an open direct channel and
// returns the number of deliveries attempted.
func (c *Client) BroadcastBinary(data []byte) int {
	count := 0
	for _, ps := range c.openSessions() {
		if ps.session.SendBinary(data) == nil {
			count++
		}
	}
	return count
}

// ConnectedPeers lists peers with an open direct data channel.
func (c *Client) ConnectedPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, ps := range c.peers {
		if ps.isOpen.Load() {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsPeerConnected reports whether the direct data channel to the peer is
// open.
func (c *Client) IsPeerConnected(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.peers[peerID]
	return ok && ps.isOpen.Load()
}

// PeerInfo is a snapshot of one peer's connectivity.
type PeerInfo struct {
	ID     string
	Direct bool
	Relay  bool
}

// GetPeerInfo snapshots connectivity toward the peer.
func (c *Client) GetPeerInfo(peerID string) PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := PeerInfo{ID: peerID}
	if ps, ok := c.peers[peerID]; ok {
		info.Direct = ps.isOpen.Load()
	}
	_, info.Relay = c.relayPeers[peerID]
	return info
}

func (c *Client) openSession(peerID string) (*peerSession, error) {
	c.mu.Lock()
	ps, ok := c.peers[peerID]
	c.mu.Unlock()
	if !ok || !ps.isOpen.Load() {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotOpen, peerID)
	}
	return ps, nil
}

func (c *Client) openSessions() []*peerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*peerSession
	for _, ps := range c.peers {
		if ps.isOpen.Load() {
			out = append(out, ps)
		}
	}
	return out
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	c.setStateLocked(state)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	if cb := c.callbacks.OnStateChange; cb != nil {
		go cb(state)
	}
}

func (c *Client) fireError(err error) {
	if cb := c.callbacks.OnError; cb != nil {
		cb(err)
	}
}

func (c *Client) sendEnvelope(env signal.Envelope) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("%w: signaling socket closed", ErrConnectionFailed)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, env.Encode()); err != nil {
		return fmt.Errorf("%w: %v", ErrSignalingError, err)
	}
	return nil
}

func (c *Client) teardownSocket(ws *websocket.Conn) {
	_ = ws.Close()
}

// readLoop decodes and dispatches every inbound envelope until the socket
// dies, then runs the disconnect transition.
func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws)
			return
		}
		env, err := signal.DecodeEnvelope(data)
		if err != nil {
			c.fireError(fmt.Errorf("%w: %v", ErrInvalidData, err))
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env signal.Envelope) {
	switch env.Type {
	case signal.TypeRegister:
		c.handleRegistered(env.Payload)
	case signal.TypePeerList:
		c.handlePeerList(env.Payload)
	case signal.TypeOffer:
		c.handleOffer(env)
	case signal.TypeAnswer:
		c.handleAnswer(env)
	case signal.TypeCandidate:
		c.handleCandidate(env)
	case signal.TypeError:
		c.fireError(fmt.Errorf("%w: %s", ErrSignalingError, env.Payload))
	case signal.TypeRelayAuthResult:
		c.handleRelayAuthResult(env.Payload)
	case signal.TypeRelayConnect:
		c.handleRelayConnect(env.From)
	case signal.TypeRelayData:
		c.handleRelayData(env)
	case signal.TypeRelayDisconnect:
		c.handleRelayDisconnect(env.From)
	default:
		log.Debug().Str("type", string(env.Type)).Msg("[P2P] unhandled envelope")
	}
}

func (c *Client) handleRegistered(id string) {
	c.mu.Lock()
	c.localID = id
	registered := c.registered
	c.mu.Unlock()
	if registered != nil {
		select {
		case registered <- id:
		default:
		}
	}
	// Prime the application's view of the directory.
	_ = c.RequestPeerList()
}

func (c *Client) handlePeerList(payload string) {
	peers, err := signal.ParsePeerList(payload)
	if err != nil {
		c.fireError(fmt.Errorf("%w: peer list: %v", ErrInvalidData, err))
		return
	}
	if cb := c.callbacks.OnPeerList; cb != nil {
		cb(peers)
	}
}

// handleOffer allocates a responder session for the remote peer and feeds
// it the remote description; the session's answer flows back through the
// session events.
func (c *Client) handleOffer(env signal.Envelope) {
	var desc sessionDescription
	if err := json.Unmarshal([]byte(env.Payload), &desc); err != nil {
		c.fireError(fmt.Errorf("%w: offer from %s: %v", ErrInvalidData, env.From, err))
		return
	}

	c.mu.Lock()
	ps := c.peers[env.From]
	c.mu.Unlock()
	if ps == nil {
		var err error
		ps, err = c.newPeerSession(env.From, false)
		if err != nil {
			c.fireError(fmt.Errorf("%w: session for %s: %v", ErrInternalError, env.From, err))
			return
		}
	}
	if err := ps.session.SetRemoteDescription(desc.Type, desc.SDP); err != nil {
		c.fireError(err)
	}
}

func (c *Client) handleAnswer(env signal.Envelope) {
	var desc sessionDescription
	if err := json.Unmarshal([]byte(env.Payload), &desc); err != nil {
		c.fireError(fmt.Errorf("%w: answer from %s: %v", ErrInvalidData, env.From, err))
		return
	}
	c.mu.Lock()
	ps := c.peers[env.From]
	c.mu.Unlock()
	if ps == nil {
		log.Warn().Str("peer", env.From).Msg("[P2P] answer for unknown session")
		return
	}
	if err := ps.session.SetRemoteDescription(desc.Type, desc.SDP); err != nil {
		c.fireError(err)
	}
}

func (c *Client) handleCandidate(env signal.Envelope) {
	var cand iceCandidate
	if err := json.Unmarshal([]byte(env.Payload), &cand); err != nil {
		c.fireError(fmt.Errorf("%w: candidate from %s: %v", ErrInvalidData, env.From, err))
		return
	}
	c.mu.Lock()
	ps := c.peers[env.From]
	c.mu.Unlock()
	if ps == nil {
		log.Warn().Str("peer", env.From).Msg("[P2P] candidate for unknown session")
		return
	}
	if err := ps.session.AddRemoteCandidate(cand.Candidate, cand.Mid); err != nil {
		c.fireError(err)
	}
}

// handleDisconnect clears the local view of the hub: both state machines
// transition, every direct session closes, and the relay-peer set empties.
func (c *Client) handleDisconnect(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer connection already replaced this socket.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.localID = ""
	sessions := c.peers
	c.peers = make(map[string]*peerSession)
	c.relayPeers = make(map[string]struct{})
	c.relayState = RelayNotAuthenticated
	userClosed := c.userClosed
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	for id, ps := range sessions {
		_ = ps.session.Close()
		if cb := c.callbacks.OnPeerDisconnected; cb != nil && ps.isOpen.Load() {
			cb(id)
		}
	}
	log.Info().Bool("user_closed", userClosed).Msg("[P2P] disconnected from signaling hub")

	if !userClosed && c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	for {
		time.Sleep(c.cfg.ReconnectInterval)
		c.mu.Lock()
		stop := c.userClosed || c.state == StateConnected || c.state == StateConnecting
		c.mu.Unlock()
		if stop {
			return
		}
		log.Info().Msg("[P2P] attempting reconnect")
		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}
}
