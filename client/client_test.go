package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/peerlink/signal"
)

const waitTimeout = 2 * time.Second

// stubNet is an in-memory peer transport shared by the clients under test.
// A session opens as soon as the offer/answer exchange completes over the
// signaling hub; data frames are handed straight to the counterpart session.
type stubNet struct {
	mu       sync.Mutex
	sessions map[string]*stubSession // keyed "local->remote"
}

func newStubNet() *stubNet {
	return &stubNet{sessions: make(map[string]*stubSession)}
}

func (n *stubNet) transport(name string) Transport {
	return &stubTransport{net: n, name: name}
}

func (n *stubNet) lookup(local, remote string) *stubSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[local+"->"+remote]
}

type stubTransport struct {
	net  *stubNet
	name string
}

func (t *stubTransport) NewSession(peerID string, initiator bool, events SessionEvents) (Session, error) {
	s := &stubSession{net: t.net, local: t.name, remote: peerID, events: events}
	t.net.mu.Lock()
	t.net.sessions[t.name+"->"+peerID] = s
	t.net.mu.Unlock()

	if initiator {
		events.OnLocalDescription("offer", "sdp:"+t.name)
		events.OnLocalCandidate("candidate:stub "+t.name, "0")
	}
	return s, nil
}

type stubSession struct {
	net    *stubNet
	local  string
	remote string
	events SessionEvents

	open       atomic.Bool
	closeOnce  sync.Once
	candidates atomic.Int32
}

func (s *stubSession) SetRemoteDescription(kind, sdp string) error {
	switch kind {
	case "offer":
		s.events.OnLocalDescription("answer", "sdp:"+s.local)
		s.open.Store(true)
		s.events.OnOpen()
	case "answer":
		s.open.Store(true)
		s.events.OnOpen()
	}
	return nil
}

func (s *stubSession) AddRemoteCandidate(candidate, mid string) error {
	s.candidates.Add(1)
	return nil
}

func (s *stubSession) SendText(text string) error {
	peer, err := s.counterpart()
	if err != nil {
		return err
	}
	peer.events.OnText(text)
	return nil
}

func (s *stubSession) SendBinary(data []byte) error {
	peer, err := s.counterpart()
	if err != nil {
		return err
	}
	peer.events.OnBinary(data)
	return nil
}

func (s *stubSession) counterpart() (*stubSession, error) {
	if !s.open.Load() {
		return nil, ErrChannelNotOpen
	}
	peer := s.net.lookup(s.remote, s.local)
	if peer == nil || !peer.open.Load() {
		return nil, ErrChannelNotOpen
	}
	return peer, nil
}

func (s *stubSession) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		s.net.mu.Lock()
		delete(s.net.sessions, s.local+"->"+s.remote)
		s.net.mu.Unlock()
		s.events.OnClose()
	})
	return nil
}

func startHub(t *testing.T, relaySecret string) string {
	t.Helper()
	ts := httptest.NewServer(signal.NewServer(signal.NewHub(relaySecret), "127.0.0.1:0").Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func startClient(t *testing.T, url, id string, net *stubNet, cb Callbacks) *Client {
	t.Helper()
	c := New(Config{
		SignalingURL:       url,
		PeerID:             id,
		ConnectionTimeout:  waitTimeout,
		PeerConnectTimeout: waitTimeout,
		Transport:          net.transport(id),
	}, cb)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func waitRecv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestClientConnectAndPeerList(t *testing.T) {
	url := startHub(t, "")
	net := newStubNet()

	lists := make(chan []string, 4)
	alice := startClient(t, url, "alice", net, Callbacks{
		OnPeerList: func(peers []string) { lists <- peers },
	})
	assert.Equal(t, "alice", alice.LocalID())
	assert.Equal(t, StateConnected, alice.State())

	// Registration primes the peer list without an explicit request.
	assert.Empty(t, waitRecv(t, lists, "initial peer list"))

	startClient(t, url, "bob", net, Callbacks{})
	require.NoError(t, alice.RequestPeerList())
	assert.Equal(t, []string{"bob"}, waitRecv(t, lists, "peer list with bob"))
}

func TestClientSynthesizedIdentity(t *testing.T) {
	url := startHub(t, "")
	net := newStubNet()

	c := startClient(t, url, "", net, Callbacks{})
	assert.True(t, strings.HasPrefix(c.LocalID(), "peer_"))
}

func TestClientDirectSession(t *testing.T) {
	url := startHub(t, "")
	net := newStubNet()

	type msg struct {
		peer string
		text string
	}
	aliceMsgs := make(chan msg, 4)
	bobMsgs := make(chan msg, 4)
	bobConnected := make(chan string, 2)
	bobBinary := make(chan []byte, 2)

	alice := startClient(t, url, "alice", net, Callbacks{
		OnTextMessage: func(peer, text string) { aliceMsgs <- msg{peer, text} },
	})
	bob := startClient(t, url, "bob", net, Callbacks{
		OnPeerConnected: func(peer string) { bobConnected <- peer },
		OnTextMessage:   func(peer, text string) { bobMsgs <- msg{peer, text} },
		OnBinaryMessage: func(peer string, data []byte) { bobBinary <- data },
	})

	require.NoError(t, alice.ConnectToPeerWait(context.Background(), "bob"))
	assert.Equal(t, "bob", waitRecv(t, bobConnected, "bob's open callback"))

	assert.True(t, alice.IsPeerConnected("bob"))
	assert.Equal(t, []string{"bob"}, alice.ConnectedPeers())
	assert.Equal(t, PeerInfo{ID: "alice", Direct: true}, bob.GetPeerInfo("alice"))

	require.NoError(t, alice.SendText("bob", "hello"))
	assert.Equal(t, msg{"alice", "hello"}, waitRecv(t, bobMsgs, "bob's text"))

	require.NoError(t, bob.SendText("alice", "hi back"))
	assert.Equal(t, msg{"bob", "hi back"}, waitRecv(t, aliceMsgs, "alice's text"))

	require.NoError(t, alice.SendBinary("bob", []byte{0x00, 0xff}))
	assert.Equal(t, []byte{0x00, 0xff}, waitRecv(t, bobBinary, "bob's binary"))

	assert.Equal(t, 1, alice.BroadcastText("fanout"))
	waitRecv(t, bobMsgs, "bob's broadcast text")

	alice.DisconnectFromPeer("bob")
	assert.False(t, alice.IsPeerConnected("bob"))
	assert.ErrorIs(t, alice.SendText("bob", "late"), ErrChannelNotOpen)
}

func TestClientConnectToAbsentPeer(t *testing.T) {
	url := startHub(t, "")
	net := newStubNet()

	errs := make(chan error, 4)
	alice := startClient(t, url, "alice", net, Callbacks{
		OnError: func(err error) { errs <- err },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := alice.ConnectToPeerWait(ctx, "ghost")
	require.Error(t, err)

	hubErr := waitRecv(t, errs, "hub error")
	assert.ErrorIs(t, hubErr, ErrSignalingError)
	assert.Contains(t, hubErr.Error(), "Peer not found: ghost")
}

func TestClientDialFailure(t *testing.T) {
	c := New(Config{
		SignalingURL:      "ws://127.0.0.1:1/ws",
		ConnectionTimeout: time.Second,
		Transport:         newStubNet().transport("x"),
	}, Callbacks{})
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, StateFailed, c.State())
}

func TestConnectTimeoutCoversDialAndEcho(t *testing.T) {
	// A hub that upgrades the socket but never echoes the registration.
	mute := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := mute.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	timeout := 500 * time.Millisecond
	c := New(Config{
		SignalingURL:      "ws" + strings.TrimPrefix(ts.URL, "http"),
		ConnectionTimeout: timeout,
		Transport:         newStubNet().transport("x"),
	}, Callbacks{})

	start := time.Now()
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*timeout, "dial and echo wait share one deadline")
	assert.Equal(t, StateFailed, c.State())
}

func TestClientRelayFlow(t *testing.T) {
	url := startHub(t, "s3cret")
	net := newStubNet()

	type msg struct {
		peer string
		text string
	}
	bobMsgs := make(chan msg, 4)
	bobBinary := make(chan []byte, 2)
	bobRelayConnected := make(chan string, 2)
	bobRelayDisconnected := make(chan string, 2)
	aliceMsgs := make(chan msg, 4)
	aliceRelayConnected := make(chan string, 2)

	alice := startClient(t, url, "alice", net, Callbacks{
		OnTextMessage:    func(peer, text string) { aliceMsgs <- msg{peer, text} },
		OnRelayConnected: func(peer string) { aliceRelayConnected <- peer },
	})
	bob := startClient(t, url, "bob", net, Callbacks{
		OnTextMessage:       func(peer, text string) { bobMsgs <- msg{peer, text} },
		OnBinaryMessage:     func(peer string, data []byte) { bobBinary <- data },
		OnRelayConnected:    func(peer string) { bobRelayConnected <- peer },
		OnRelayDisconnected: func(peer string) { bobRelayDisconnected <- peer },
	})

	assert.ErrorIs(t, alice.ConnectToPeerViaRelay("bob"), ErrRelayNotAuthenticated)

	require.NoError(t, alice.AuthenticateRelay(context.Background(), "s3cret"))
	assert.Equal(t, RelayAuthenticated, alice.RelayState())

	err := bob.AuthenticateRelay(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrRelayAuthFailed)
	assert.Equal(t, RelayAuthFailed, bob.RelayState())

	require.NoError(t, alice.ConnectToPeerViaRelay("bob"))
	assert.Equal(t, "bob", waitRecv(t, aliceRelayConnected, "alice's local relay callback"))
	assert.Equal(t, "alice", waitRecv(t, bobRelayConnected, "bob's relay notification"))
	assert.Equal(t, []string{"alice"}, bob.RelayPeers())

	require.NoError(t, alice.SendTextViaRelay("bob", "via relay"))
	assert.Equal(t, msg{"alice", "via relay"}, waitRecv(t, bobMsgs, "bob's relay text"))

	require.NoError(t, alice.SendBinaryViaRelay("bob", []byte("Hello")))
	assert.Equal(t, []byte("Hello"), waitRecv(t, bobBinary, "bob's relay binary"))

	// The pair is usable from the unauthenticated end as well.
	require.NoError(t, bob.SendTextViaRelay("alice", "pong"))
	assert.Equal(t, msg{"bob", "pong"}, waitRecv(t, aliceMsgs, "alice's relay text"))

	assert.Equal(t, 1, alice.BroadcastTextViaRelay("fanout"))
	waitRecv(t, bobMsgs, "bob's relay broadcast")

	assert.Equal(t, PeerInfo{ID: "bob", Relay: true}, alice.GetPeerInfo("bob"))

	require.NoError(t, alice.DisconnectFromPeerViaRelay("bob"))
	assert.Equal(t, "alice", waitRecv(t, bobRelayDisconnected, "bob's relay disconnect"))
	assert.ErrorIs(t, alice.SendTextViaRelay("bob", "late"), ErrChannelNotOpen)
}

func TestClientRelayDisconnectOnPeerDrop(t *testing.T) {
	url := startHub(t, "s3cret")
	net := newStubNet()

	bobRelayConnected := make(chan string, 2)
	bobRelayDisconnected := make(chan string, 2)

	alice := startClient(t, url, "alice", net, Callbacks{})
	startClient(t, url, "bob", net, Callbacks{
		OnRelayConnected:    func(peer string) { bobRelayConnected <- peer },
		OnRelayDisconnected: func(peer string) { bobRelayDisconnected <- peer },
	})

	require.NoError(t, alice.AuthenticateRelay(context.Background(), "s3cret"))
	require.NoError(t, alice.ConnectToPeerViaRelay("bob"))
	waitRecv(t, bobRelayConnected, "bob's relay notification")

	alice.Close()
	assert.Equal(t, "alice", waitRecv(t, bobRelayDisconnected, "hub-driven relay disconnect"))
}

func TestClientCloseResetsState(t *testing.T) {
	url := startHub(t, "")
	net := newStubNet()

	states := make(chan ConnectionState, 8)
	c := startClient(t, url, "alice", net, Callbacks{
		OnStateChange: func(s ConnectionState) { states <- s },
	})
	c.Close()

	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected && c.LocalID() == ""
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, RelayNotAuthenticated, c.RelayState())
}
