package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"gosuda.org/peerlink/signal"
)

// peerSession pairs a transport session with the actor-side bookkeeping for
// one remote peer.
type peerSession struct {
	id      string
	session Session

	open     chan struct{}
	openOnce sync.Once
	isOpen   atomic.Bool
}

// newPeerSession allocates a transport session toward peerID and wires its
// events into the signaling socket and the application callbacks.
func (c *Client) newPeerSession(peerID string, initiator bool) (*peerSession, error) {
	ps := &peerSession{id: peerID, open: make(chan struct{})}

	events := SessionEvents{
		OnLocalDescription: func(kind, sdp string) {
			envType := signal.TypeOffer
			if kind == "answer" {
				envType = signal.TypeAnswer
			}
			payload, _ := json.Marshal(sessionDescription{Type: kind, SDP: sdp})
			if err := c.sendEnvelope(signal.Envelope{Type: envType, To: peerID, Payload: string(payload)}); err != nil {
				c.fireError(err)
			}
		},
		OnLocalCandidate: func(candidate, mid string) {
			payload, _ := json.Marshal(iceCandidate{Candidate: candidate, Mid: mid})
			if err := c.sendEnvelope(signal.Envelope{Type: signal.TypeCandidate, To: peerID, Payload: string(payload)}); err != nil {
				c.fireError(err)
			}
		},
		OnOpen: func() {
			ps.isOpen.Store(true)
			ps.openOnce.Do(func() { close(ps.open) })
			log.Info().Str("peer", peerID).Msg("[P2P] data channel open")
			if cb := c.callbacks.OnPeerConnected; cb != nil {
				cb(peerID)
			}
		},
		OnClose: func() {
			wasOpen := ps.isOpen.Swap(false)
			c.mu.Lock()
			if c.peers[peerID] == ps {
				delete(c.peers, peerID)
			}
			c.mu.Unlock()
			log.Info().Str("peer", peerID).Msg("[P2P] data channel closed")
			if cb := c.callbacks.OnPeerDisconnected; cb != nil && wasOpen {
				cb(peerID)
			}
		},
		OnText: func(text string) {
			if cb := c.callbacks.OnTextMessage; cb != nil {
				cb(peerID, text)
			}
		},
		OnBinary: func(data []byte) {
			if cb := c.callbacks.OnBinaryMessage; cb != nil {
				cb(peerID, data)
			}
		},
	}

	session, err := c.transport.NewSession(peerID, initiator, events)
	if err != nil {
		return nil, fmt.Errorf("%w: transport session: %v", ErrInternalError, err)
	}
	ps.session = session

	c.mu.Lock()
	if existing, ok := c.peers[peerID]; ok {
		// A session raced us in; keep the existing one.
		c.mu.Unlock()
		_ = session.Close()
		return existing, nil
	}
	c.peers[peerID] = ps
	c.mu.Unlock()
	return ps, nil
}
