package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"gosuda.org/peerlink/signal"
)

// AuthenticateRelay presents the shared relay secret to the hub and waits
// for the result. The wait is bounded by the signaling connection timeout;
// expiry or a negative result transitions the relay state to AuthFailed.
func (c *Client) AuthenticateRelay(ctx context.Context, password string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: not connected to signaling hub", ErrConnectionFailed)
	}
	if c.relayState == RelayAuthenticated {
		c.mu.Unlock()
		return nil
	}
	c.relayState = RelayAuthenticating
	results := c.authResult
	c.mu.Unlock()

	if err := c.sendEnvelope(signal.Envelope{Type: signal.TypeRelayAuth, Payload: password}); err != nil {
		c.setRelayState(RelayAuthFailed)
		return err
	}

	select {
	case result := <-results:
		if !result.Success {
			return fmt.Errorf("%w: %s", ErrRelayAuthFailed, result.Message)
		}
		return nil
	case <-time.After(c.cfg.ConnectionTimeout):
		c.setRelayState(RelayAuthFailed)
		return fmt.Errorf("%w: relay auth", ErrTimeout)
	case <-ctx.Done():
		c.setRelayState(RelayAuthFailed)
		return ctx.Err()
	}
}

// ConnectToPeerViaRelay asks the hub to establish a relay pair with the
// peer and adds it to the local relay-peer set.
//
// OnRelayConnected fires locally at send time, without waiting for a hub
// acknowledgement: if the hub rejects the pair (for instance the target is
// gone), the application observes the connected callback followed by an
// error delivered through OnError.
func (c *Client) ConnectToPeerViaRelay(peerID string) error {
	c.mu.Lock()
	if c.relayState != RelayAuthenticated {
		c.mu.Unlock()
		return ErrRelayNotAuthenticated
	}
	c.mu.Unlock()

	if err := c.sendEnvelope(signal.Envelope{Type: signal.TypeRelayConnect, To: peerID}); err != nil {
		return err
	}

	c.mu.Lock()
	c.relayPeers[peerID] = struct{}{}
	c.mu.Unlock()
	log.Info().Str("peer", peerID).Msg("[P2P] relay connection requested")
	if cb := c.callbacks.OnRelayConnected; cb != nil {
		cb(peerID)
	}
	return nil
}

// DisconnectFromPeerViaRelay removes the relay pair with the peer.
func (c *Client) DisconnectFromPeerViaRelay(peerID string) error {
	c.mu.Lock()
	delete(c.relayPeers, peerID)
	c.mu.Unlock()
	return c.sendEnvelope(signal.Envelope{Type: signal.TypeRelayDisconnect, To: peerID})
}

// SendTextViaRelay forwards text to the peer through the hub.
func (c *Client) SendTextViaRelay(peerID, text string) error {
	return c.sendRelayRecord(peerID, signal.NewTextRecord(text))
}

// SendBinaryViaRelay forwards bytes to the peer through the hub, base64
// encoded on the wire.
func (c *Client) SendBinaryViaRelay(peerID string, data []byte) error {
	return c.sendRelayRecord(peerID, signal.NewBinaryRecord(data))
}

func (c *Client) sendRelayRecord(peerID string, rec signal.RelayRecord) error {
	c.mu.Lock()
	_, ok := c.relayPeers[peerID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no relay connection with %s", ErrChannelNotOpen, peerID)
	}
	return c.sendEnvelope(signal.Envelope{
		Type:    signal.TypeRelayData,
		To:      peerID,
		Payload: rec.Marshal(),
	})
}

// BroadcastTextViaRelay sends text to every relay peer and returns the
// number of sends that succeeded.
func (c *Client) BroadcastTextViaRelay(text string) int {
	return c.broadcastRelayRecord(signal.NewTextRecord(text))
}

// BroadcastBinaryViaRelay sends bytes to every relay peer and returns the
// number of sends that succeeded.
func (c *Client) BroadcastBinaryViaRelay(data []byte) int {
	return c.broadcastRelayRecord(signal.NewBinaryRecord(data))
}

// broadcastRelayRecord snapshots the relay-peer set under the lock and
// iterates outside it.
func (c *Client) broadcastRelayRecord(rec signal.RelayRecord) int {
	payload := rec.Marshal()
	count := 0
	for _, peerID := range c.RelayPeers() {
		err := c.sendEnvelope(signal.Envelope{
			Type:    signal.TypeRelayData,
			To:      peerID,
			Payload: payload,
		})
		if err == nil {
			count++
		}
	}
	return count
}

// RelayPeers snapshots the local relay-peer set.
func (c *Client) RelayPeers() []string {
	c.mu.Lock()
	peers := make([]string, 0, len(c.relayPeers))
	for id := range c.relayPeers {
		peers = append(peers, id)
	}
	c.mu.Unlock()
	sort.Strings(peers)
	return peers
}

func (c *Client) setRelayState(state RelayState) {
	c.mu.Lock()
	c.relayState = state
	c.mu.Unlock()
}

func (c *Client) handleRelayAuthResult(payload string) {
	result, err := signal.ParseAuthResult(payload)
	if err != nil {
		c.fireError(fmt.Errorf("%w: relay auth result: %v", ErrInvalidData, err))
		return
	}

	c.mu.Lock()
	if result.Success {
		c.relayState = RelayAuthenticated
	} else {
		c.relayState = RelayAuthFailed
	}
	results := c.authResult
	c.mu.Unlock()

	if results != nil {
		select {
		case results <- result:
		default:
		}
	}
	if cb := c.callbacks.OnRelayAuthResult; cb != nil {
		cb(result.Success, result.Message)
	}
}

// handleRelayConnect admits the pair announced by the hub. The local side
// needs no relay authentication of its own: the pair is a capability
// granted by the originator.
func (c *Client) handleRelayConnect(peerID string) {
	c.mu.Lock()
	c.relayPeers[peerID] = struct{}{}
	c.mu.Unlock()
	log.Info().Str("peer", peerID).Msg("[P2P] relay peer connected")
	if cb := c.callbacks.OnRelayConnected; cb != nil {
		cb(peerID)
	}
}

func (c *Client) handleRelayDisconnect(peerID string) {
	c.mu.Lock()
	_, known := c.relayPeers[peerID]
	delete(c.relayPeers, peerID)
	c.mu.Unlock()
	if !known {
		return
	}
	log.Info().Str("peer", peerID).Msg("[P2P] relay peer disconnected")
	if cb := c.callbacks.OnRelayDisconnected; cb != nil {
		cb(peerID)
	}
}

func (c *Client) handleRelayData(env signal.Envelope) {
	rec, err := signal.ParseRelayRecord(env.Payload)
	if err != nil {
		c.fireError(fmt.Errorf("%w: relay data from %s: %v", ErrInvalidData, env.From, err))
		return
	}
	if rec.IsBinary {
		data, err := rec.Bytes()
		if err != nil {
			c.fireError(fmt.Errorf("%w: relay data from %s: %v", ErrInvalidData, env.From, err))
			return
		}
		if cb := c.callbacks.OnBinaryMessage; cb != nil {
			cb(env.From, data)
		}
		return
	}
	if cb := c.callbacks.OnTextMessage; cb != nil {
		cb(env.From, rec.Data)
	}
}
