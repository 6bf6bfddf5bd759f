package client

// Transport opens direct peer sessions. The signaling core treats it as an
// opaque library: session descriptions and candidates are routed as strings
// and never interpreted.
type Transport interface {
	// NewSession creates a session toward peerID. An initiator session
	// emits its local offer through SessionEvents immediately; a responder
	// session emits its answer once the remote offer arrives via
	// SetRemoteDescription.
	NewSession(peerID string, initiator bool, events SessionEvents) (Session, error)
}

// Session is one direct connection attempt plus, once open, its
// bidirectional data channel.
type Session interface {
	// SetRemoteDescription feeds the remote session description; kind is
	// "offer" or "answer".
	SetRemoteDescription(kind, sdp string) error

	// AddRemoteCandidate feeds one remote connectivity candidate.
	AddRemoteCandidate(candidate, mid string) error

	SendText(text string) error
	SendBinary(data []byte) error

	Close() error
}

// SessionEvents are the transport's messages into the protocol actor. All
// callbacks may fire from transport-owned goroutines; nil entries are
// skipped.
type SessionEvents struct {
	// OnLocalDescription delivers the locally generated description; kind
	// is "offer" or "answer".
	OnLocalDescription func(kind, sdp string)

	// OnLocalCandidate streams locally gathered candidates.
	OnLocalCandidate func(candidate, mid string)

	OnOpen  func()
	OnClose func()

	OnText   func(text string)
	OnBinary func(data []byte)
}
