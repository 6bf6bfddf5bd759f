package client

import "errors"

// Error kinds surfaced by the client, mirroring the signaling service's
// failure taxonomy. Wrapped errors carry the diagnostic detail.
var (
	ErrConnectionFailed      = errors.New("connection failed")
	ErrSignalingError        = errors.New("signaling error")
	ErrPeerNotFound          = errors.New("peer not found")
	ErrChannelNotOpen        = errors.New("channel not open")
	ErrTimeout               = errors.New("timeout")
	ErrInvalidData           = errors.New("invalid data")
	ErrInternalError         = errors.New("internal error")
	ErrRelayAuthFailed       = errors.New("relay authentication failed")
	ErrRelayNotAuthenticated = errors.New("not authenticated for relay")
)
