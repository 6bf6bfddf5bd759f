package client

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Default timers, matching the signaling service's client contract.
const (
	DefaultConnectionTimeout  = 10 * time.Second
	DefaultPeerConnectTimeout = 30 * time.Second
	DefaultReconnectInterval  = 5 * time.Second
)

// DefaultSTUNServers are used when the config supplies none.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// TURNServer is one relay candidate source for the peer transport.
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// Config holds the client options.
type Config struct {
	// SignalingURL is the hub's WebSocket endpoint, e.g. ws://localhost:8080/ws.
	SignalingURL string

	// PeerID is the requested identity; empty lets the hub assign one.
	PeerID string

	STUNServers []string
	TURNServers []TURNServer

	// ConnectionTimeout bounds the signaling dial, the register echo and
	// relay authentication. Zero means DefaultConnectionTimeout.
	ConnectionTimeout time.Duration

	// PeerConnectTimeout bounds ConnectToPeerWait. Zero means
	// DefaultPeerConnectTimeout.
	PeerConnectTimeout time.Duration

	AutoReconnect     bool
	ReconnectInterval time.Duration

	// Transport overrides the peer transport; nil selects the WebRTC
	// default.
	Transport Transport
}

func (c Config) withDefaults() Config {
	if c.SignalingURL == "" {
		c.SignalingURL = "ws://localhost:8080/ws"
	}
	if c.STUNServers == nil {
		c.STUNServers = DefaultSTUNServers
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.PeerConnectTimeout <= 0 {
		c.PeerConnectTimeout = DefaultPeerConnectTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	return c
}

// ParsedTURNURL is the result of parsing the turn[s]:<host>[:<port>]
// grammar.
type ParsedTURNURL struct {
	Host string
	Port int
	TLS  bool
}

// ParseTURNURL parses a TURN server URL. The port defaults to 3478 for
// turn: and 5349 for turns:; an unparsable port also falls back to the
// scheme default.
func ParseTURNURL(rawURL string) (ParsedTURNURL, error) {
	var parsed ParsedTURNURL
	var rest string
	switch {
	case strings.HasPrefix(rawURL, "turns:"):
		parsed.TLS = true
		rest = strings.TrimPrefix(rawURL, "turns:")
	case strings.HasPrefix(rawURL, "turn:"):
		rest = strings.TrimPrefix(rawURL, "turn:")
	default:
		return ParsedTURNURL{}, fmt.Errorf("%w: TURN URL %q must use turn: or turns:", ErrInvalidData, rawURL)
	}

	defaultPort := 3478
	if parsed.TLS {
		defaultPort = 5349
	}
	parsed.Port = defaultPort

	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		parsed.Host = rest[:idx]
		if port, err := strconv.Atoi(rest[idx+1:]); err == nil && port > 0 && port <= 65535 {
			parsed.Port = port
		}
	} else {
		parsed.Host = rest
	}

	if parsed.Host == "" {
		return ParsedTURNURL{}, fmt.Errorf("%w: TURN URL %q has no host", ErrInvalidData, rawURL)
	}
	return parsed, nil
}
