package signal

import (
	"crypto/subtle"
	"sort"
)

// pairKey identifies an unordered identity pair; endpoints are stored in
// lexical order so {a,b} and {b,a} collide.
type pairKey [2]string

func makePairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// RelayGraph is the set of peer pairs authorized for hub-mediated data
// forwarding. Pair membership is the only authorization the relay data
// plane checks once the pair exists.
//
// Like the Directory, the graph is guarded by the hub mutex.
type RelayGraph struct {
	pairs map[pairKey]struct{}
}

// NewRelayGraph creates an empty graph.
func NewRelayGraph() *RelayGraph {
	return &RelayGraph{pairs: make(map[pairKey]struct{})}
}

// Insert adds the unordered pair {a,b}. Inserting twice has the same effect
// as inserting once.
func (g *RelayGraph) Insert(a, b string) {
	g.pairs[makePairKey(a, b)] = struct{}{}
}

// Remove deletes the unordered pair {a,b}; removing an absent pair is a
// no-op.
func (g *RelayGraph) Remove(a, b string) {
	delete(g.pairs, makePairKey(a, b))
}

// Has reports whether the unordered pair {a,b} exists.
func (g *RelayGraph) Has(a, b string) bool {
	_, ok := g.pairs[makePairKey(a, b)]
	return ok
}

// RemovePeer deletes every pair containing id and returns the other
// endpoint of each removed pair.
func (g *RelayGraph) RemovePeer(id string) []string {
	var others []string
	for key := range g.pairs {
		switch id {
		case key[0]:
			others = append(others, key[1])
			delete(g.pairs, key)
		case key[1]:
			others = append(others, key[0])
			delete(g.pairs, key)
		}
	}
	sort.Strings(others)
	return others
}

// Pairs snapshots all active pairs, each as its two endpoints in lexical
// order.
func (g *RelayGraph) Pairs() [][2]string {
	list := make([][2]string, 0, len(g.pairs))
	for key := range g.pairs {
		list = append(list, [2]string(key))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i][0] != list[j][0] {
			return list[i][0] < list[j][0]
		}
		return list[i][1] < list[j][1]
	})
	return list
}

// Len reports the number of active pairs.
func (g *RelayGraph) Len() int {
	return len(g.pairs)
}

// Relay authentication result messages, wire-visible.
const (
	authSuccessMessage       = "Authentication successful"
	authFailureMessage       = "Invalid relay password"
	authNotConfiguredMessage = "Relay is not configured on this server"
)

// Authenticator validates the shared relay secret presented by a
// connection. An empty secret disables relay end-to-end: every attempt
// fails with the not-configured message.
type Authenticator struct {
	secret string
}

// NewAuthenticator creates an authenticator for the given shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Enabled reports whether a relay secret is configured.
func (a *Authenticator) Enabled() bool {
	return a.secret != ""
}

// Verify compares the presented secret against the configured one in
// constant time.
func (a *Authenticator) Verify(presented string) AuthResult {
	if !a.Enabled() {
		return AuthResult{Success: false, Message: authNotConfiguredMessage}
	}
	if subtle.ConstantTimeCompare([]byte(a.secret), []byte(presented)) != 1 {
		return AuthResult{Success: false, Message: authFailureMessage}
	}
	return AuthResult{Success: true, Message: authSuccessMessage}
}
