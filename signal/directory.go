package signal

import (
	"fmt"
	"sort"
)

// Directory is the live registry mapping peer identity to connection.
//
// It carries no lock of its own: every method is called with the hub mutex
// held, so directory and relay graph are always observed together in a
// consistent state.
type Directory struct {
	peers   map[string]*Conn
	counter uint64
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*Conn)}
}

// Register binds an identity to the connection and returns it. An empty or
// already-taken requested identity is replaced by a synthesized peer_<N>,
// where N strictly increases for the process lifetime.
func (d *Directory) Register(c *Conn, requestedID string) string {
	id := requestedID
	if id == "" || d.taken(id) {
		for {
			d.counter++
			id = fmt.Sprintf("peer_%d", d.counter)
			if !d.taken(id) {
				break
			}
		}
	}
	c.identity = id
	d.peers[id] = c
	return id
}

func (d *Directory) taken(id string) bool {
	_, ok := d.peers[id]
	return ok
}

// Unregister removes the identity. The entry is free for reuse by a later
// registration once the caller's cleanup completes.
func (d *Directory) Unregister(id string) {
	delete(d.peers, id)
}

// Lookup resolves an identity to its connection.
func (d *Directory) Lookup(id string) (*Conn, bool) {
	c, ok := d.peers[id]
	return c, ok
}

// Len reports the number of registered peers.
func (d *Directory) Len() int {
	return len(d.peers)
}

// ListExcluding snapshots all registered identities minus the given one.
// The snapshot is sorted so ordering is stable within one call.
func (d *Directory) ListExcluding(exclude string) []string {
	list := make([]string, 0, len(d.peers))
	for id := range d.peers {
		if id != exclude {
			list = append(list, id)
		}
	}
	sort.Strings(list)
	return list
}
