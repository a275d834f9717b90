package relay

import (
	"errors"
	"net/netip"
)

// PeerRegistry is the insertion-ordered set of peers the relay fans out to.
//
// It does no locking of its own: the dispatch loop is its only user, and
// other goroutines read it through requests served by that loop.
type PeerRegistry struct {
	order []netip.AddrPort
	index map[netip.AddrPort]struct{}
}

// NewPeerRegistry creates an empty registry
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		index: make(map[netip.AddrPort]struct{}),
	}
}

// Contains reports whether addr has been registered
func (r *PeerRegistry) Contains(addr netip.AddrPort) bool {
	_, ok := r.index[addr]
	return ok
}

// Add registers addr and reports whether it was new. Adding a known peer is a no-op.
func (r *PeerRegistry) Add(addr netip.AddrPort) bool {
	if r.Contains(addr) {
		return false
	}
	r.index[addr] = struct{}{}
	r.order = append(r.order, addr)
	return true
}

// Len returns the number of registered peers
func (r *PeerRegistry) Len() int {
	return len(r.order)
}

// Snapshot returns a copy of the peers in first-seen order
func (r *PeerRegistry) Snapshot() []netip.AddrPort {
	peers := make([]netip.AddrPort, len(r.order))
	copy(peers, r.order)
	return peers
}

// ForEach calls fn for every peer in first-seen order. A failing peer does
// not stop the iteration; all failures are joined into the returned error.
func (r *PeerRegistry) ForEach(fn func(netip.AddrPort) error) error {
	var errs []error
	for _, peer := range r.order {
		if err := fn(peer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
