// Package callback implements the monitor subscription registry of
// spec.md §4.4: clientId -> (address, expiry), with lazy pruning and a
// query that excludes a given clientId (used by the dispatcher to avoid
// notifying an operation's own originator, spec.md §4.7 step 6).
package callback

import (
	"net"
	"sync"
	"time"
)

type entry struct {
	addr      net.Addr
	expiresAt time.Time
}

// Registry is safe for concurrent Register/Unregister/Addresses.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint32]entry
	now     func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[uint32]entry), now: time.Now}
}

// Register inserts or refreshes clientID's subscription, expiring
// ttlSeconds from now. Re-registering is always safe (idempotent), per
// spec.md §4.4.
func (r *Registry) Register(clientID uint32, addr net.Addr, ttlSeconds uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[clientID] = entry{
		addr:      addr,
		expiresAt: r.now().Add(time.Duration(ttlSeconds) * time.Second),
	}
}

// Unregister removes clientID's subscription, returning whether one
// existed. Returning true/false either way is always a safe, idempotent
// outcome for the caller (spec.md §4.4).
func (r *Registry) Unregister(clientID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.entries[clientID]
	delete(r.entries, clientID)
	return existed
}

// Addresses returns the addresses of every non-expired registrant except
// exclude, pruning expired entries it encounters along the way.
func (r *Registry) Addresses(exclude uint32) []net.Addr {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []net.Addr
	for clientID, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, clientID)
			continue
		}
		if clientID == exclude {
			continue
		}
		out = append(out, e.addr)
	}
	return out
}

// Len returns the number of tracked entries, including any not yet pruned
// past expiry. Intended for metrics, not for correctness-sensitive logic.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
