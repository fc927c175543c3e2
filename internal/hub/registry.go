// Package hub tracks which users currently have live connections and fans
// events out to them. It is transport-agnostic: both the WebSocket and the
// raw TCP adapters register their connections here.
package hub

import (
	"sort"
	"sync"
)

// Sender is the minimal interface the hub needs from a connection: the
// ability to push one outbound event to the client. Implementations must be
// safe for concurrent Send calls.
type Sender interface {
	Send(v any) error
}

// Registry maps user ids to their set of live connections. A user is online
// iff their set is non-empty; entries are created on first registration and
// removed when the set empties. State is process-local and rebuilt from zero
// on restart.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[int64]Sender
	nextID int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[int64]Sender)}
}

// Register adds a connection to the user's set and returns the connection id
// to pass back to Unregister, plus whether this was the user's offline→online
// transition. The transition fires exactly once per edge, not once per
// connection, so callers can broadcast presence from it directly.
func (r *Registry) Register(userID string, s Sender) (id int64, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		set = make(map[int64]Sender)
		r.conns[userID] = set
	}
	r.nextID++
	id = r.nextID
	set[id] = s
	return id, !ok
}

// Unregister removes a previously-registered connection. offline reports the
// online→offline transition (the user's last connection went away). Removing
// an unknown connection is a no-op.
func (r *Registry) Unregister(userID string, id int64) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ActiveUserIDs returns a sorted snapshot of currently-online user ids.
func (r *Registry) ActiveUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ConnectionsFor returns a snapshot of the user's live connections, safe to
// iterate without holding the registry lock.
func (r *Registry) ConnectionsFor(userID string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sender, 0, len(r.conns[userID]))
	for _, s := range r.conns[userID] {
		out = append(out, s)
	}
	return out
}

// connEntry pairs a connection with its registry id so the dispatcher can
// unregister streams that fail mid-fan-out.
type connEntry struct {
	id     int64
	sender Sender
}

// snapshotFor is ConnectionsFor with ids, for the dispatcher's cleanup path.
func (r *Registry) snapshotFor(userID string) []connEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]connEntry, 0, len(r.conns[userID]))
	for id, s := range r.conns[userID] {
		out = append(out, connEntry{id: id, sender: s})
	}
	return out
}

// snapshotAll copies the whole registry for Broadcast.
func (r *Registry) snapshotAll() map[string][]connEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]connEntry, len(r.conns))
	for user, set := range r.conns {
		entries := make([]connEntry, 0, len(set))
		for id, s := range set {
			entries = append(entries, connEntry{id: id, sender: s})
		}
		out[user] = entries
	}
	return out
}
