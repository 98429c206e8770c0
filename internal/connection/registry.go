package connection

import (
	"runtime"
	"sync"
	"weak"
)

// Registry maps connection IDs to live connections without owning them.
//
// Entries are weak: once the last strong reference to a Connection is gone
// the garbage collector reclaims it, the entry is pruned and every prune
// listener is called with its ID.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]weak.Pointer[Connection]

	listenersMu sync.RWMutex
	listeners   []func(id string)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]weak.Pointer[Connection]),
	}
}

// Register inserts c, replacing any entry with the same ID, and returns the
// instance now registered under that ID.
//
// Two instances with one ID are the same logical link. If the registered
// instance is Connecting or Connected it keeps the entry, since its handle
// and reader are the only way to release the link; it takes over c's name
// and device back-reference and is returned instead of c.
func (r *Registry) Register(c *Connection) *Connection {
	if c == nil {
		return nil
	}

	r.mu.Lock()
	if cur, ok := r.entries[c.id]; ok {
		if live := cur.Value(); live != nil && live != c && live.inSession() {
			r.mu.Unlock()
			live.takeMetadata(c)
			return live
		}
	}
	wp := weak.Make(c)
	r.entries[c.id] = wp
	r.mu.Unlock()

	runtime.AddCleanup(c, func(id string) { r.prune(id, wp) }, c.id)
	return c
}

// Lookup returns the live connection for id.
// Returns ErrNotFound for unknown IDs and for connections already collected.
func (r *Registry) Lookup(id string) (*Connection, error) {
	r.mu.RLock()
	wp, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	c := wp.Value()
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// Unregister removes id. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		r.notifyPruned(id)
	}
}

// Len returns the number of entries, including ones awaiting pruning.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns every connection that is still alive.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.entries))
	for _, wp := range r.entries {
		if c := wp.Value(); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// OnPrune registers fn to be called with the ID of every entry that is
// removed, whether by Unregister or by collection. fn runs outside the
// registry lock and may be called from a runtime cleanup goroutine.
func (r *Registry) OnPrune(fn func(id string)) {
	if fn == nil {
		return
	}
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// prune drops id only while it still refers to the collected pointer, so a
// newer registration under the same ID survives.
func (r *Registry) prune(id string, wp weak.Pointer[Connection]) {
	r.mu.Lock()
	cur, ok := r.entries[id]
	if !ok || cur != wp || cur.Value() != nil {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	r.mu.Unlock()

	r.notifyPruned(id)
}

func (r *Registry) notifyPruned(id string) {
	r.listenersMu.RLock()
	listeners := make([]func(string), len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(id)
	}
}
