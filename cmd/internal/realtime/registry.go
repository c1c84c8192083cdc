package realtime

import (
	"log/slog"
	"sync"
)

// Registry owns the in-memory identity → room mapping used for live delivery.
// It is intentionally minimal: persistence lives behind chat.Store, and rooms
// hold no durable state. Registries are process-scoped: constructed at startup,
// injected where needed, gone on shutdown.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry constructs a Registry instance.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds a session to an identity room, creating the room if needed.
// The membership insert happens under the registry lock, so a concurrent
// Leave cannot prune the room between lookup and insert: the returned room
// is always the one Lookup observes.
func (g *Registry) Join(email string, client *Client) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[email]
	if !ok {
		r = NewRoom(g.log, email)
		g.rooms[email] = r
	}
	r.Join(client)
	return r
}

// Lookup returns the room for an identity, or nil when no session has joined it.
// Live push happens iff Lookup returns a non-empty room at push time.
func (g *Registry) Lookup(email string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[email]
}

// Leave removes a session from an identity room and prunes the room when it
// becomes empty, so Lookup reflects "receiver has no live channel".
func (g *Registry) Leave(email, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[email]
	if !ok {
		return
	}
	r.Leave(sessionID)
	if r.Len() == 0 {
		delete(g.rooms, email)
	}
}
