package realtime

import (
	"log/slog"
	"sync"

	v1 "courier/shared/contracts/chat/v1"
)

// Room is the in-memory fanout group for one identity: every live session that
// joined that identity's email receives pushes addressed to it.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log   *slog.Logger
	Email string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an identity room.
func NewRoom(log *slog.Logger, email string) *Room {
	return &Room{
		log:     log,
		Email:   email,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room. Idempotent: re-joining with the same session
// id replaces the existing entry.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "email", r.Email, "session_id", client.SessionID)
}

// Leave removes a client from the room. It does NOT close the client: a session
// may remain joined to other identity rooms.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Info("room.member.leave", "email", r.Email, "session_id", sessionID)
}

// Len reports the current number of joined sessions.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
// It returns the number of sessions the envelope was queued for.
func (r *Room) Broadcast(env v1.Envelope) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, m := range r.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			// Drop rather than block the whole room.
		}
	}
	return delivered
}
