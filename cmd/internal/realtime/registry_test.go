package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "courier/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_JoinIsStable(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	r1 := reg.Join("alice@example.com", NewClient("sess-1", 8))
	r2 := reg.Join("alice@example.com", NewClient("sess-2", 8))
	if r1 != r2 {
		t.Fatalf("expected the same room handle for the same identity")
	}
	if r1.Email != "alice@example.com" {
		t.Fatalf("room email = %q", r1.Email)
	}
	if r1.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r1.Len())
	}
}

func TestRegistry_LookupNilWhenNobodyJoined(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	if room := reg.Lookup("ghost@example.com"); room != nil {
		t.Fatalf("expected nil room for identity nobody joined")
	}
}

func TestRegistry_LeavePrunesEmptyRooms(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	c := NewClient("sess-1", 8)

	reg.Join("bob@example.com", c)
	if room := reg.Lookup("bob@example.com"); room == nil || room.Len() != 1 {
		t.Fatalf("expected a room with one member")
	}

	reg.Leave("bob@example.com", "sess-1")
	if room := reg.Lookup("bob@example.com"); room != nil {
		t.Fatalf("expected room pruned after last member left")
	}

	// Leaving again (or an unknown identity) is a no-op.
	reg.Leave("bob@example.com", "sess-1")
	reg.Leave("nobody@example.com", "sess-1")
}

func TestRegistry_JoinAfterPruneStaysVisible(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())

	// First session joins and leaves, pruning the room.
	stale := reg.Join("x@example.com", NewClient("sess-1", 8))
	reg.Leave("x@example.com", "sess-1")
	if reg.Lookup("x@example.com") != nil {
		t.Fatalf("room should be pruned after the last member left")
	}

	// A fresh join must land in the room Lookup observes, even though a stale
	// handle to the pruned room still exists.
	c2 := NewClient("sess-2", 8)
	room := reg.Join("x@example.com", c2)

	got := reg.Lookup("x@example.com")
	if got == nil {
		t.Fatalf("Lookup returned nil right after Join: pushes would skip a joined receiver")
	}
	if got != room {
		t.Fatalf("Join returned a room Lookup does not observe")
	}
	if room.Len() != 1 {
		t.Fatalf("Len = %d, want 1", room.Len())
	}
	if stale == room {
		t.Fatalf("pruned room handle must not be reused for the new membership")
	}
}

func TestRegistry_JoinedSessionAlwaysVisibleUnderChurn(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(testLogger())
	const email = "churn@example.com"

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sessionID := "sess-" + string(rune('a'+id))
			c := NewClient(sessionID, 4)
			for j := 0; j < 200; j++ {
				reg.Join(email, c)
				// While this session is a member, the room cannot be pruned,
				// so Lookup must observe it.
				if reg.Lookup(email) == nil {
					t.Errorf("Lookup returned nil while session %s is joined", sessionID)
					return
				}
				reg.Leave(email, sessionID)
			}
		}(i)
	}
	wg.Wait()

	if room := reg.Lookup(email); room != nil {
		t.Fatalf("expected room pruned once every session left, got Len=%d", room.Len())
	}
}

func TestRoom_JoinIsIdempotentPerSession(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "carol@example.com")
	c := NewClient("sess-1", 8)

	room.Join(c)
	room.Join(c)
	if got := room.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestRoom_BroadcastDeliversToAllMembers(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "dave@example.com")
	a := NewClient("sess-a", 8)
	b := NewClient("sess-b", 8)
	room.Join(a)
	room.Join(b)

	env := v1.Envelope{V: v1.Version, Type: v1.TypeMessageReceived, ID: "env-1"}
	if n := room.Broadcast(env); n != 2 {
		t.Fatalf("Broadcast delivered %d, want 2", n)
	}

	for _, c := range []*Client{a, b} {
		select {
		case got := <-c.Send:
			if got.ID != "env-1" {
				t.Fatalf("envelope id = %q", got.ID)
			}
		default:
			t.Fatalf("client %s did not receive the envelope", c.SessionID)
		}
	}
}

func TestRoom_BroadcastDropsOnFullQueueAndSkipsClosed(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "erin@example.com")

	full := NewClient("sess-full", 1)
	full.Send <- v1.Envelope{ID: "stale"}

	closed := NewClient("sess-closed", 8)
	closed.Close()

	ok := NewClient("sess-ok", 8)

	room.Join(full)
	room.Join(closed)
	room.Join(ok)

	if n := room.Broadcast(v1.Envelope{ID: "env-2"}); n != 1 {
		t.Fatalf("Broadcast delivered %d, want 1 (full queue dropped, closed skipped)", n)
	}
}

func TestRoom_BroadcastSafeUnderConcurrentJoinLeave(t *testing.T) {
	t.Parallel()

	room := NewRoom(testLogger(), "frank@example.com")
	stable := NewClient("sess-stable", 1024)
	room.Join(stable)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c := NewClient(string(rune('a'+id)), 4)
			for j := 0; j < 200; j++ {
				room.Join(c)
				room.Broadcast(v1.Envelope{ID: "concurrent"})
				room.Leave(c.SessionID)
			}
		}(i)
	}
	wg.Wait()

	if room.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (only the stable member remains)", room.Len())
	}
}

func TestClient_CloseIsIdempotentAndNeverClosesSend(t *testing.T) {
	t.Parallel()

	c := NewClient("sess-x", 4)
	c.Close()
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed after Close")
	}

	// Send stays open: writing to it must not panic.
	select {
	case c.Send <- v1.Envelope{ID: "after-close"}:
	default:
		t.Fatalf("send queue should still accept writes")
	}
}
