package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured.
// It honors the same atomicity contract as PostgresStore: the message insert
// and the conversation upsert happen under one lock, both or neither.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []Message
	convs  map[string]Conversation // canonical pair key -> summary row

	// failUpsert, when set, fails the conversation-upsert step of InsertMessage.
	// Test-only failure injection for the atomicity contract.
	failUpsert error
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]Conversation),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

func memPairKey(a, b string) string {
	lo, hi := PairKey(a, b)
	return lo + "\x00" + hi
}

// InsertMessage persists a message and upserts the pair's conversation row.
func (s *MemoryStore) InsertMessage(ctx context.Context, in SendInput) (Message, error) {
	if in.SenderEmail == "" || in.ReceiverEmail == "" || in.Content == "" {
		return Message{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpsert != nil {
		// Neither the message nor the summary is applied.
		err := s.failUpsert
		s.failUpsert = nil
		return Message{}, err
	}

	s.nextID++
	msg := Message{
		ID:            s.nextID,
		SenderEmail:   in.SenderEmail,
		ReceiverEmail: in.ReceiverEmail,
		Content:       in.Content,
		CreatedAt:     now,
	}
	s.msgs = append(s.msgs, msg)
	s.upsertLocked(in.SenderEmail, in.ReceiverEmail, in.Content, in.SenderEmail, now)

	return msg, nil
}

// MessagesByUser returns all messages where email is sender or receiver, in id order.
func (s *MemoryStore) MessagesByUser(ctx context.Context, email string) ([]Message, error) {
	if email == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, 16)
	for _, m := range s.msgs {
		if m.SenderEmail == email || m.ReceiverEmail == email {
			out = append(out, m)
		}
	}
	return out, nil
}

// MessagesBetween returns all messages between a and b, either direction, in id order.
func (s *MemoryStore) MessagesBetween(ctx context.Context, a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, 16)
	for _, m := range s.msgs {
		if (m.SenderEmail == a && m.ReceiverEmail == b) || (m.SenderEmail == b && m.ReceiverEmail == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpsertConversation inserts or overwrites the summary row for the pair.
func (s *MemoryStore) UpsertConversation(ctx context.Context, a, b, lastMessage, lastSender string, now time.Time) (Conversation, error) {
	if a == "" || b == "" {
		return Conversation{}, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(a, b, lastMessage, lastSender, now), nil
}

func (s *MemoryStore) upsertLocked(a, b, lastMessage, lastSender string, now time.Time) Conversation {
	lo, hi := PairKey(a, b)
	c := Conversation{
		User1Email:      lo,
		User2Email:      hi,
		LastMessage:     lastMessage,
		LastSenderEmail: lastSender,
		LastUpdated:     now,
	}
	s.convs[lo+"\x00"+hi] = c
	return c
}

// ListInbox returns every conversation involving email, most recent first.
func (s *MemoryStore) ListInbox(ctx context.Context, email string) ([]Conversation, error) {
	if email == "" {
		return nil, errors.New("missing email")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snap := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if c.User1Email != email && c.User2Email != email {
			continue
		}
		if c.User1Email == email {
			c.OtherUserEmail = c.User2Email
		} else {
			c.OtherUserEmail = c.User1Email
		}
		snap = append(snap, c)
	}
	s.mu.Unlock()

	// Deterministic order: recency first, canonical pair key breaks ties.
	sort.SliceStable(snap, func(i, j int) bool {
		if !snap[i].LastUpdated.Equal(snap[j].LastUpdated) {
			return snap[i].LastUpdated.After(snap[j].LastUpdated)
		}
		if snap[i].User1Email != snap[j].User1Email {
			return snap[i].User1Email < snap[j].User1Email
		}
		return snap[i].User2Email < snap[j].User2Email
	})

	return snap, nil
}
