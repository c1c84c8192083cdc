// Package chat implements Courier's message/conversation delivery pipeline:
// durable message persistence, conversation summary upserts keyed by a
// canonical pair ordering, and the history read paths backing the REST API.
package chat

import (
	"context"
	"time"
)

// Message is the canonical persisted message representation.
// Immutable once created; never mutated or deleted.
type Message struct {
	ID            int64     `json:"id"`
	SenderEmail   string    `json:"sender_email"`
	ReceiverEmail string    `json:"receiver_email"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation is the summary row for one unordered pair of participants.
// (User1Email, User2Email) is the canonical pair ordering; at most one row
// exists per pair regardless of who initiated.
type Conversation struct {
	User1Email      string    `json:"user1_email"`
	User2Email      string    `json:"user2_email"`
	LastMessage     string    `json:"last_message"`
	LastSenderEmail string    `json:"last_sender_email"`
	LastUpdated     time.Time `json:"last_updated"`

	// OtherUserEmail is computed per query for inbox listings: the participant
	// that is NOT the requesting identity. Never stored.
	OtherUserEmail string `json:"other_user_email,omitempty"`
}

// SendInput describes a message send request as seen by the store.
// Validation happens in Service; stores only reject structurally empty input.
type SendInput struct {
	SenderEmail   string
	ReceiverEmail string
	Content       string
	Now           time.Time
}

// Store is the chat persistence boundary.
//
// Requirements:
//   - InsertMessage persists the message AND upserts the conversation summary
//     as a single atomic unit: the summary must never drift from history.
//   - Concurrent sends between the same pair are linearized; the summary always
//     reflects the most recently persisted message for that pair.
//   - History queries read durable state only, never in-memory delivery state.
type Store interface {
	// InsertMessage persists a message and upserts the pair's conversation row.
	InsertMessage(ctx context.Context, in SendInput) (Message, error)

	// MessagesByUser returns all messages where email is sender or receiver,
	// in insertion (id) order.
	MessagesByUser(ctx context.Context, email string) ([]Message, error)

	// MessagesBetween returns all messages between a and b (either direction),
	// in insertion (id) order.
	MessagesBetween(ctx context.Context, a, b string) ([]Message, error)

	// UpsertConversation inserts or overwrites the summary row for the pair.
	UpsertConversation(ctx context.Context, a, b, lastMessage, lastSender string, now time.Time) (Conversation, error)

	// ListInbox returns every conversation involving email, annotated with
	// OtherUserEmail, ordered by LastUpdated descending (stable ties).
	ListInbox(ctx context.Context, email string) ([]Conversation, error)

	Close() error
}
