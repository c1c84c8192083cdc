package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Max message text length (runes). Longer content is rejected at validation.
const maxContentChars = 4000

// Service is the delivery pipeline's business core. It owns validation and the
// persist-then-deliver ordering contract: callers must not push a live
// notification unless SendMessage returned without error.
//
// The same validation applies to the REST path and the live-channel path.
type Service struct {
	log   *slog.Logger
	store Store
}

// NewService constructs a Service. A nil store falls back to in-memory for dev.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{log: log, store: store}
}

// SendMessage validates and durably records a message, upserting the pair's
// conversation summary atomically. It returns the stored message with its
// assigned id and timestamp.
func (s *Service) SendMessage(ctx context.Context, sender, receiver, content string) (Message, error) {
	const op = "chat.SendMessage"

	sender = NormalizeEmail(sender)
	receiver = NormalizeEmail(receiver)
	content = strings.TrimSpace(content)

	if sender == "" {
		return Message{}, invalid(op, "sender is required")
	}
	if receiver == "" {
		return Message{}, invalid(op, "receiver is required")
	}
	if content == "" {
		return Message{}, invalid(op, "content is required")
	}
	if sender == receiver {
		return Message{}, invalid(op, "sender and receiver must differ")
	}
	if len([]rune(content)) > maxContentChars {
		return Message{}, invalid(op, "content too long")
	}

	msg, err := s.store.InsertMessage(ctx, SendInput{
		SenderEmail:   sender,
		ReceiverEmail: receiver,
		Content:       content,
		Now:           time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("chat.send.fail", "sender", sender, "receiver", receiver, "err", err)
		return Message{}, wrapStore(op, err)
	}

	s.log.Info("chat.send.ok", "message_id", msg.ID, "sender", sender, "receiver", receiver)
	return msg, nil
}

// MessagesByUser returns all messages involving email, in insertion order.
func (s *Service) MessagesByUser(ctx context.Context, email string) ([]Message, error) {
	const op = "chat.MessagesByUser"

	email = NormalizeEmail(email)
	if email == "" {
		return nil, invalid(op, "email is required")
	}

	out, err := s.store.MessagesByUser(ctx, email)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	return out, nil
}

// MessagesBetween returns all messages between a and b, in insertion order.
func (s *Service) MessagesBetween(ctx context.Context, a, b string) ([]Message, error) {
	const op = "chat.MessagesBetween"

	a = NormalizeEmail(a)
	b = NormalizeEmail(b)
	if a == "" || b == "" {
		return nil, invalid(op, "both user emails are required")
	}

	out, err := s.store.MessagesBetween(ctx, a, b)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	return out, nil
}

// Inbox returns every conversation involving email, most recent first.
func (s *Service) Inbox(ctx context.Context, email string) ([]Conversation, error) {
	const op = "chat.Inbox"

	email = NormalizeEmail(email)
	if email == "" {
		return nil, invalid(op, "email is required")
	}

	out, err := s.store.ListInbox(ctx, email)
	if err != nil {
		return nil, wrapStore(op, err)
	}
	return out, nil
}

// UpsertConversation inserts or overwrites the summary row for the pair.
func (s *Service) UpsertConversation(ctx context.Context, a, b, lastMessage, lastSender string) (Conversation, error) {
	const op = "chat.UpsertConversation"

	a = NormalizeEmail(a)
	b = NormalizeEmail(b)
	lastSender = NormalizeEmail(lastSender)

	if a == "" || b == "" {
		return Conversation{}, invalid(op, "both user emails are required")
	}
	if lastMessage == "" {
		return Conversation{}, invalid(op, "last_message is required")
	}
	if lastSender != a && lastSender != b {
		return Conversation{}, invalid(op, "last_sender_email must be one of the participants")
	}

	c, err := s.store.UpsertConversation(ctx, a, b, lastMessage, lastSender, time.Now().UTC())
	if err != nil {
		return Conversation{}, wrapStore(op, err)
	}
	return c, nil
}

// wrapStore keeps sentinel kinds visible to callers and classifies everything
// else as a storage failure.
func wrapStore(op string, err error) error {
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storage(op, err)
}
