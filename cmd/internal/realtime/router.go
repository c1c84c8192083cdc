package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"courier/cmd/internal/chat"
	"courier/cmd/internal/metrics"
	v1 "courier/shared/contracts/chat/v1"
)

// Router runs the delivery pipeline shared by every ingress: validate and
// persist through the chat service, then push to the receiver's room iff one
// exists at push time. REST sends and live-channel sends go through the same
// instance so a joined receiver sees the push no matter which surface carried
// the message.
type Router struct {
	log      *slog.Logger
	registry *Registry
	svc      *chat.Service
}

// NewRouter constructs a Router. Nil collaborators fall back to in-memory
// implementations for dev, matching NewWSGateway.
func NewRouter(log *slog.Logger, registry *Registry, svc *chat.Service) *Router {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(log)
	}
	if svc == nil {
		svc = chat.NewService(log, chat.NewMemoryStore())
	}
	return &Router{log: log, registry: registry, svc: svc}
}

// Deliver persists one message and pushes it to the receiver's live channel
// when the receiver has at least one joined session. The returned message is
// durable regardless of push outcome; persistence failures are returned to
// the caller, never swallowed.
func (d *Router) Deliver(ctx context.Context, sender, receiver, content string) (chat.Message, error) {
	msg, err := d.svc.SendMessage(ctx, sender, receiver, content)
	if err != nil {
		return chat.Message{}, err
	}
	d.push(msg)
	return msg, nil
}

// push fans the persisted message out to the receiver's room.
// A missing room means the receiver is offline; the message surfaces via history.
func (d *Router) push(msg chat.Message) {
	room := d.registry.Lookup(msg.ReceiverEmail)
	if room == nil {
		d.log.Info("router.push.skip_offline", "message_id", msg.ID, "receiver", msg.ReceiverEmail)
		return
	}

	payload, _ := json.Marshal(v1.MessageReceivedPayload{
		ID:            msg.ID,
		SenderEmail:   msg.SenderEmail,
		ReceiverEmail: msg.ReceiverEmail,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
	})
	env := newEnvelope(v1.TypeMessageReceived, payload, time.Now().UTC())

	if n := room.Broadcast(env); n > 0 {
		metrics.LiveDeliveries.Inc()
		d.log.Info("router.push.ok", "message_id", msg.ID, "receiver", msg.ReceiverEmail, "sessions", n)
	}
}
