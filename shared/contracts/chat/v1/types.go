// Package v1 defines the Courier live-channel protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeJoinRoom subscribes the connection to an identity room (client -> server).
	TypeJoinRoom = "joinRoom"
	// TypeJoinAck acknowledges a room subscription (server -> client).
	TypeJoinAck = "joinAck"

	// TypeSendMessage requests delivery of a new message (client -> server).
	TypeSendMessage = "sendMessage"
	// TypeMessageReceived pushes a delivered message to the receiver's room (server -> client).
	TypeMessageReceived = "messageReceived"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinRoom,
		TypeJoinAck,
		TypeSendMessage,
		TypeMessageReceived,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// JoinRoomPayload subscribes the calling connection to an identity room.
// The email is a bearer claim: the server performs no verification of it.
type JoinRoomPayload struct {
	Email string `json:"email"`
}

// JoinAckPayload echoes a successful room subscription.
type JoinAckPayload struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

// SendMessagePayload requests sending a message to another identity.
type SendMessagePayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

// MessageReceivedPayload carries the full persisted message to the receiver's room.
type MessageReceivedPayload struct {
	ID            int64     `json:"id"`
	SenderEmail   string    `json:"sender_email"`
	ReceiverEmail string    `json:"receiver_email"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
