package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	valid := Envelope{
		V:       Version,
		Type:    TypeSendMessage,
		ID:      "env-1",
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{}`),
	}

	cases := []struct {
		name    string
		mutate  func(e *Envelope)
		wantErr bool
	}{
		{name: "valid sendMessage", mutate: func(_ *Envelope) {}},
		{name: "valid joinRoom", mutate: func(e *Envelope) { e.Type = TypeJoinRoom }},
		{name: "valid server types", mutate: func(e *Envelope) { e.Type = TypeMessageReceived }},
		{name: "missing version", mutate: func(e *Envelope) { e.V = "" }, wantErr: true},
		{name: "wrong version", mutate: func(e *Envelope) { e.V = "v2" }, wantErr: true},
		{name: "missing type", mutate: func(e *Envelope) { e.Type = "  " }, wantErr: true},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "typingIndicator" }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := valid
			tc.mutate(&env)

			err := env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestEnvelopeJSONShape(t *testing.T) {
	t.Parallel()

	raw := `{"v":"v1","type":"messageReceived","id":"env-2","ts":"2026-01-02T15:04:05Z","payload":{"id":7,"sender_email":"a@example.com","receiver_email":"b@example.com","content":"hi","created_at":"2026-01-02T15:04:05Z"}}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var p MessageReceivedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID != 7 || p.SenderEmail != "a@example.com" || p.Content != "hi" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
