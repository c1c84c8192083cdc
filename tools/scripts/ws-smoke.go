// Package main provides a CI-friendly WebSocket smoke test for the Courier
// live channel.
//
// It validates:
//   - handshake + subprotocol selection
//   - joinRoom -> joinAck room subscription
//   - sendMessage -> messageReceived fanout to the receiver's connection
//   - no stray fanout to the sender's own room
//   - error envelope surfacing for an invalid send
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "courier/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "courier.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name  string
	email string
	conn  *websocket.Conn

	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		sender   = flag.String("sender", "smoke-alice@example.com", "Sender identity email")
		receiver = flag.String("receiver", "smoke-bob@example.com", "Receiver identity email")
		text     = flag.String("text", "hello courier", "Message content to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.EqualFold(strings.TrimSpace(*sender), strings.TrimSpace(*receiver)) {
		fatalf("sender and receiver must differ")
	}

	root := context.Background()

	a := mustConnect(root, "A", *sender, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *receiver, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, a, *timeout)
	mustJoin(root, b, *timeout)

	if *verbose {
		fmt.Printf("joined: A=%s (%s) B=%s (%s) origin=%q\n", a.sessionID, a.email, b.sessionID, b.email, *origin)
	}

	msg := mustSendAndAssertFanout(root, a, b, *text, *timeout)

	// The sender subscribed only to its own room; fanout targets the
	// receiver's room, so A must stay quiet.
	mustAssertNoType(root, a, v1.TypeMessageReceived, 1200*time.Millisecond)

	mustInvalidSendRejected(root, a, *timeout)

	fmt.Printf("OK: A=%s B=%s message_id=%d content=%q\n", a.sessionID, b.sessionID, msg.ID, msg.Content)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, email, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		email: strings.ToLower(strings.TrimSpace(email)),
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeJoinRoom,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.JoinRoomPayload{Email: c.email}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeJoinAck, stepTimeout, nil)

	var p v1.JoinAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal joinAck payload (%s): %v", c.name, err)
	}
	if p.Email != c.email {
		fatalf("joinAck email mismatch (%s): got=%q want=%q", c.name, p.Email, c.email)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("joinAck missing session_id (%s)", c.name)
	}
	c.sessionID = p.SessionID
}

func mustSendAndAssertFanout(parent context.Context, from, to *smokeClient, text string, stepTimeout time.Duration) v1.MessageReceivedPayload {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSendMessage,
		ID:   fmt.Sprintf("%s-send-%d", from.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.SendMessagePayload{
			Sender:   from.email,
			Receiver: to.email,
			Content:  text,
		}),
	}
	mustWriteWithTimeout(parent, from.conn, env, stepTimeout)

	push := to.mustReadUntilType(parent, v1.TypeMessageReceived, stepTimeout, nil)

	var p v1.MessageReceivedPayload
	if err := json.Unmarshal(push.Payload, &p); err != nil {
		fatalf("unmarshal messageReceived payload (%s): %v", to.name, err)
	}
	if p.ID <= 0 {
		fatalf("messageReceived missing durable id (%s): %d", to.name, p.ID)
	}
	if p.SenderEmail != from.email {
		fatalf("messageReceived sender mismatch (%s): got=%q want=%q", to.name, p.SenderEmail, from.email)
	}
	if p.ReceiverEmail != to.email {
		fatalf("messageReceived receiver mismatch (%s): got=%q want=%q", to.name, p.ReceiverEmail, to.email)
	}
	if p.Content != text {
		fatalf("messageReceived content mismatch (%s): got=%q want=%q", to.name, p.Content, text)
	}
	if p.CreatedAt.IsZero() {
		fatalf("messageReceived created_at missing/zero (%s)", to.name)
	}
	return p
}

func mustInvalidSendRejected(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSendMessage,
		ID:   fmt.Sprintf("%s-send-self", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.SendMessagePayload{
			Sender:   c.email,
			Receiver: c.email,
			Content:  "self send must be rejected",
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	errEnv := c.mustReadErrorEnvelope(parent, stepTimeout)

	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		fatalf("unmarshal error payload (%s): %v", c.name, err)
	}
	if p.Code != "validation_failed" {
		fatalf("self-send error code mismatch (%s): got=%q want=%q", c.name, p.Code, "validation_failed")
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

// mustReadErrorEnvelope waits for an error envelope; unlike
// mustReadUntilType it treats the error as the expected outcome.
func (c *smokeClient) mustReadErrorEnvelope(parent context.Context, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for error envelope (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for error envelope (%s)", c.name)
			}
			fatalf("connection error while waiting for error envelope (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for error envelope (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				return env
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, v1.TypeError)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
