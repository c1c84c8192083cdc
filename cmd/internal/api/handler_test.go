package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"courier/cmd/identity"
	"courier/cmd/internal/blob"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/realtime"
	v1 "courier/shared/contracts/chat/v1"

	"github.com/go-chi/chi/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	router   *chi.Mux
	users    identity.Store
	chat     *chat.Service
	registry *realtime.Registry
	blobs    *blob.MemoryUploader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := testLogger()
	users := identity.NewMemoryStore()
	chatSvc := chat.NewService(log, chat.NewMemoryStore())
	registry := realtime.NewRegistry(log)
	deliverer := realtime.NewRouter(log, registry, chatSvc)
	blobs := blob.NewMemoryUploader()

	h := NewHandler(log, users, chatSvc, deliverer, blobs)
	r := chi.NewRouter()
	h.Register(r)

	return &testEnv{router: r, users: users, chat: chatSvc, registry: registry, blobs: blobs}
}

func (e *testEnv) do(t *testing.T, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.do(t, method, target, "application/json", bytes.NewReader(b))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rec).Error.Code
}

// ---- users ----

func TestRegisterUser_CreatedAndNormalized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "  Alice@Example.COM ",
		"name":  "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	u := decodeBody[identity.User](t, rec)
	if u.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized", u.Email)
	}
	if u.ID == 0 {
		t.Fatalf("id must be assigned")
	}
}

func TestRegisterUser_DuplicateConflicts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	first := env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "bob@example.com", "name": "Bob",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", first.Code)
	}

	dup := env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "BOB@example.com", "name": "Other Bob",
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d body=%s", dup.Code, dup.Body.String())
	}
	if code := errorCode(t, dup); code != "conflict" {
		t.Fatalf("error code = %q", code)
	}
}

func TestRegisterUser_InvalidInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing email", map[string]any{"name": "X"}},
		{"missing name", map[string]any{"email": "x@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, "/users/register-user", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegisterUser_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/users/register-user", "application/json",
		strings.NewReader(`{"email":"x@example.com","name":"X","role":"admin"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown field", rec.Code)
	}
}

func TestGetUser_FoundAndMissing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "carol@example.com", "name": "Carol",
	})

	ok := env.do(t, http.MethodGet, "/users/Carol@Example.com", "", nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", ok.Code, ok.Body.String())
	}
	u := decodeBody[identity.User](t, ok)
	if u.Name != "Carol" {
		t.Fatalf("name = %q", u.Name)
	}

	missing := env.do(t, http.MethodGet, "/users/ghost@example.com", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing user status = %d", missing.Code)
	}
}

// ---- profile picture ----

// Minimal valid PNG header so content sniffing sees image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13}

func multipartProfile(t *testing.T, filename string, content []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(profileFormField, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestProfilePicture_UploadPersistsURL(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "dave@example.com", "name": "Dave",
	})

	body, contentType := multipartProfile(t, "avatar.png", pngHeader)
	rec := env.do(t, http.MethodPost, "/users/profile-picture/dave@example.com", contentType, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[profilePictureResponse](t, rec)
	if !strings.HasPrefix(resp.ProfileURL, "mem://profile/") {
		t.Fatalf("profile_url = %q", resp.ProfileURL)
	}
	if env.blobs.Len() != 1 {
		t.Fatalf("stored objects = %d, want 1", env.blobs.Len())
	}

	get := env.do(t, http.MethodGet, "/users/dave@example.com", "", nil)
	u := decodeBody[identity.User](t, get)
	if u.ProfileURL == nil || *u.ProfileURL != resp.ProfileURL {
		t.Fatalf("persisted profile_url = %v, want %q", u.ProfileURL, resp.ProfileURL)
	}
}

func TestProfilePicture_RejectsNonImage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.doJSON(t, http.MethodPost, "/users/register-user", map[string]any{
		"email": "erin@example.com", "name": "Erin",
	})

	body, contentType := multipartProfile(t, "notes.txt", []byte("plain text, not an image"))
	rec := env.do(t, http.MethodPost, "/users/profile-picture/erin@example.com", contentType, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "unsupported_media" {
		t.Fatalf("error code = %q", code)
	}
	if env.blobs.Len() != 0 {
		t.Fatalf("rejected upload must not store objects")
	}
}

func TestProfilePicture_UnknownUser404(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body, contentType := multipartProfile(t, "avatar.png", pngHeader)
	rec := env.do(t, http.MethodPost, "/users/profile-picture/nobody@example.com", contentType, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

// ---- messages ----

func TestCreateMessage_PersistedAndWrapped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/messages", map[string]any{
		"sender":   "alice@example.com",
		"receiver": "bob@example.com",
		"content":  "hi bob",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data chat.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.ID == 0 || resp.Data.Content != "hi bob" {
		t.Fatalf("message = %+v", resp.Data)
	}
}

func TestCreateMessage_PushesToJoinedReceiver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	receiver := realtime.NewClient("sess-rest-1", 8)
	env.registry.Join("bob@example.com", receiver)

	rec := env.doJSON(t, http.MethodPost, "/messages", map[string]any{
		"sender":   "alice@example.com",
		"receiver": "bob@example.com",
		"content":  "sent over rest",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	// Delivery is synchronous: the push must already sit in the receiver's queue.
	select {
	case got := <-receiver.Send:
		if got.Type != v1.TypeMessageReceived {
			t.Fatalf("pushed envelope type = %q", got.Type)
		}
		var p v1.MessageReceivedPayload
		if err := json.Unmarshal(got.Payload, &p); err != nil {
			t.Fatalf("decode push payload: %v", err)
		}
		if p.SenderEmail != "alice@example.com" || p.ReceiverEmail != "bob@example.com" {
			t.Fatalf("push participants = %q -> %q", p.SenderEmail, p.ReceiverEmail)
		}
		if p.Content != "sent over rest" || p.ID == 0 {
			t.Fatalf("push payload = %+v", p)
		}
	default:
		t.Fatalf("joined receiver got no live push for a REST send")
	}
}

func TestCreateMessage_SelfSendRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/messages", map[string]any{
		"sender":   "alice@example.com",
		"receiver": "alice@example.com",
		"content":  "echo",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMessagesByUser_EmptyIsList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/messages/lonely@example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"data":[]}` {
		t.Fatalf("body = %s, want empty list", body)
	}
}

func TestMessagesBetween_RequiresBothParams(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/messages/between?user1=alice@example.com", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestMessagesBetween_SymmetricHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, m := range []map[string]any{
		{"sender": "alice@example.com", "receiver": "bob@example.com", "content": "one"},
		{"sender": "bob@example.com", "receiver": "alice@example.com", "content": "two"},
	} {
		if rec := env.doJSON(t, http.MethodPost, "/messages", m); rec.Code != http.StatusCreated {
			t.Fatalf("seed send status = %d", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/messages/between?user1=bob@example.com&user2=alice@example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data []chat.Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].Content != "one" || resp.Data[1].Content != "two" {
		t.Fatalf("history = %+v", resp.Data)
	}
}

// ---- conversations ----

func TestInbox_ReflectsSends(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.doJSON(t, http.MethodPost, "/messages", map[string]any{
		"sender": "alice@example.com", "receiver": "bob@example.com", "content": "ping",
	})

	rec := env.do(t, http.MethodGet, "/conversations/inbox?email=bob@example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []chat.Conversation `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("inbox size = %d", len(resp.Data))
	}
	conv := resp.Data[0]
	if conv.OtherUserEmail != "alice@example.com" {
		t.Fatalf("other_user_email = %q", conv.OtherUserEmail)
	}
	if conv.LastMessage != "ping" || conv.LastSenderEmail != "alice@example.com" {
		t.Fatalf("summary = %+v", conv)
	}
}

func TestInbox_RequiresEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/conversations/inbox", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpsertConversation_CanonicalSingleRow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	first := env.doJSON(t, http.MethodPost, "/conversations", map[string]any{
		"user1_email":       "bob@example.com",
		"user2_email":       "alice@example.com",
		"last_message":      "hello",
		"last_sender_email": "bob@example.com",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", first.Code, first.Body.String())
	}
	conv := decodeBody[chat.Conversation](t, first)
	if conv.User1Email != "alice@example.com" || conv.User2Email != "bob@example.com" {
		t.Fatalf("pair not canonical: %+v", conv)
	}

	second := env.doJSON(t, http.MethodPost, "/conversations", map[string]any{
		"user1_email":       "alice@example.com",
		"user2_email":       "bob@example.com",
		"last_message":      "updated",
		"last_sender_email": "alice@example.com",
	})
	if second.Code != http.StatusCreated {
		t.Fatalf("status = %d", second.Code)
	}

	inbox := env.do(t, http.MethodGet, "/conversations/inbox?email=alice@example.com", "", nil)
	var resp struct {
		Data []chat.Conversation `json:"data"`
	}
	if err := json.Unmarshal(inbox.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected a single conversation row, got %d", len(resp.Data))
	}
	if resp.Data[0].LastMessage != "updated" {
		t.Fatalf("last_message = %q", resp.Data[0].LastMessage)
	}
}

func TestUpsertConversation_SenderMustBeParticipant(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/conversations", map[string]any{
		"user1_email":       "alice@example.com",
		"user2_email":       "bob@example.com",
		"last_message":      "hello",
		"last_sender_email": "mallory@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}
