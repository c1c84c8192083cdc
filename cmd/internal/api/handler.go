// Package api exposes Courier's REST surface: user registration and lookup,
// profile picture upload, message send/history, and conversation listings.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/blob"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	defaultMaxBodyBytes = 1 << 20 // 1 MiB for JSON bodies

	// Profile pictures: images only, bounded size.
	maxProfilePictureBytes = 5 << 20 // 5 MiB
	profileFormField       = "profile"
	profileFolder          = "profile"
)

// MessageDeliverer is the delivery pipeline behind POST /messages: persist
// the message, then push it to the receiver's live channel when the receiver
// has a joined session. REST and the websocket gateway share one
// implementation so live delivery does not depend on which ingress carried
// the send.
type MessageDeliverer interface {
	Deliver(ctx context.Context, sender, receiver, content string) (chat.Message, error)
}

// Handler wires the REST endpoints to identity, chat, delivery, and blob services.
type Handler struct {
	log     *slog.Logger
	users   identity.Store
	chat    *chat.Service
	deliver MessageDeliverer
	blobs   blob.Uploader

	maxBodyBytes int64
}

// NewHandler constructs the REST handler. A nil uploader disables profile
// picture upload (503 on that endpoint); everything else requires its service.
func NewHandler(log *slog.Logger, users identity.Store, chatSvc *chat.Service, deliver MessageDeliverer, blobs blob.Uploader) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		users:        users,
		chat:         chatSvc,
		deliver:      deliver,
		blobs:        blobs,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Register wires the REST routes onto the provided router.
func (h *Handler) Register(r chi.Router) {
	if h == nil || r == nil {
		return
	}

	r.Post("/users/register-user", h.handleRegisterUser)
	r.Post("/users/profile-picture/{email}", h.handleProfilePicture)
	r.Get("/users/{email}", h.handleGetUser)

	r.Post("/messages", h.handleCreateMessage)
	r.Get("/messages/between", h.handleMessagesBetween)
	r.Get("/messages/{userEmail}", h.handleMessagesByUser)

	r.Post("/conversations", h.handleUpsertConversation)
	r.Get("/conversations/inbox", h.handleInbox)
}

// ---- users ----

type registerUserRequest struct {
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	ProfileURL *string `json:"profile_url"`
}

func (h *Handler) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.CreateUser(r.Context(), identity.CreateUserInput{
		Email:      req.Email,
		Name:       req.Name,
		ProfileURL: req.ProfileURL,
		Now:        time.Now().UTC(),
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "email and name are required")
		default:
			h.log.Error("api.users.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.UsersRegistered.Inc()
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	email := identity.NormalizeEmail(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	u, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("api.users.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

type profilePictureResponse struct {
	ProfileURL string `json:"profile_url"`
}

func (h *Handler) handleProfilePicture(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "blob_unavailable", "blob storage not configured")
		return
	}

	email := identity.NormalizeEmail(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	// The user must exist before we pay for an upload.
	if _, err := h.users.GetByEmail(r.Context(), email); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("api.users.picture.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProfilePictureBytes+4096)
	if err := r.ParseMultipartForm(maxProfilePictureBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart form with a profile file is required")
		return
	}

	file, header, err := r.FormFile(profileFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "profile file is required")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size <= 0 || header.Size > maxProfilePictureBytes {
		writeError(w, http.StatusBadRequest, "file_too_large", "profile picture must be at most 5 MiB")
		return
	}

	contentType, err := sniffImageContentType(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_media", "profile picture must be an image")
		return
	}

	key := blob.ObjectKey(profileFolder, header.Filename)
	url, err := h.blobs.Put(r.Context(), blob.PutInput{
		Key:         key,
		ContentType: contentType,
		Body:        file,
		Size:        header.Size,
	})
	if err != nil {
		h.log.Error("api.users.picture.upload.fail", "err", err, "email", email)
		writeError(w, http.StatusBadGateway, "upload_failed", "could not store profile picture")
		return
	}

	if err := h.users.SetProfileURL(r.Context(), email, url); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("api.users.picture.persist.fail", "err", err, "email", email)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.users.picture.ok", "email", email, "key", key)
	writeJSON(w, http.StatusOK, profilePictureResponse{ProfileURL: url})
}

// ---- messages ----

type createMessageRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
}

func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	msg, err := h.deliver.Deliver(r.Context(), req.Sender, req.Receiver, req.Content)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.log.Error("api.messages.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.MessagesSent.WithLabelValues("rest").Inc()
	writeJSON(w, http.StatusCreated, dataResponse{Data: msg})
}

func (h *Handler) handleMessagesByUser(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "userEmail")

	msgs, err := h.chat.MessagesByUser(r.Context(), email)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "user email is required")
			return
		}
		h.log.Error("api.messages.by_user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: emptyAsList(msgs)})
}

func (h *Handler) handleMessagesBetween(w http.ResponseWriter, r *http.Request) {
	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")

	msgs, err := h.chat.MessagesBetween(r.Context(), user1, user2)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "user1 and user2 are required")
			return
		}
		h.log.Error("api.messages.between.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: emptyAsList(msgs)})
}

// ---- conversations ----

type upsertConversationRequest struct {
	User1Email      string `json:"user1_email"`
	User2Email      string `json:"user2_email"`
	LastMessage     string `json:"last_message"`
	LastSenderEmail string `json:"last_sender_email"`
}

func (h *Handler) handleUpsertConversation(w http.ResponseWriter, r *http.Request) {
	var req upsertConversationRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	conv, err := h.chat.UpsertConversation(r.Context(), req.User1Email, req.User2Email, req.LastMessage, req.LastSenderEmail)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.log.Error("api.conversations.upsert.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	convs, err := h.chat.Inbox(r.Context(), email)
	if err != nil {
		if chat.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
			return
		}
		h.log.Error("api.conversations.inbox.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: emptyAsList(convs)})
}

// ---- helpers ----

// emptyAsList keeps empty results as [] instead of null on the wire.
func emptyAsList[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

var errNotAnImage = errors.New("not an image")

// sniffImageContentType detects the MIME type from the first bytes of the
// upload and rejects anything that is not image/*. The reader is rewound so
// the caller can stream the full file afterwards.
func sniffImageContentType(file io.ReadSeeker) (string, error) {
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}

	contentType := http.DetectContentType(buf[:n])
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if !strings.HasPrefix(contentType, "image/") {
		return "", errNotAnImage
	}
	return contentType, nil
}
