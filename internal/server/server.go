// Package server exposes the chat HTTP surface: conversations, messages,
// attachment uploads, the identity webhook and the realtime websocket bridge.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"labsync/internal/app"
	"labsync/internal/util"
	"labsync/pkg/domain"
	"labsync/pkg/filestore"
	"labsync/pkg/realtime"
	"labsync/pkg/store"
)

// TokenVerifier validates an access token and returns the subject user ID.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Limiter gates message sends per user.
type Limiter interface {
	Allow(key string) bool
}

// Uploader stores validated attachments; satisfied by pkg/filestore.
type Uploader interface {
	Upload(ctx context.Context, conversationID, userID, fileName, mimeType string, size int64, r io.Reader) (domain.FileUpload, error)
}

// WebhookVerifier checks identity webhook signatures.
type WebhookVerifier interface {
	Verify(id, timestamp, signatureHeader string, body []byte) error
}

// EventApplier applies identity lifecycle events.
type EventApplier interface {
	Apply(payload []byte) error
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	Store           store.Store
	TokenVerifier   TokenVerifier
	Limiter         Limiter
	Files           Uploader
	WebhookVerifier WebhookVerifier
	Identity        EventApplier
	Channel         realtime.Channel
	TrustedProxies  *util.TrustedProxies
}

// Server exposes the chat HTTP endpoints.
type Server struct {
	app             *app.App
	store           store.Store
	tokenVerifier   TokenVerifier
	limiter         Limiter
	files           Uploader
	webhookVerifier WebhookVerifier
	identity        EventApplier
	channel         realtime.Channel
	trusted         *util.TrustedProxies
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		store:           cfg.Store,
		tokenVerifier:   cfg.TokenVerifier,
		limiter:         cfg.Limiter,
		files:           cfg.Files,
		webhookVerifier: cfg.WebhookVerifier,
		identity:        cfg.Identity,
		channel:         cfg.Channel,
		trusted:         cfg.TrustedProxies,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the ambient middleware applied.
func (s *Server) Router() http.Handler {
	handler := util.WithSecurityHeaders(util.WithCORS(s.mux))
	handler = util.WithRequestLog(s.trusted, handler)
	return util.WithRequestID(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/conversations", s.withUser(s.handleConversations))
	s.mux.Handle("/conversations/", s.withUser(s.handleConversationByID))
	s.mux.Handle("/messages", s.withUser(s.handleMessages))
	s.mux.Handle("/messages/", s.withUser(s.handleMessageByID))
	s.mux.Handle("/files", s.withUser(s.handleFiles))
	s.mux.Handle("/realtime", s.withUser(s.handleRealtime))
	s.mux.HandleFunc("/webhooks/identity", s.handleIdentityWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser authenticates the bearer token, resolves the user row and rejects
// deactivated accounts.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		subject, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, found, err := s.store.GetUserByID(subject)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found || !user.IsActive {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		convs, err := s.app.ListConversations(r.Context(), user.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if convs == nil {
			convs = []domain.Conversation{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
	case http.MethodPost:
		var req createConversationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.app.CreateConversation(r.Context(), user.ID, req.Name, req.IsGroup, req.ParticipantIDs)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": conv,
			"message":      "conversation created",
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	conversationID, action, _ := strings.Cut(rest, "/")
	if conversationID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		conv, participants, err := s.app.GetConversation(r.Context(), conversationID, user.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": conv,
			"participants": participants,
		})
	case action == "read" && r.Method == http.MethodPost:
		if err := s.app.MarkRead(r.Context(), conversationID, user.ID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		conversationID := strings.TrimSpace(r.URL.Query().Get("conversationId"))
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		limit := queryInt(r, "limit")
		offset := queryInt(r, "offset")
		msgs, err := s.app.ListMessages(r.Context(), conversationID, user.ID, limit, offset)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	case http.MethodPost:
		if s.limiter != nil && !s.limiter.Allow(user.ID) {
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), app.SendMessageInput{
			ConversationID: req.ConversationID,
			SenderID:       user.ID,
			Content:        req.Content,
			Type:           messageType(req.Type),
			File:           req.fileInfo(),
			ReplyToID:      req.ReplyToID,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		msg.IsOwn = true
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	messageID := strings.TrimPrefix(r.URL.Path, "/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req editMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.EditMessage(r.Context(), messageID, user.ID, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		msg.IsOwn = true
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "success": true})
	case http.MethodDelete:
		msg, err := s.app.DeleteMessage(r.Context(), messageID, user.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		msg.IsOwn = true
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.files == nil {
		writeError(w, http.StatusInternalServerError, "file storage not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxFileSize+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	conversationID := strings.TrimSpace(r.FormValue("conversationId"))
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	member, err := s.app.IsParticipant(conversationID, user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	upload, err := s.files.Upload(r.Context(), conversationID, user.ID,
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": upload, "success": true})
}

// writeAppError maps application errors onto HTTP statuses. Unexpected errors
// surface as opaque 500s and are logged with the request id.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrValidation), errors.Is(err, filestore.ErrInvalidFile):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type createConversationRequest struct {
	Name           string   `json:"name"`
	IsGroup        bool     `json:"isGroup"`
	ParticipantIDs []string `json:"participantIds"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	ReplyToID      string `json:"replyToId"`
}

func (r sendMessageRequest) fileInfo() *domain.FileInfo {
	if r.FileURL == "" && r.FileName == "" && r.FileSize == 0 {
		return nil
	}
	return &domain.FileInfo{URL: r.FileURL, Name: r.FileName, Size: r.FileSize}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func messageType(raw string) domain.MessageType {
	if strings.TrimSpace(raw) == "" {
		return domain.MessageText
	}
	return domain.MessageType(strings.ToLower(strings.TrimSpace(raw)))
}

func queryInt(r *http.Request, key string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
