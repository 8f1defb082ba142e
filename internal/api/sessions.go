package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/hirakuhq/hiraku/internal/chat"
	"github.com/hirakuhq/hiraku/internal/log"
)

// maxTitleLength bounds user-supplied session titles.
const maxTitleLength = 100

// SessionHandler manages chat sessions and their history.
type SessionHandler struct {
	chats  *chat.Store
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(chats *chat.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{chats: chats, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat-sessions", h.list)
	mux.HandleFunc("POST /api/chat-sessions", h.create)
	mux.HandleFunc("DELETE /api/chat-sessions/{id}", h.delete)
	mux.HandleFunc("GET /api/chat-history", h.history)
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessions, err := h.chats.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("listing sessions failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// CreateSessionRequest is the body for POST /api/chat-sessions.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	// Body is optional: an empty POST creates a session with the
	// default title. io.EOF covers empty bodies regardless of whether
	// the client sent a Content-Length.
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}
	if len(req.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long (max 100 characters)")
		return
	}

	sess, err := h.chats.CreateSession(r.Context(), claims.UserID, req.Title)
	if err != nil {
		h.logger.Error("creating session failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid session id")
		return
	}

	err = h.chats.DeleteSession(r.Context(), claims.UserID, sessionID)
	if errors.Is(err, chat.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "chat session not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting session failed", "user", claims.UserID, "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// history returns a session's messages, oldest first. Without a
// session_id parameter it falls back to the most recent session.
func (h *SessionHandler) history(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var sessionID uuid.UUID
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		var err error
		sessionID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid session_id")
			return
		}
	} else {
		sess, err := h.chats.LatestSession(r.Context(), claims.UserID)
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"messages": []chat.Message{}})
			return
		}
		if err != nil {
			h.logger.Error("loading latest session failed", "user", claims.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load history")
			return
		}
		sessionID = sess.ID
	}

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
	}

	messages, err := h.chats.History(r.Context(), claims.UserID, sessionID, limit)
	if errors.Is(err, chat.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "chat session not found")
		return
	}
	if err != nil {
		h.logger.Error("loading history failed", "user", claims.UserID, "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}
