package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/chat"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/rag"
)

// maxQuestionLength bounds the accepted question size.
const maxQuestionLength = 4000

// QueryHandler answers questions over the caller's documents, either as
// a single JSON response or as an SSE stream.
type QueryHandler struct {
	engine *rag.Engine
	users  *auth.Store
	chats  *chat.Store
	logger log.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine *rag.Engine, users *auth.Store, chats *chat.Store, logger log.Logger) *QueryHandler {
	return &QueryHandler{engine: engine, users: users, chats: chats, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
	mux.HandleFunc("POST /api/stream", h.stream)
}

// QueryRequest is the body for POST /api/query and POST /api/stream.
// Mode overrides the user's stored precision for this request only.
// SessionID, when set, persists the exchange into that chat session.
type QueryRequest struct {
	Question  string `json:"question"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryResponse is the body of a successful POST /api/query.
type QueryResponse struct {
	Answer    string       `json:"answer"`
	Sources   []rag.Source `json:"sources"`
	SessionID string       `json:"session_id,omitempty"`
}

// parseQuery validates the request and resolves the effective mode and
// optional session.
func (h *QueryHandler) parseQuery(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (QueryRequest, rag.Mode, uuid.UUID, error) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return req, "", uuid.Nil, err
		}
		return req, "", uuid.Nil, errors.New("invalid JSON body")
	}
	if req.Question == "" {
		return req, "", uuid.Nil, errors.New("question is required")
	}
	if len(req.Question) > maxQuestionLength {
		return req, "", uuid.Nil, errors.New("question too long")
	}

	mode, err := h.resolveMode(r.Context(), claims.UserID, req.Mode)
	if err != nil {
		return req, "", uuid.Nil, err
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		sessionID, err = uuid.Parse(req.SessionID)
		if err != nil {
			return req, "", uuid.Nil, errors.New("invalid session_id")
		}
	}
	return req, mode, sessionID, nil
}

// resolveMode prefers an explicit per-request mode, falling back to the
// user's stored precision.
func (h *QueryHandler) resolveMode(ctx context.Context, userID uuid.UUID, override string) (rag.Mode, error) {
	if override != "" {
		mode, err := rag.ParseMode(override)
		if err != nil {
			return "", errors.New("mode must be one of: precise, balanced, fast")
		}
		return mode, nil
	}

	stored, err := h.users.Precision(ctx, userID)
	if err != nil {
		// Stored precision is a convenience; fall back rather than fail.
		h.logger.Warn("loading precision failed", "user", userID, "error", err)
		return rag.ModeBalanced, nil
	}
	mode, err := rag.ParseMode(stored)
	if err != nil {
		return rag.ModeBalanced, nil
	}
	return mode, nil
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	req, mode, sessionID, err := h.parseQuery(w, r, claims)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeDecodeError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	answer, err := h.engine.Query(r.Context(), claims.UserID, req.Question, mode)
	if err != nil {
		h.logger.Error("query failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "query failed")
		return
	}

	resp := QueryResponse{Answer: answer.Text, Sources: answer.Sources}
	if sessionID != uuid.Nil {
		if err := h.persistExchange(r.Context(), claims.UserID, sessionID, req.Question, answer.Text); err != nil {
			if errors.Is(err, chat.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, "session_not_found", "chat session not found")
				return
			}
			h.logger.Error("persisting exchange failed", "user", claims.UserID, "session", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not save chat history")
			return
		}
		resp.SessionID = sessionID.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *QueryHandler) stream(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	req, mode, sessionID, err := h.parseQuery(w, r, claims)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeDecodeError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Session ownership is checked before any SSE bytes go out, while a
	// clean HTTP error is still possible.
	if sessionID != uuid.Nil {
		if _, err := h.chats.History(r.Context(), claims.UserID, sessionID, 1); err != nil {
			if errors.Is(err, chat.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, "session_not_found", "chat session not found")
				return
			}
			h.logger.Error("checking session failed", "user", claims.UserID, "session", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load session")
			return
		}
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	answer, err := h.engine.Stream(r.Context(), claims.UserID, req.Question, mode, sse.writeChunk)
	if err != nil {
		h.logger.Error("stream failed", "user", claims.UserID, "error", err)
		_ = sse.writeSSEError("internal_error", "query failed")
		return
	}

	// Canned answers (no documents, no matches) skip the streaming
	// callback entirely; emit them as a single chunk so clients always
	// receive the answer text before done.
	if answer.Text != "" && len(answer.Sources) == 0 {
		_ = sse.writeChunk(answer.Text)
	}

	if err := sse.writeSources(answer.Sources); err != nil {
		h.logger.Debug("client went away mid-stream", "user", claims.UserID, "error", err)
		return
	}

	if sessionID != uuid.Nil {
		if err := h.persistExchange(r.Context(), claims.UserID, sessionID, req.Question, answer.Text); err != nil {
			h.logger.Error("persisting exchange failed", "user", claims.UserID, "session", sessionID, "error", err)
			_ = sse.writeSSEError("internal_error", "could not save chat history")
			return
		}
	}

	_ = sse.writeDone()
}

// persistExchange saves the question/answer pair into a session.
func (h *QueryHandler) persistExchange(ctx context.Context, owner, sessionID uuid.UUID, question, answer string) error {
	if _, err := h.chats.AddMessage(ctx, owner, sessionID, chat.RoleUser, question); err != nil {
		return err
	}
	_, err := h.chats.AddMessage(ctx, owner, sessionID, chat.RoleAssistant, answer)
	return err
}
