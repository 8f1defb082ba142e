package api

import (
	"errors"
	"net/http"

	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/log"
	"github.com/hirakuhq/hiraku/internal/rag"
)

// PrecisionHandler reads and updates a user's stored precision mode.
type PrecisionHandler struct {
	users  *auth.Store
	logger log.Logger
}

// NewPrecisionHandler creates a precision handler.
func NewPrecisionHandler(users *auth.Store, logger log.Logger) *PrecisionHandler {
	return &PrecisionHandler{users: users, logger: logger}
}

// RegisterRoutes registers precision routes on the given mux.
func (h *PrecisionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/get-precision", h.get)
	mux.HandleFunc("POST /api/set-precision", h.set)
}

// PrecisionResponse is the body for both precision endpoints.
type PrecisionResponse struct {
	Precision string `json:"precision"`
}

// SetPrecisionRequest is the body for POST /api/set-precision.
type SetPrecisionRequest struct {
	Precision string `json:"precision"`
}

func (h *PrecisionHandler) get(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	mode, err := h.users.Precision(r.Context(), claims.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("loading precision failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load precision")
		return
	}

	writeJSON(w, http.StatusOK, PrecisionResponse{Precision: mode})
}

func (h *PrecisionHandler) set(w http.ResponseWriter, r *http.Request) {
	claims, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req SetPrecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	mode, err := rag.ParseMode(req.Precision)
	if err != nil || req.Precision == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "precision must be one of: precise, balanced, fast")
		return
	}

	err = h.users.SetPrecision(r.Context(), claims.UserID, string(mode))
	if errors.Is(err, auth.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("storing precision failed", "user", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store precision")
		return
	}

	writeJSON(w, http.StatusOK, PrecisionResponse{Precision: string(mode)})
}
