package api

import (
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"time"

	"github.com/hirakuhq/hiraku/internal/auth"
	"github.com/hirakuhq/hiraku/internal/log"
)

// Registration validation bounds.
const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// AuthHandler handles registration and login.
type AuthHandler struct {
	users  *auth.Store
	tokens *auth.TokenManager
	logger log.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(users *auth.Store, tokens *auth.TokenManager, logger log.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, logger: logger}
}

// RegisterRoutes registers auth routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", h.register)
	mux.HandleFunc("POST /api/login", h.login)
}

// RegisterRequest is the body for POST /api/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by both register and login.
type TokenResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Precision string    `json:"precision"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if msg := validateRegistration(req); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, auth.ErrUserExists) {
		writeError(w, http.StatusConflict, "user_exists", "username or email already registered")
		return
	}
	if err != nil {
		h.logger.Error("registration failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		return
	}

	h.issueToken(w, user, http.StatusCreated)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if err != nil {
		h.logger.Error("login failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	h.issueToken(w, user, http.StatusOK)
}

func (h *AuthHandler) issueToken(w http.ResponseWriter, user *auth.User, status int) {
	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("token issuance failed", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue token")
		return
	}

	writeJSON(w, status, TokenResponse{
		Token:     token,
		Username:  user.Username,
		Precision: user.Precision,
		ExpiresAt: time.Now().Add(h.tokens.TTL()),
	})
}

// validateRegistration returns a human-readable problem, or "" when the
// request is acceptable.
func validateRegistration(req RegisterRequest) string {
	switch {
	case len(req.Username) < minUsernameLength:
		return "username must be at least 3 characters"
	case len(req.Username) > maxUsernameLength:
		return "username must be at most 64 characters"
	case !usernamePattern.MatchString(req.Username):
		return "username may only contain letters, digits, and ._-"
	case len(req.Password) < minPasswordLength:
		return "password must be at least 8 characters"
	case len(req.Password) > maxPasswordLength:
		return "password must be at most 72 characters"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "invalid email address"
	}
	return ""
}
