package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
)

// AuthHandler serves account registration and login.
type AuthHandler struct {
	users  domain.UserStore
	tokens *auth.TokenMaker
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler with the given user store and token
// maker.
func NewAuthHandler(users domain.UserStore, tokens *auth.TokenMaker, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

type registerRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse carries the issued token and the account it belongs to.
type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Register creates a new account and issues a token for it.
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleDealer
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "register")
		return
	}

	user, err := h.users.Create(r.Context(), domain.User{
		ID:           uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeDomainError(w, r, h.logger, err, "register")
		return
	}

	token, err := h.tokens.Create(user.ID, user.Role)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "register")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

// Login verifies credentials and issues a token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		// A missing account and a wrong password look identical to the
		// caller.
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeDomainError(w, r, h.logger, err, "login")
		return
	}

	if err := auth.CheckPassword(req.Password, user.PasswordHash); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Create(user.ID, user.Role)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "login")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}
