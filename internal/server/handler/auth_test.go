package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
)

// memUserStore is an in-memory domain.UserStore keyed by email.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]domain.User)}
}

func (s *memUserStore) Create(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return domain.User{}, domain.ErrAlreadyExists
	}
	user.CreatedAt = time.Now()
	s.users[user.Email] = user
	return user, nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (s *memUserStore) GetByID(_ context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func newAuthHandler(t *testing.T) (*AuthHandler, *memUserStore, *auth.TokenMaker) {
	t.Helper()
	tokens, err := auth.NewTokenMaker("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	users := newMemUserStore()
	return NewAuthHandler(users, tokens, testLogger()), users, tokens
}

func doJSON(h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestRegisterIssuesValidToken(t *testing.T) {
	h, _, tokens := newAuthHandler(t)

	rec := doJSON(h.Register, "/api/auth/register",
		`{"name":"Dealer One","email":"dealer@example.com","password":"password1","role":"DEALER"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "dealer@example.com", resp.User.Email)
	require.Equal(t, domain.RoleDealer, resp.User.Role)

	claims, err := tokens.Verify(resp.Token)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, claims.UserID)
	require.Equal(t, domain.RoleDealer, claims.Role)

	// The password hash never leaves the server.
	require.NotContains(t, rec.Body.String(), "password")
}

func TestRegisterValidation(t *testing.T) {
	h, _, _ := newAuthHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing name", body: `{"email":"a@b.com","password":"password1"}`},
		{name: "bad email", body: `{"name":"A","email":"nope","password":"password1"}`},
		{name: "short password", body: `{"name":"A","email":"a@b.com","password":"short"}`},
		{name: "unknown role", body: `{"name":"A","email":"a@b.com","password":"password1","role":"ROOT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(h.Register, "/api/auth/register", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h, _, _ := newAuthHandler(t)
	body := `{"name":"A","email":"a@b.com","password":"password1"}`

	require.Equal(t, http.StatusCreated, doJSON(h.Register, "/api/auth/register", body).Code)
	require.Equal(t, http.StatusConflict, doJSON(h.Register, "/api/auth/register", body).Code)
}

func TestRegisterDefaultsToDealerRole(t *testing.T) {
	h, _, _ := newAuthHandler(t)

	rec := doJSON(h.Register, "/api/auth/register",
		`{"name":"A","email":"a@b.com","password":"password1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, domain.RoleDealer, resp.User.Role)
}

func TestLogin(t *testing.T) {
	h, users, _ := newAuthHandler(t)

	hash, err := auth.HashPassword("password1")
	require.NoError(t, err)
	_, err = users.Create(context.Background(), domain.User{
		ID:           uuid.New(),
		Name:         "Admin",
		Email:        "admin@example.com",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
	})
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		rec := doJSON(h.Login, "/api/auth/login",
			`{"email":"admin@example.com","password":"password1"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp authResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)
		require.Equal(t, domain.RoleAdmin, resp.User.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := doJSON(h.Login, "/api/auth/login",
			`{"email":"admin@example.com","password":"wrong"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		rec := doJSON(h.Login, "/api/auth/login",
			`{"email":"ghost@example.com","password":"password1"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
