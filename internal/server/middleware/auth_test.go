package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rtbsystem/auctiond/internal/auth"
	"github.com/rtbsystem/auctiond/internal/domain"
)

func newMaker(t *testing.T) *auth.TokenMaker {
	t.Helper()
	maker, err := auth.NewTokenMaker("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	return maker
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(newMaker(t))(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auctions", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(newMaker(t))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/auctions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthStoresClaims(t *testing.T) {
	maker := newMaker(t)
	userID := uuid.New()
	token, err := maker.Create(userID, domain.RoleDealer)
	require.NoError(t, err)

	var got auth.Claims
	handler := Auth(maker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		got = claims
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auctions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, userID, got.UserID)
	require.Equal(t, domain.RoleDealer, got.Role)
}

func TestRequireRole(t *testing.T) {
	maker := newMaker(t)
	adminOnly := Auth(maker)(RequireRole(domain.RoleAdmin)(okHandler()))

	dealerToken, err := maker.Create(uuid.New(), domain.RoleDealer)
	require.NoError(t, err)
	adminToken, err := maker.Create(uuid.New(), domain.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auctions", nil)
	req.Header.Set("Authorization", "Bearer "+dealerToken)
	rec := httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/auctions", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
