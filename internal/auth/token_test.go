package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rtbsystem/auctiond/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	maker, err := NewTokenMaker(testSecret, time.Hour)
	require.NoError(t, err)

	userID := uuid.New()
	token, err := maker.Create(userID, domain.RoleDealer)
	require.NoError(t, err)

	claims, err := maker.Verify(token)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, domain.RoleDealer, claims.Role)
}

func TestTokenRejectsShortSecret(t *testing.T) {
	_, err := NewTokenMaker("too-short", time.Hour)
	require.Error(t, err)
}

func TestTokenWrongSecret(t *testing.T) {
	maker, err := NewTokenMaker(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := NewTokenMaker(strings.Repeat("x", 32), time.Hour)
	require.NoError(t, err)

	token, err := maker.Create(uuid.New(), domain.RoleAdmin)
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTokenExpired(t *testing.T) {
	maker, err := NewTokenMaker(testSecret, time.Millisecond)
	require.NoError(t, err)

	token, err := maker.Create(uuid.New(), domain.RoleDealer)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = maker.Verify(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTokenGarbage(t *testing.T) {
	maker, err := NewTokenMaker(testSecret, time.Hour)
	require.NoError(t, err)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := maker.Verify(token)
		require.ErrorIs(t, err, domain.ErrUnauthenticated)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("password")
	require.NoError(t, err)
	require.NotEqual(t, "password", hash)

	require.NoError(t, CheckPassword("password", hash))
	require.ErrorIs(t, CheckPassword("wrong", hash), domain.ErrUnauthenticated)
}
