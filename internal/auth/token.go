// Package auth provides password hashing and JWT issuance/verification for
// the HTTP API and the WebSocket handshake.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// minSecretLen is the minimum accepted HMAC secret length.
const minSecretLen = 32

// Claims carries the authenticated identity inside a token.
type Claims struct {
	UserID uuid.UUID   `json:"userId"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenMaker issues and verifies HS256 JWTs.
type TokenMaker struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenMaker creates a TokenMaker. The secret must be at least 32 bytes.
func NewTokenMaker(secret string, ttl time.Duration) (*TokenMaker, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: secret must be at least %d bytes", minSecretLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenMaker{secret: []byte(secret), ttl: ttl}, nil
}

// Create issues a signed token for the given user.
func (m *TokenMaker) Create(userID uuid.UUID, role domain.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token, returning its claims. Any parse,
// signature, or expiry failure yields domain.ErrUnauthenticated.
func (m *TokenMaker) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, domain.ErrUnauthenticated
	}
	return claims, nil
}
