package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its bcrypt hash,
// returning domain.ErrUnauthenticated on mismatch.
func CheckPassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return domain.ErrUnauthenticated
	}
	return nil
}
