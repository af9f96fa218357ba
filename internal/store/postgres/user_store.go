package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, name, email, password_hash, role, created_at`

func scanUser(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	var role string
	err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	return u, nil
}

// Create inserts a new user. A duplicate email fails with
// domain.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, u domain.User) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userSelectCols,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role),
	)

	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user: %w", mapPgError(err))
	}
	return created, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE email = $1`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by email: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by id.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
