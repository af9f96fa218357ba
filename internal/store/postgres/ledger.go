package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// PostgreSQL error codes mapped to domain conditions.
const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
	pgCodeCheckViolation      = "23514"
	pgCodeLockNotAvailable    = "55P03"
	pgCodeDeadlockDetected    = "40P01"
)

// Ledger implements domain.Ledger on a pgx connection pool. Each InTx call
// runs inside a single database transaction with a bounded lock wait, so the
// auction row lock taken by LockAuction serializes all concurrent bids and
// lifecycle changes for that auction until commit or rollback.
type Ledger struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewLedger creates a Ledger backed by the given pool. lockWait bounds how
// long a transaction waits for a row lock before failing with
// domain.ErrLockTimeout; zero disables the bound.
func NewLedger(pool *pgxpool.Pool, lockWait time.Duration) *Ledger {
	return &Ledger{pool: pool, lockWait: lockWait}
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back on any error, releasing the lock either way with no
// partial effect.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if l.lockWait > 0 {
		// lock_timeout only accepts a literal, not a bind parameter.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockWait.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: set lock_timeout: %w", mapPgError(err))
		}
	}

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapPgError(err))
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

// LockAuction reads the auction row under FOR UPDATE, blocking concurrent
// transactions on the same auction until this one finishes.
func (t *ledgerTx) LockAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)

	auction, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: lock auction %s: %w", id, mapPgError(err))
	}
	return auction, nil
}

// InsertBid writes a new bid row inside the transaction.
func (t *ledgerTx) InsertBid(ctx context.Context, auctionID, dealerID uuid.UUID, amount domain.Cents) (domain.Bid, error) {
	bid := domain.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		DealerID:  dealerID,
		Amount:    amount,
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO bids (id, auction_id, dealer_id, amount)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		bid.ID, auctionID, dealerID, int64(amount),
	).Scan(&bid.CreatedAt)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: insert bid: %w", mapPgError(err))
	}
	return bid, nil
}

// SetCurrentPrice updates the auction's current price inside the transaction.
func (t *ledgerTx) SetCurrentPrice(ctx context.Context, id uuid.UUID, amount domain.Cents) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE auctions SET current_price = $1 WHERE id = $2`, int64(amount), id)
	if err != nil {
		return fmt.Errorf("postgres: set current price: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// mapPgError translates driver-level failures into domain conditions so
// callers never see pg error codes. Errors that already carry a domain
// sentinel pass through unchanged.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgCodeLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
	case pgCodeDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrDeadlock, pgErr.Message)
	case pgCodeUniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.Message)
	case pgCodeForeignKeyViolation, pgCodeCheckViolation:
		return fmt.Errorf("%w: %s", domain.ErrConstraint, pgErr.Message)
	default:
		return err
	}
}

// Compile-time interface checks.
var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
