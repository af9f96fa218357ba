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

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates an AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, item_name, start_price, current_price, status, created_by, created_at`

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	var startPrice, currentPrice int64
	var status string

	err := scanner.Scan(
		&a.ID, &a.ItemName, &startPrice, &currentPrice,
		&status, &a.CreatedBy, &a.CreatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	a.StartPrice = domain.Cents(startPrice)
	a.CurrentPrice = domain.Cents(currentPrice)
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO auctions (id, item_name, start_price, current_price, status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+auctionSelectCols,
		a.ID, a.ItemName, int64(a.StartPrice), int64(a.CurrentPrice), string(a.Status), a.CreatedBy,
	)

	created, err := scanAuction(row)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: create auction: %w", mapPgError(err))
	}
	return created, nil
}

// GetByID retrieves a single auction.
func (s *AuctionStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// List returns all auctions, newest first, each joined with its highest bid.
func (s *AuctionStore) List(ctx context.Context) ([]domain.AuctionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.item_name, a.start_price, a.current_price, a.status,
		       a.created_by, a.created_at,
		       hb.amount, hb.dealer_id, hb.name
		FROM auctions a
		LEFT JOIN LATERAL (
			SELECT b.amount, b.dealer_id, u.name
			FROM bids b
			JOIN users u ON u.id = b.dealer_id
			WHERE b.auction_id = a.id
			ORDER BY b.amount DESC
			LIMIT 1
		) hb ON TRUE
		ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var summaries []domain.AuctionSummary
	for rows.Next() {
		var s domain.AuctionSummary
		var startPrice, currentPrice int64
		var status string
		var bidAmount *int64
		var dealerID *uuid.UUID
		var dealerName *string

		err := rows.Scan(
			&s.ID, &s.ItemName, &startPrice, &currentPrice, &status,
			&s.CreatedBy, &s.CreatedAt,
			&bidAmount, &dealerID, &dealerName,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction summary: %w", err)
		}

		s.StartPrice = domain.Cents(startPrice)
		s.CurrentPrice = domain.Cents(currentPrice)
		s.Status = domain.AuctionStatus(status)
		if bidAmount != nil && dealerID != nil && dealerName != nil {
			s.HighestBid = &domain.HighestBid{
				Amount:     domain.Cents(*bidAmount),
				DealerID:   *dealerID,
				DealerName: *dealerName,
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Transition atomically moves an auction between statuses. The UPDATE is
// guarded by the expected prior status; when it matches zero rows a follow-up
// read distinguishes a missing auction from one in the wrong status, so
// concurrent double-starts or double-closes leave exactly one winner.
func (s *AuctionStore) Transition(ctx context.Context, id uuid.UUID, from, to domain.AuctionStatus) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE auctions SET status = $3
		 WHERE id = $1 AND status = $2
		 RETURNING `+auctionSelectCols,
		id, string(from), string(to),
	)

	updated, err := scanAuction(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, fmt.Errorf("postgres: transition auction %s: %w", id, mapPgError(err))
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return domain.Auction{}, err
	}
	return domain.Auction{}, fmt.Errorf("%w: auction %s is not %s", domain.ErrInvalidTransition, id, from)
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)
