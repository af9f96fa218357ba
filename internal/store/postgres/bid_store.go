package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// ListByAuction returns up to limit bids for an auction, highest amount
// first, joined with each dealer's display name.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.BidDetail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT b.id, b.auction_id, b.dealer_id, b.amount, b.created_at, u.name
		 FROM bids b
		 JOIN users u ON u.id = b.dealer_id
		 WHERE b.auction_id = $1
		 ORDER BY b.amount DESC
		 LIMIT $2`,
		auctionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.BidDetail
	for rows.Next() {
		var b domain.BidDetail
		var amount int64
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.DealerID, &amount, &b.CreatedAt, &b.DealerName); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		b.Amount = domain.Cents(amount)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)
