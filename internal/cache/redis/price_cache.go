package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// PriceCache implements domain.PriceCache. The latest NEW_BID envelope for
// each auction is stored at "auction:{id}:price" so clients can fetch the
// current price without hitting the ledger.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String() + ":price"
}

// SetLatest stores the latest bid envelope for an auction.
func (pc *PriceCache) SetLatest(ctx context.Context, auctionID uuid.UUID, payload []byte) error {
	if err := pc.rdb.Set(ctx, priceKey(auctionID), payload, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set latest price %s: %w", auctionID, err)
	}
	return nil
}

// GetLatest returns the latest bid envelope for an auction, or
// domain.ErrNotFound when no bid has been cached.
func (pc *PriceCache) GetLatest(ctx context.Context, auctionID uuid.UUID) ([]byte, error) {
	payload, err := pc.rdb.Get(ctx, priceKey(auctionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get latest price %s: %w", auctionID, err)
	}
	return payload, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
