package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bid is an immutable, timestamped price proposal tied to one auction and one
// dealer. For any auction, bids ordered by commit time have strictly
// increasing amounts; the bid history is the auction's price history.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	DealerID  uuid.UUID `json:"dealer_id"`
	Amount    Cents     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// BidDetail is a bid enriched with the dealer's display name for broadcast
// and read endpoints.
type BidDetail struct {
	Bid
	DealerName string `json:"dealer_name"`
}
