package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus tracks the auction lifecycle. Transitions are
// administrator-triggered and strictly one-way:
// INACTIVE -> ACTIVE -> CLOSED.
type AuctionStatus string

const (
	AuctionStatusInactive AuctionStatus = "INACTIVE"
	AuctionStatusActive   AuctionStatus = "ACTIVE"
	AuctionStatusClosed   AuctionStatus = "CLOSED"
)

// Auction is a sellable item with a lifecycle and a monotonic current price.
// CurrentPrice never decreases while the auction is ACTIVE and only changes
// through an accepted bid.
type Auction struct {
	ID           uuid.UUID     `json:"id"`
	ItemName     string        `json:"item_name"`
	StartPrice   Cents         `json:"start_price"`
	CurrentPrice Cents         `json:"current_price"`
	Status       AuctionStatus `json:"status"`
	CreatedBy    uuid.UUID     `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HighestBid is the winning bid summary attached to auction listings.
type HighestBid struct {
	Amount     Cents     `json:"amount"`
	DealerID   uuid.UUID `json:"dealer_id"`
	DealerName string    `json:"dealer_name"`
}

// AuctionSummary is an auction decorated with its current highest bid, as
// returned by the listing endpoint. HighestBid is nil when no bids exist.
type AuctionSummary struct {
	Auction
	HighestBid *HighestBid `json:"highest_bid"`
}

// AuctionDetail is an auction together with its most recent bids
// (highest amount first).
type AuctionDetail struct {
	Auction
	Bids []BidDetail `json:"bids"`
}
