package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Bus channels shared by every server instance. Lifecycle transitions and
// bid events travel on separate channels so consumers can subscribe to one
// without the other.
const (
	ChannelAuctionEvents  = "auction_events"  // NEW_BID
	ChannelAuctionUpdates = "auction_updates" // AUCTION_STARTED / AUCTION_CLOSED
)

// EventType identifies the state transition an event describes.
type EventType string

const (
	EventAuctionStarted EventType = "AUCTION_STARTED"
	EventAuctionClosed  EventType = "AUCTION_CLOSED"
	EventNewBid         EventType = "NEW_BID"
)

// Event is the ephemeral envelope broadcast after a transaction commits. It
// is never published before its transaction commits; the ledger remains the
// source of truth and clients reconcile duplicates by re-fetching state.
//
// Lifecycle events carry the full auction snapshot; bid events carry the
// enriched bid and the new current price.
type Event struct {
	Type         EventType  `json:"type"`
	AuctionID    uuid.UUID  `json:"auctionId"`
	Auction      *Auction   `json:"auction,omitempty"`
	Bid          *BidDetail `json:"bid,omitempty"`
	CurrentPrice *Cents     `json:"current_price,omitempty"`
}

// NewLifecycleEvent builds an AUCTION_STARTED or AUCTION_CLOSED event from a
// committed auction snapshot.
func NewLifecycleEvent(t EventType, a Auction) Event {
	return Event{
		Type:      t,
		AuctionID: a.ID,
		Auction:   &a,
	}
}

// NewBidEvent builds a NEW_BID event from a committed, enriched bid.
func NewBidEvent(b BidDetail) Event {
	price := b.Amount
	return Event{
		Type:         EventNewBid,
		AuctionID:    b.AuctionID,
		Bid:          &b,
		CurrentPrice: &price,
	}
}

// Encode serializes the event for the bus.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEvent parses a bus payload back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	return e, nil
}
