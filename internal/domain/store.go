package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuctionStore persists auctions and their lifecycle.
type AuctionStore interface {
	Create(ctx context.Context, auction Auction) (Auction, error)
	GetByID(ctx context.Context, id uuid.UUID) (Auction, error)
	// List returns all auctions, newest first, each decorated with its
	// current highest bid (nil when no bids exist).
	List(ctx context.Context) ([]AuctionSummary, error)
	// Transition atomically moves an auction from one status to another.
	// The update is guarded by the expected prior status so concurrent
	// callers race to exactly one winner; the loser observes
	// ErrInvalidTransition. A missing auction yields ErrNotFound.
	Transition(ctx context.Context, id uuid.UUID, from, to AuctionStatus) (Auction, error)
}

// BidStore reads committed bids.
type BidStore interface {
	// ListByAuction returns up to limit bids for the auction, highest
	// amount first, each joined with the dealer's display name.
	ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]BidDetail, error)
}

// UserStore persists user accounts. Create fails with ErrAlreadyExists when
// the email is taken.
type UserStore interface {
	Create(ctx context.Context, user User) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
}

// Ledger runs atomic units of work against the durable auction/bid tables.
// The closure's effects commit together when it returns nil and roll back
// together on any error; partial writes never escape the transaction.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx exposes the transactional primitives the bid serializer needs.
// All calls see and mutate uncommitted transaction state.
type LedgerTx interface {
	// LockAuction acquires an exclusive row lock on the auction, blocking
	// concurrent bids and lifecycle changes for the same auction until the
	// transaction ends. Waiting is bounded; exceeding the bound fails the
	// transaction with ErrLockTimeout.
	LockAuction(ctx context.Context, id uuid.UUID) (Auction, error)
	InsertBid(ctx context.Context, auctionID, dealerID uuid.UUID, amount Cents) (Bid, error)
	SetCurrentPrice(ctx context.Context, id uuid.UUID, amount Cents) error
}

// EventBus is the pub/sub fabric distributing state-change events across
// server instances. Delivery is at-least-once; publish order is preserved
// per publisher.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads for the given bus
	// channel. The returned channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PriceCache keeps the latest NEW_BID envelope per auction so clients can
// fetch the current price without replaying events or hitting the ledger.
type PriceCache interface {
	SetLatest(ctx context.Context, auctionID uuid.UUID, payload []byte) error
	// GetLatest returns ErrNotFound when no bid has been cached yet.
	GetLatest(ctx context.Context, auctionID uuid.UUID) ([]byte, error)
}

// RateLimiter provides distributed rate limiting. Allow counts the request
// and reports whether it fits inside the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
