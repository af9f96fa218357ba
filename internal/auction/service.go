// Package auction implements the bidding engine: the auction lifecycle state
// machine, the transactional bid serializer, and post-commit event
// publication to the shared bus.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rtbsystem/auctiond/internal/domain"
)

const (
	// defaultLockWait bounds how long a bid waits for the auction row lock
	// before failing with ErrLockTimeout.
	defaultLockWait = 5 * time.Second

	// publishTimeout bounds post-commit broadcast work. Broadcast runs on a
	// context detached from the request so a disconnecting bidder cannot
	// suppress the event other observers are waiting for.
	publishTimeout = 5 * time.Second

	// detailBidLimit caps how many bids the detail endpoint returns.
	detailBidLimit = 50
)

// Service owns auction lifecycle transitions and bid acceptance. All durable
// writes go through the ledger; events are derived from committed state only.
type Service struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	users    domain.UserStore
	ledger   domain.Ledger
	bus      domain.EventBus
	prices   domain.PriceCache
	logger   *slog.Logger
	lockWait time.Duration
}

// Config bundles the dependencies and tuning knobs for a Service.
type Config struct {
	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Users    domain.UserStore
	Ledger   domain.Ledger
	Bus      domain.EventBus
	Prices   domain.PriceCache
	Logger   *slog.Logger
	LockWait time.Duration
}

// NewService creates a Service from the given dependencies.
func NewService(cfg Config) *Service {
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		auctions: cfg.Auctions,
		bids:     cfg.Bids,
		users:    cfg.Users,
		ledger:   cfg.Ledger,
		bus:      cfg.Bus,
		prices:   cfg.Prices,
		logger:   logger.With(slog.String("component", "auction")),
		lockWait: lockWait,
	}
}

// CreateAuctionParams holds the input for CreateAuction.
type CreateAuctionParams struct {
	ItemName   string
	StartPrice domain.Cents
	CreatedBy  uuid.UUID
}

// CreateAuction registers a new auction in INACTIVE status with
// current_price = start_price.
func (s *Service) CreateAuction(ctx context.Context, arg CreateAuctionParams) (domain.Auction, error) {
	if arg.ItemName == "" {
		return domain.Auction{}, fmt.Errorf("%w: item name is required", domain.ErrInvalidInput)
	}
	if arg.StartPrice < 0 {
		return domain.Auction{}, fmt.Errorf("%w: start price cannot be negative", domain.ErrInvalidInput)
	}

	auction := domain.Auction{
		ID:           uuid.New(),
		ItemName:     arg.ItemName,
		StartPrice:   arg.StartPrice,
		CurrentPrice: arg.StartPrice,
		Status:       domain.AuctionStatusInactive,
		CreatedBy:    arg.CreatedBy,
	}

	created, err := s.auctions.Create(ctx, auction)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction: create: %w", err)
	}
	return created, nil
}

// StartAuction moves an INACTIVE auction to ACTIVE and broadcasts the new
// snapshot. Starting an auction in any other status fails with
// ErrInvalidTransition; concurrent double-starts leave exactly one winner.
func (s *Service) StartAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	return s.transition(ctx, id, domain.AuctionStatusInactive, domain.AuctionStatusActive, domain.EventAuctionStarted)
}

// CloseAuction moves an ACTIVE auction to CLOSED and broadcasts the new
// snapshot. CLOSED is terminal.
func (s *Service) CloseAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	return s.transition(ctx, id, domain.AuctionStatusActive, domain.AuctionStatusClosed, domain.EventAuctionClosed)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to domain.AuctionStatus, eventType domain.EventType) (domain.Auction, error) {
	updated, err := s.auctions.Transition(ctx, id, from, to)
	if err != nil {
		return domain.Auction{}, err
	}

	s.publish(domain.ChannelAuctionUpdates, domain.NewLifecycleEvent(eventType, updated))
	return updated, nil
}

// PlaceBid accepts a bid against an active auction. The whole
// read-validate-write sequence runs under an exclusive row lock on the
// auction, so bids for one auction are strictly serialized while bids for
// different auctions proceed in parallel. On success the bid and the new
// current price are committed together; enrichment and broadcast happen
// afterwards, outside the lock, and never affect the bid's outcome.
func (s *Service) PlaceBid(ctx context.Context, auctionID, dealerID uuid.UUID, amount domain.Cents) (domain.Bid, error) {
	if amount <= 0 {
		return domain.Bid{}, domain.ErrInvalidAmount
	}

	txCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	var bid domain.Bid
	err := s.ledger.InTx(txCtx, func(tx domain.LedgerTx) error {
		auction, err := tx.LockAuction(txCtx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != domain.AuctionStatusActive {
			return domain.ErrAuctionNotActive
		}
		if amount <= auction.CurrentPrice {
			return fmt.Errorf("%w: current price is %s", domain.ErrBidTooLow, auction.CurrentPrice)
		}

		bid, err = tx.InsertBid(txCtx, auctionID, dealerID, amount)
		if err != nil {
			return err
		}
		return tx.SetCurrentPrice(txCtx, auctionID, amount)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.Bid{}, domain.ErrLockTimeout
		}
		return domain.Bid{}, err
	}

	s.broadcastBid(ctx, bid)
	return bid, nil
}

// broadcastBid enriches a committed bid with the dealer's display name,
// caches the payload as the auction's latest price, and publishes a NEW_BID
// event. Failures here are logged and swallowed: the bid already committed
// and the ledger stays authoritative for any client that re-fetches state.
func (s *Service) broadcastBid(ctx context.Context, bid domain.Bid) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	detail := domain.BidDetail{Bid: bid}
	dealer, err := s.users.GetByID(ctx, bid.DealerID)
	if err != nil {
		s.logger.Warn("failed to resolve dealer name for broadcast",
			slog.String("bid_id", bid.ID.String()),
			slog.String("error", err.Error()),
		)
		detail.DealerName = "unknown"
	} else {
		detail.DealerName = dealer.Name
	}

	event := domain.NewBidEvent(detail)
	payload, err := event.Encode()
	if err != nil {
		s.logger.Error("failed to encode bid event",
			slog.String("bid_id", bid.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.prices != nil {
		if err := s.prices.SetLatest(ctx, bid.AuctionID, payload); err != nil {
			s.logger.Warn("failed to cache latest price",
				slog.String("auction_id", bid.AuctionID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.bus.Publish(ctx, domain.ChannelAuctionEvents, payload); err != nil {
		s.logger.Error("failed to publish bid event",
			slog.String("auction_id", bid.AuctionID.String()),
			slog.String("bid_id", bid.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// publish encodes and publishes an event, logging instead of failing on
// error. Observers that miss an event recover on their next full re-fetch.
func (s *Service) publish(channel string, event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	payload, err := event.Encode()
	if err != nil {
		s.logger.Error("failed to encode event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.Error("failed to publish event",
			slog.String("type", string(event.Type)),
			slog.String("auction_id", event.AuctionID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ListAuctions returns all auctions, newest first, with highest-bid
// summaries.
func (s *Service) ListAuctions(ctx context.Context) ([]domain.AuctionSummary, error) {
	summaries, err := s.auctions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("auction: list: %w", err)
	}
	return summaries, nil
}

// GetAuction returns one auction with its most recent bids.
func (s *Service) GetAuction(ctx context.Context, id uuid.UUID) (domain.AuctionDetail, error) {
	auction, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return domain.AuctionDetail{}, err
	}

	bids, err := s.bids.ListByAuction(ctx, id, detailBidLimit)
	if err != nil {
		return domain.AuctionDetail{}, fmt.Errorf("auction: list bids for %s: %w", id, err)
	}

	return domain.AuctionDetail{Auction: auction, Bids: bids}, nil
}

// LatestPrice returns the cached NEW_BID envelope for the auction, or
// ErrNotFound when no bid has been accepted yet.
func (s *Service) LatestPrice(ctx context.Context, auctionID uuid.UUID) ([]byte, error) {
	if s.prices == nil {
		return nil, domain.ErrNotFound
	}
	return s.prices.GetLatest(ctx, auctionID)
}
