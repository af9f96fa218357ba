package auction

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rtbsystem/auctiond/internal/domain"
)

// memLedger is an in-memory implementation of the ledger and read stores.
// InTx serializes transactions under a mutex and stages writes so they commit
// together or not at all, mirroring the row-lock discipline of the real
// ledger.
type memLedger struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]domain.Auction
	bids     []domain.Bid // in commit order
	users    map[uuid.UUID]domain.User

	txCalls      int
	failSetPrice error
	failInsert   error
}

func newMemLedger() *memLedger {
	return &memLedger{
		auctions: make(map[uuid.UUID]domain.Auction),
		users:    make(map[uuid.UUID]domain.User),
	}
}

type memTx struct {
	m *memLedger

	stagedBid   *domain.Bid
	stagedPrice map[uuid.UUID]domain.Cents
}

func (m *memLedger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++

	tx := &memTx{m: m, stagedPrice: make(map[uuid.UUID]domain.Cents)}
	if err := fn(tx); err != nil {
		return err // staged writes discarded
	}

	if tx.stagedBid != nil {
		m.bids = append(m.bids, *tx.stagedBid)
	}
	for id, price := range tx.stagedPrice {
		a := m.auctions[id]
		a.CurrentPrice = price
		m.auctions[id] = a
	}
	return nil
}

func (tx *memTx) LockAuction(_ context.Context, id uuid.UUID) (domain.Auction, error) {
	a, ok := tx.m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (tx *memTx) InsertBid(_ context.Context, auctionID, dealerID uuid.UUID, amount domain.Cents) (domain.Bid, error) {
	if tx.m.failInsert != nil {
		return domain.Bid{}, tx.m.failInsert
	}
	bid := domain.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		DealerID:  dealerID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	tx.stagedBid = &bid
	return bid, nil
}

func (tx *memTx) SetCurrentPrice(_ context.Context, id uuid.UUID, amount domain.Cents) error {
	if tx.m.failSetPrice != nil {
		return tx.m.failSetPrice
	}
	tx.stagedPrice[id] = amount
	return nil
}

// --- read stores backed by the same state ---

func (m *memLedger) Create(_ context.Context, a domain.Auction) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now().UTC()
	m.auctions[a.ID] = a
	return a, nil
}

func (m *memLedger) GetByID(_ context.Context, id uuid.UUID) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memLedger) List(_ context.Context) ([]domain.AuctionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := make([]domain.AuctionSummary, 0, len(m.auctions))
	for _, a := range m.auctions {
		summary := domain.AuctionSummary{Auction: a}
		for _, b := range m.bids {
			if b.AuctionID != a.ID {
				continue
			}
			if summary.HighestBid == nil || b.Amount > summary.HighestBid.Amount {
				summary.HighestBid = &domain.HighestBid{
					Amount:     b.Amount,
					DealerID:   b.DealerID,
					DealerName: m.users[b.DealerID].Name,
				}
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (m *memLedger) Transition(_ context.Context, id uuid.UUID, from, to domain.AuctionStatus) (domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	if a.Status != from {
		return domain.Auction{}, domain.ErrInvalidTransition
	}
	a.Status = to
	m.auctions[id] = a
	return a, nil
}

func (m *memLedger) ListByAuction(_ context.Context, auctionID uuid.UUID, limit int) ([]domain.BidDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var details []domain.BidDetail
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			details = append(details, domain.BidDetail{Bid: b, DealerName: m.users[b.DealerID].Name})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Amount > details[j].Amount })
	if limit > 0 && len(details) > limit {
		details = details[:limit]
	}
	return details, nil
}

func (m *memLedger) CreateUser(u domain.User) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return u
}

func (m *memLedger) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memLedger) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// userStore adapts memLedger to domain.UserStore.
type userStore struct{ m *memLedger }

func (s userStore) Create(_ context.Context, u domain.User) (domain.User, error) {
	return s.m.CreateUser(u), nil
}

func (s userStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.m.GetByEmail(ctx, email)
}

func (s userStore) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return s.m.GetUserByID(ctx, id)
}

// captureBus records published payloads per channel.
type captureBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	failWith  error
}

func newCaptureBus() *captureBus {
	return &captureBus{published: make(map[string][][]byte)}
}

func (b *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *captureBus) events(t *testing.T, channel string) []domain.Event {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	events := make([]domain.Event, 0, len(b.published[channel]))
	for _, payload := range b.published[channel] {
		ev, err := domain.DecodeEvent(payload)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

// capturePriceCache records the latest payload per auction.
type capturePriceCache struct {
	mu     sync.Mutex
	latest map[uuid.UUID][]byte
}

func newCapturePriceCache() *capturePriceCache {
	return &capturePriceCache{latest: make(map[uuid.UUID][]byte)}
}

func (c *capturePriceCache) SetLatest(_ context.Context, auctionID uuid.UUID, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[auctionID] = payload
	return nil
}

func (c *capturePriceCache) GetLatest(_ context.Context, auctionID uuid.UUID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.latest[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payload, nil
}

type fixture struct {
	svc    *Service
	ledger *memLedger
	bus    *captureBus
	prices *capturePriceCache
	dealer domain.User
	admin  domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := newMemLedger()
	bus := newCaptureBus()
	prices := newCapturePriceCache()

	dealer := ledger.CreateUser(domain.User{ID: uuid.New(), Name: "Dealer One", Email: "dealer@example.com", Role: domain.RoleDealer})
	admin := ledger.CreateUser(domain.User{ID: uuid.New(), Name: "Admin User", Email: "admin@example.com", Role: domain.RoleAdmin})

	svc := NewService(Config{
		Auctions: ledger,
		Bids:     ledger,
		Users:    userStore{ledger},
		Ledger:   ledger,
		Bus:      bus,
		Prices:   prices,
		Logger:   slog.New(slog.DiscardHandler),
	})
	return &fixture{svc: svc, ledger: ledger, bus: bus, prices: prices, dealer: dealer, admin: admin}
}

func (f *fixture) activeAuction(t *testing.T, startPrice domain.Cents) domain.Auction {
	t.Helper()
	a, err := f.svc.CreateAuction(context.Background(), CreateAuctionParams{
		ItemName:   "vintage radio",
		StartPrice: startPrice,
		CreatedBy:  f.admin.ID,
	})
	require.NoError(t, err)
	started, err := f.svc.StartAuction(context.Background(), a.ID)
	require.NoError(t, err)
	return started
}

func TestCreateAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "clock", StartPrice: 10000, CreatedBy: f.admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusInactive, a.Status)
	require.Equal(t, domain.Cents(10000), a.StartPrice)
	require.Equal(t, domain.Cents(10000), a.CurrentPrice)

	_, err = f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "", StartPrice: 100})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "x", StartPrice: -1})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "clock", StartPrice: 10000, CreatedBy: f.admin.ID})
	require.NoError(t, err)

	// Closing an INACTIVE auction is invalid.
	_, err = f.svc.CloseAuction(ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	started, err := f.svc.StartAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, started.Status)

	// Starting twice fails cleanly with no side effects.
	_, err = f.svc.StartAuction(ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusActive, current.Status)

	closed, err := f.svc.CloseAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionStatusClosed, closed.Status)

	_, err = f.svc.CloseAuction(ctx, a.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Unknown auction.
	_, err = f.svc.StartAuction(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Exactly one lifecycle event per successful transition, in order.
	events := f.bus.events(t, domain.ChannelAuctionUpdates)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventAuctionStarted, events[0].Type)
	require.Equal(t, domain.AuctionStatusActive, events[0].Auction.Status)
	require.Equal(t, domain.EventAuctionClosed, events[1].Type)
	require.Equal(t, domain.AuctionStatusClosed, events[1].Auction.Status)
}

func TestPlaceBid_RejectsNonPositiveAmountBeforeLedger(t *testing.T) {
	f := newFixture(t)
	a := f.activeAuction(t, 10000)

	for _, amount := range []domain.Cents{0, -5000} {
		_, err := f.svc.PlaceBid(context.Background(), a.ID, f.dealer.ID, amount)
		require.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	require.Zero(t, f.ledger.txCalls, "validation failures must not touch the ledger")
}

func TestPlaceBid_UnknownAuction(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceBid(context.Background(), uuid.New(), f.dealer.ID, 10000)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBid_AuctionNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive, err := f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "clock", StartPrice: 10000, CreatedBy: f.admin.ID})
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, inactive.ID, f.dealer.ID, 99999)
	require.ErrorIs(t, err, domain.ErrAuctionNotActive)

	closed := f.activeAuction(t, 10000)
	_, err = f.svc.CloseAuction(ctx, closed.ID)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, closed.ID, f.dealer.ID, 99999)
	require.ErrorIs(t, err, domain.ErrAuctionNotActive)
}

func TestPlaceBid_SequentialTooLow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	bid, err := f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 12000)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(12000), bid.Amount)

	_, err = f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 11000)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	// Equal to current price is also too low.
	_, err = f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 12000)
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(12000), current.CurrentPrice)
	require.Len(t, f.ledger.bids, 1)
}

func TestPlaceBid_ConcurrentNearSimultaneous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	var wg sync.WaitGroup
	results := make([]error, 2)
	amounts := []domain.Cents{15000, 14000}
	for i, amount := range amounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, amount)
		}()
	}
	wg.Wait()

	// Whichever order the lock was granted in, the final price is 150 and
	// the accepted amounts are strictly increasing: either only 150 was
	// accepted (140 rejected as too low), or 140 committed first and both
	// were accepted.
	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(15000), current.CurrentPrice)
	require.NoError(t, results[0], "the 150 bid always succeeds")

	accepted := f.ledger.bids
	for i := 1; i < len(accepted); i++ {
		require.Greater(t, accepted[i].Amount, accepted[i-1].Amount)
	}
	if results[1] != nil {
		require.ErrorIs(t, results[1], domain.ErrBidTooLow)
		require.Len(t, accepted, 1)
	} else {
		require.Len(t, accepted, 2)
	}
}

func TestPlaceBid_ConcurrentStrictlyIncreasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	const bidders = 64
	rng := rand.New(rand.NewSource(1))
	amounts := make([]domain.Cents, bidders)
	for i := range amounts {
		amounts[i] = 10001 + domain.Cents(rng.Intn(10000))
	}

	var wg sync.WaitGroup
	errs := make([]error, bidders)
	for i := range amounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, amounts[i])
		}()
	}
	wg.Wait()

	// Accepted bids, in commit order, have strictly increasing amounts.
	accepted := f.ledger.bids
	require.NotEmpty(t, accepted)
	maxAccepted := accepted[0].Amount
	for i := 1; i < len(accepted); i++ {
		require.Greater(t, accepted[i].Amount, accepted[i-1].Amount)
		if accepted[i].Amount > maxAccepted {
			maxAccepted = accepted[i].Amount
		}
	}

	// Final price equals the maximum accepted amount, and every rejection
	// was a BidTooLow (no other failure mode is possible here).
	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, maxAccepted, current.CurrentPrice)
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrBidTooLow)
		}
	}
	require.Len(t, accepted, bidders-countErrors(errs))
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func TestPlaceBid_RollbackOnStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	f.ledger.failSetPrice = errors.New("disk on fire")
	_, err := f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 12000)
	require.Error(t, err)

	// Neither the bid nor the price escaped the failed transaction.
	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(10000), current.CurrentPrice)
	require.Empty(t, f.ledger.bids)
}

func TestPlaceBid_PublishesEnrichedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	bid, err := f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 15000)
	require.NoError(t, err)

	events := f.bus.events(t, domain.ChannelAuctionEvents)
	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, domain.EventNewBid, ev.Type)
	require.Equal(t, a.ID, ev.AuctionID)
	require.NotNil(t, ev.Bid)
	require.Equal(t, bid.ID, ev.Bid.ID)
	require.Equal(t, "Dealer One", ev.Bid.DealerName)
	require.NotNil(t, ev.CurrentPrice)
	require.Equal(t, domain.Cents(15000), *ev.CurrentPrice)

	// The latest-price cache holds the same envelope.
	payload, err := f.svc.LatestPrice(ctx, a.ID)
	require.NoError(t, err)
	cached, err := domain.DecodeEvent(payload)
	require.NoError(t, err)
	require.Equal(t, ev, cached)
}

func TestPlaceBid_BroadcastFailureDoesNotFailBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	f.bus.failWith = errors.New("bus unreachable")
	bid, err := f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 15000)
	require.NoError(t, err, "a missed broadcast must never contradict the ledger")
	require.Equal(t, domain.Cents(15000), bid.Amount)

	current, err := f.ledger.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(15000), current.CurrentPrice)
}

// blockingLedger never grants the lock; InTx waits for the context deadline.
type blockingLedger struct{}

func (blockingLedger) InTx(ctx context.Context, _ func(tx domain.LedgerTx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPlaceBid_LockWaitBounded(t *testing.T) {
	f := newFixture(t)
	svc := NewService(Config{
		Auctions: f.ledger,
		Bids:     f.ledger,
		Users:    userStore{f.ledger},
		Ledger:   blockingLedger{},
		Bus:      f.bus,
		Logger:   slog.New(slog.DiscardHandler),
		LockWait: 20 * time.Millisecond,
	})

	start := time.Now()
	_, err := svc.PlaceBid(context.Background(), uuid.New(), f.dealer.ID, 10000)
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestGetAuctionWithBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)

	for _, amount := range []domain.Cents{11000, 12000, 13000} {
		_, err := f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, amount)
		require.NoError(t, err)
	}

	detail, err := f.svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.Cents(13000), detail.CurrentPrice)
	require.Len(t, detail.Bids, 3)
	require.Equal(t, domain.Cents(13000), detail.Bids[0].Amount, "highest amount first")
	require.Equal(t, "Dealer One", detail.Bids[0].DealerName)

	_, err = f.svc.GetAuction(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAuctionsWithHighestBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activeAuction(t, 10000)
	quiet, err := f.svc.CreateAuction(ctx, CreateAuctionParams{ItemName: "untouched", StartPrice: 500, CreatedBy: f.admin.ID})
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, a.ID, f.dealer.ID, 15000)
	require.NoError(t, err)

	summaries, err := f.svc.ListAuctions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[uuid.UUID]domain.AuctionSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	require.NotNil(t, byID[a.ID].HighestBid)
	require.Equal(t, domain.Cents(15000), byID[a.ID].HighestBid.Amount)
	require.Equal(t, "Dealer One", byID[a.ID].HighestBid.DealerName)
	require.Nil(t, byID[quiet.ID].HighestBid)
}
