package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/rtbsystem/auctiond/internal/auction"
	"github.com/rtbsystem/auctiond/internal/domain"
	"github.com/rtbsystem/auctiond/internal/server/middleware"
)

// AuctionService defines the methods the auction handler requires from the
// service layer.
type AuctionService interface {
	CreateAuction(ctx context.Context, arg auction.CreateAuctionParams) (domain.Auction, error)
	StartAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error)
	CloseAuction(ctx context.Context, id uuid.UUID) (domain.Auction, error)
	PlaceBid(ctx context.Context, auctionID, dealerID uuid.UUID, amount domain.Cents) (domain.Bid, error)
	ListAuctions(ctx context.Context) ([]domain.AuctionSummary, error)
	GetAuction(ctx context.Context, id uuid.UUID) (domain.AuctionDetail, error)
	LatestPrice(ctx context.Context, auctionID uuid.UUID) ([]byte, error)
}

// AuctionHandler serves auction and bid HTTP endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and
// logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logger,
	}
}

// createAuctionRequest is the JSON body for creating an auction.
type createAuctionRequest struct {
	ItemName   string       `json:"item_name"`
	StartPrice domain.Cents `json:"start_price"`
}

// placeBidRequest is the JSON body for placing a bid. Amount accepts a JSON
// number or quoted decimal; more than two fractional digits is rejected.
type placeBidRequest struct {
	Amount domain.Cents `json:"amount"`
}

// listAuctionsResponse wraps the auction listing.
type listAuctionsResponse struct {
	Auctions []domain.AuctionSummary `json:"auctions"`
}

// ListAuctions returns all auctions, newest first, with highest-bid
// summaries.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.auctions.ListAuctions(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list auctions")
		return
	}
	if auctions == nil {
		auctions = []domain.AuctionSummary{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: auctions})
}

// GetAuction returns one auction with its most recent bids.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.auctions.GetAuction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get auction")
		return
	}
	if detail.Bids == nil {
		detail.Bids = []domain.BidDetail{}
	}
	writeJSON(w, http.StatusOK, detail)
}

// LatestPrice returns the most recent accepted bid envelope for the auction.
// When no bid has been accepted yet, it falls back to the auction's current
// price from the ledger.
// GET /api/auctions/{id}/price
func (h *AuctionHandler) LatestPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := h.auctions.LatestPrice(r.Context(), id)
	if err == nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		writeDomainError(w, r, h.logger, err, "latest price")
		return
	}

	// No cached bid yet; the ledger is the fallback.
	detail, err := h.auctions.GetAuction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "latest price")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctionId":     detail.ID,
		"current_price": detail.CurrentPrice,
	})
}

// CreateAuction registers a new auction in INACTIVE status.
// POST /api/auctions (admin)
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := h.auctions.CreateAuction(r.Context(), auction.CreateAuctionParams{
		ItemName:   req.ItemName,
		StartPrice: req.StartPrice,
		CreatedBy:  claims.UserID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err, "create auction")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// StartAuction activates an INACTIVE auction.
// POST /api/auctions/{id}/start (admin)
func (h *AuctionHandler) StartAuction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.auctions.StartAuction, "start auction")
}

// CloseAuction closes an ACTIVE auction.
// POST /api/auctions/{id}/close (admin)
func (h *AuctionHandler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.auctions.CloseAuction, "close auction")
}

func (h *AuctionHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (domain.Auction, error), action string) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := fn(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, action)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// PlaceBid submits a bid for the authenticated dealer.
// POST /api/auctions/{id}/bid (dealer)
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bid, err := h.auctions.PlaceBid(r.Context(), id, claims.UserID, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "place bid")
		return
	}

	writeJSON(w, http.StatusCreated, bid)
}
