package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
)

// BidService defines the methods that the bid handler requires from the
// service layer.
type BidService interface {
	PlaceBid(ctx context.Context, env crypto.BidEnvelope, signature string) (domain.BidReceipt, error)
	Bids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error)
	ClaimSurplus(ctx context.Context, auctionID string, identity common.Address) (*big.Int, error)
}

// BidHandler serves the bidder-facing HTTP endpoints.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler with the given service and logger.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		logger: logger,
	}
}

// placeBidRequest is the signed bid submission body. placed_at defaults to
// the server clock when omitted; the signature, when present, covers the
// envelope exactly as submitted.
type placeBidRequest struct {
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
	PlacedAt  int64  `json:"placed_at,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// PlaceBid submits a bid on an auction.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if auctionID == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bidder, ok := parseAddress(req.Bidder)
	if !ok {
		writeError(w, http.StatusBadRequest, "bidder must be a hex address")
		return
	}
	if _, ok := parseAmount(req.Amount); !ok {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative decimal string")
		return
	}
	placedAt := req.PlacedAt
	if placedAt == 0 {
		placedAt = time.Now().UTC().Unix()
	}

	env := crypto.BidEnvelope{
		AuctionID: auctionID,
		Bidder:    bidder.Hex(),
		Amount:    req.Amount,
		PlacedAt:  placedAt,
	}

	receipt, err := h.bids.PlaceBid(r.Context(), env, req.Signature)
	if err != nil {
		var tooLow *domain.BidTooLowError
		if errors.As(err, &tooLow) {
			// Report the smallest acceptable amount so clients can rebid
			// without probing.
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
				"min":   tooLow.Min.String(),
			})
			return
		}
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: place bid failed",
			slog.String("auction_id", auctionID),
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place bid")
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// listBidsResponse wraps the bid ledger of one auction.
type listBidsResponse struct {
	Bids []domain.BidEntry `json:"bids"`
}

// ListBids returns the append-only bid ledger in sequence order.
// GET /api/auctions/{id}/bids
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if auctionID == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	opts := parseListOpts(r)

	bids, err := h.bids.Bids(r.Context(), auctionID, opts)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list bids failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bids")
		return
	}

	if bids == nil {
		bids = []domain.BidEntry{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// claimRequest names the identity reclaiming its non-leading deposit.
type claimRequest struct {
	Identity string `json:"identity"`
}

// ClaimSurplus returns the portion of a deposit not backing the identity's
// current offer. Claiming nothing is not an error; amount is then "0".
// POST /api/auctions/{id}/claim
func (h *BidHandler) ClaimSurplus(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if auctionID == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	identity, ok := parseAddress(req.Identity)
	if !ok {
		writeError(w, http.StatusBadRequest, "identity must be a hex address")
		return
	}

	amount, err := h.bids.ClaimSurplus(r.Context(), auctionID, identity)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: claim surplus failed",
			slog.String("auction_id", auctionID),
			slog.String("identity", identity.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to claim surplus")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"auction_id": auctionID,
		"identity":   identity.Hex(),
		"amount":     amount.String(),
	})
}
