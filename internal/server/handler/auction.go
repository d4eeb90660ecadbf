package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// AuctionService defines the methods that the auction handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type AuctionService interface {
	Create(ctx context.Context, owner common.Address, floor *big.Int, deadline time.Time) (domain.Auction, error)
	Get(ctx context.Context, id string) (domain.Auction, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error)
	Participants(ctx context.Context, auctionID string) ([]domain.Participant, error)
	Participant(ctx context.Context, auctionID string, identity common.Address) (domain.Participant, error)
	Payouts(ctx context.Context, auctionID string) ([]domain.Payout, error)
	RevealWinner(ctx context.Context, auctionID string) (domain.WinnerReveal, error)
	Settle(ctx context.Context, auctionID string, caller common.Address) ([]domain.Payout, error)
	Suspend(ctx context.Context, auctionID string, caller common.Address) error
	Resume(ctx context.Context, auctionID string, caller common.Address) error
	EmergencyWithdraw(ctx context.Context, auctionID string, caller common.Address) (*big.Int, error)
}

// AuctionHandler serves auction lifecycle HTTP endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logger,
	}
}

// auctionResponse decorates a persisted auction with its derived lifecycle
// status at response time.
type auctionResponse struct {
	domain.Auction
	Status domain.AuctionStatus `json:"status"`
}

func toAuctionResponse(a domain.Auction) auctionResponse {
	return auctionResponse{Auction: a, Status: a.StatusAt(time.Now().UTC())}
}

// listAuctionsResponse wraps the list endpoint output with metadata.
type listAuctionsResponse struct {
	Auctions []auctionResponse `json:"auctions"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// createAuctionRequest creates an auction. Exactly one of deadline (RFC 3339)
// or duration_ms must be set; duration is measured from the server clock.
type createAuctionRequest struct {
	Owner         string `json:"owner"`
	StartingFloor string `json:"starting_floor"`
	Deadline      string `json:"deadline,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
}

// callerRequest carries the address invoking an owner-gated operation.
type callerRequest struct {
	Caller string `json:"caller"`
}

func decodeCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return common.Address{}, false
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return common.Address{}, false
	}
	return caller, true
}

// ListAuctions returns auctions ordered newest first.
// GET /api/auctions?limit=50&offset=0&since=...&until=...
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	auctions, err := h.auctions.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}

	items := make([]auctionResponse, 0, len(auctions))
	for _, a := range auctions {
		items = append(items, toAuctionResponse(a))
	}

	writeJSON(w, http.StatusOK, listAuctionsResponse{
		Auctions: items,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// GetAuction returns a single auction by its ID.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	a, err := h.auctions.Get(r.Context(), id)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get auction failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get auction")
		return
	}

	writeJSON(w, http.StatusOK, toAuctionResponse(a))
}

// CreateAuction opens a new auction owned by the given address.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	owner, ok := parseAddress(req.Owner)
	if !ok {
		writeError(w, http.StatusBadRequest, "owner must be a hex address")
		return
	}
	floor, ok := parseAmount(req.StartingFloor)
	if !ok {
		writeError(w, http.StatusBadRequest, "starting_floor must be a non-negative decimal string")
		return
	}

	now := time.Now().UTC()
	var deadline time.Time
	switch {
	case req.Deadline != "":
		t, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "deadline must be RFC 3339")
			return
		}
		deadline = t
	case req.DurationMS > 0:
		deadline = now.Add(time.Duration(req.DurationMS) * time.Millisecond)
	default:
		writeError(w, http.StatusBadRequest, "deadline or duration_ms required")
		return
	}
	if !deadline.After(now) {
		writeError(w, http.StatusBadRequest, "deadline must be in the future")
		return
	}

	a, err := h.auctions.Create(r.Context(), owner, floor, deadline)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create auction failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create auction")
		return
	}

	writeJSON(w, http.StatusCreated, toAuctionResponse(a))
}

// listParticipantsResponse wraps the participant records of one auction.
type listParticipantsResponse struct {
	Participants []domain.Participant `json:"participants"`
}

// ListParticipants returns the accounting records in first-bid order.
// GET /api/auctions/{id}/participants
func (h *AuctionHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	participants, err := h.auctions.Participants(r.Context(), id)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list participants failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}

	if participants == nil {
		participants = []domain.Participant{}
	}
	writeJSON(w, http.StatusOK, listParticipantsResponse{Participants: participants})
}

// GetParticipant returns one identity's accounting record.
// GET /api/auctions/{id}/participants/{address}
func (h *AuctionHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a hex address")
		return
	}

	p, err := h.auctions.Participant(r.Context(), id, addr)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get participant failed",
			slog.String("auction_id", id),
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get participant")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// listPayoutsResponse wraps the settlement disbursements of one auction.
type listPayoutsResponse struct {
	Payouts []domain.Payout `json:"payouts"`
}

// ListPayouts returns the recorded settlement transfers, oldest first.
// GET /api/auctions/{id}/payouts
func (h *AuctionHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	payouts, err := h.auctions.Payouts(r.Context(), id)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list payouts failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}

	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, listPayoutsResponse{Payouts: payouts})
}

// RevealWinner reports the leading bidder once the deadline has passed.
// GET /api/auctions/{id}/winner
func (h *AuctionHandler) RevealWinner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	reveal, err := h.auctions.RevealWinner(r.Context(), id)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: reveal winner failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reveal winner")
		return
	}

	writeJSON(w, http.StatusOK, reveal)
}

// settleResponse reports a settlement run. Settled is false when the run was
// interrupted by a failed transfer; the payouts that completed are listed and
// the run can be retried.
type settleResponse struct {
	Settled bool            `json:"settled"`
	Payouts []domain.Payout `json:"payouts"`
	Error   string          `json:"error,omitempty"`
}

// Settle distributes deposits and closes the auction. Owner only.
// POST /api/auctions/{id}/settle
func (h *AuctionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	payouts, err := h.auctions.Settle(r.Context(), id, caller)
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusBadGateway {
			// A transfer failed mid-run. Completed payouts stand and the
			// auction stays open for another settle call.
			writeJSON(w, status, settleResponse{
				Settled: false,
				Payouts: payouts,
				Error:   err.Error(),
			})
			return
		}
		if status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: settle failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to settle auction")
		return
	}

	writeJSON(w, http.StatusOK, settleResponse{Settled: true, Payouts: payouts})
}

// Suspend sets the pause gate. Owner only.
// POST /api/auctions/{id}/suspend
func (h *AuctionHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// Resume clears the pause gate. Owner only.
// POST /api/auctions/{id}/resume
func (h *AuctionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *AuctionHandler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	var err error
	if suspended {
		err = h.auctions.Suspend(r.Context(), id, caller)
	} else {
		err = h.auctions.Resume(r.Context(), id, caller)
	}
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set suspended failed",
			slog.String("auction_id", id),
			slog.Bool("suspended", suspended),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update auction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"suspended":  suspended,
	})
}

// EmergencyWithdraw evacuates the custody balance of a suspended auction to
// its owner, bypassing settlement accounting. Owner only.
// POST /api/auctions/{id}/emergency-withdraw
func (h *AuctionHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}
	caller, ok := decodeCaller(w, r)
	if !ok {
		return
	}

	amount, err := h.auctions.EmergencyWithdraw(r.Context(), id, caller)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: emergency withdraw failed",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to withdraw")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"amount":     amount.String(),
	})
}
