package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// TreasuryService defines the methods that the treasury handler requires
// from the service layer.
type TreasuryService interface {
	Account(ctx context.Context, addr common.Address) (domain.Account, error)
	Credit(ctx context.Context, addr common.Address, amount *big.Int) (domain.Account, error)
}

// TreasuryHandler serves account balance endpoints.
type TreasuryHandler struct {
	treasury TreasuryService
	logger   *slog.Logger
}

// NewTreasuryHandler creates a TreasuryHandler with the given service and logger.
func NewTreasuryHandler(treasury TreasuryService, logger *slog.Logger) *TreasuryHandler {
	return &TreasuryHandler{
		treasury: treasury,
		logger:   logger,
	}
}

// GetAccount returns the balance row for an address. Unknown addresses read
// as zero rather than 404, matching the ledger semantics.
// GET /api/treasury/accounts/{address}
func (h *TreasuryHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a hex address")
		return
	}

	account, err := h.treasury.Account(r.Context(), addr)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get account failed",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// creditRequest funds an account with new value.
type creditRequest struct {
	Amount string `json:"amount"`
}

// Credit mints value onto an account. Intended for local and test
// deployments where bidders are funded out of band.
// POST /api/treasury/accounts/{address}/credit
func (h *TreasuryHandler) Credit(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "address must be a hex address")
		return
	}

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok || amount.Sign() == 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal string")
		return
	}

	account, err := h.treasury.Credit(r.Context(), addr, amount)
	if err != nil {
		if status := errorStatus(err); status != 0 {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: credit account failed",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to credit account")
		return
	}

	writeJSON(w, http.StatusOK, account)
}
