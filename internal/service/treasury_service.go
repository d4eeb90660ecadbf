package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// AccountStore is the treasury backend the service needs: value movement
// plus balance-row reads. Both the in-memory bank and the Postgres account
// store satisfy it.
type AccountStore interface {
	domain.Treasury
	Account(ctx context.Context, addr common.Address) (domain.Account, error)
}

// TreasuryService serves account balances and off-band funding.
type TreasuryService struct {
	accounts AccountStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewTreasuryService creates a TreasuryService with the given backend.
func NewTreasuryService(accounts AccountStore, audit domain.AuditStore, logger *slog.Logger) *TreasuryService {
	return &TreasuryService{
		accounts: accounts,
		audit:    audit,
		logger:   logger,
	}
}

// Account returns the balance row for an address. Unknown addresses read as
// zero.
func (s *TreasuryService) Account(ctx context.Context, addr common.Address) (domain.Account, error) {
	acc, err := s.accounts.Account(ctx, addr)
	if err != nil {
		return domain.Account{}, fmt.Errorf("treasury_service: account %s: %w", addr.Hex(), err)
	}
	return acc, nil
}

// Credit adds value to an account. This is how bidders are funded before
// they can place deposits.
func (s *TreasuryService) Credit(ctx context.Context, addr common.Address, amount *big.Int) (domain.Account, error) {
	if err := s.accounts.Credit(ctx, addr, amount); err != nil {
		return domain.Account{}, fmt.Errorf("treasury_service: credit %s: %w", addr.Hex(), err)
	}

	if auditErr := s.audit.Log(ctx, "treasury.credit", map[string]any{
		"address": addr.Hex(),
		"amount":  amount.String(),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "treasury_service: audit log failed",
			slog.String("address", addr.Hex()),
			slog.String("error", auditErr.Error()),
		)
	}
	s.logger.InfoContext(ctx, "treasury_service: account credited",
		slog.String("address", addr.Hex()),
		slog.String("amount", amount.String()),
	)

	return s.Account(ctx, addr)
}
