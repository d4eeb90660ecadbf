package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury is the account ledger backing the auction house's value
// movements. Transfer debits and credits as a single atomic step: it either
// completes fully or leaves both balances untouched, and it never partially
// transfers.
type Treasury interface {
	// Credit adds amount to an account, creating it if needed. This is the
	// entry point for off-band deposits.
	Credit(ctx context.Context, to common.Address, amount *big.Int) error
	// Transfer moves amount from one account to another, failing with
	// ErrInsufficientFunds when the source balance does not cover it.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// Balance reports an account's current balance; unknown accounts are
	// zero, not an error.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}
