package treasury

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gavelhouse/gavel/internal/domain"
)

// Bank is an in-memory account ledger implementing domain.Treasury. It backs
// local mode and tests; the Postgres account store is the production
// implementation. A single mutex makes every transfer atomic with respect to
// concurrent callers: either both balances move or neither does.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	updated  map[common.Address]time.Time
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[common.Address]*big.Int),
		updated:  make(map[common.Address]time.Time),
	}
}

// Credit adds amount to an account, creating it if needed.
func (b *Bank) Credit(_ context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.ensure(to)
	bal.Add(bal, amount)
	b.updated[to] = time.Now().UTC()
	return nil
}

// Transfer moves amount between two accounts, failing with
// ErrInsufficientFunds when the source balance does not cover it. A zero
// amount is a no-op.
func (b *Bank) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.ensure(from)
	if src.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}
	dst := b.ensure(to)
	src.Sub(src, amount)
	dst.Add(dst, amount)
	now := time.Now().UTC()
	b.updated[from] = now
	b.updated[to] = now
	return nil
}

// Balance reports an account's current balance; unknown accounts are zero.
func (b *Bank) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

// Account returns the full account row for addr.
func (b *Bank) Account(_ context.Context, addr common.Address) (domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := domain.Account{Address: addr, Balance: big.NewInt(0)}
	if bal, ok := b.balances[addr]; ok {
		acc.Balance = new(big.Int).Set(bal)
		acc.UpdatedAt = b.updated[addr]
	}
	return acc, nil
}

func (b *Bank) ensure(addr common.Address) *big.Int {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	bal := big.NewInt(0)
	b.balances[addr] = bal
	return bal
}
