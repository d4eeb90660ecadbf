package postgres

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavelhouse/gavel/internal/domain"
)

// AccountStore implements domain.Treasury on the accounts table. Transfers
// run in a transaction with both rows locked, so a transfer either moves the
// full amount or leaves both balances untouched.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection
// pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Credit adds amount to an account, creating the row if needed.
func (s *AccountStore) Credit(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	const query = `
		INSERT INTO accounts (address, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (address) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, addrArg(to), bigArg(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), err)
	}
	return nil
}

// Transfer moves amount between two accounts atomically. Rows are locked in
// address order so two opposing transfers cannot deadlock.
func (s *AccountStore) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, second := from, to
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	for _, addr := range []common.Address{first, second} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`,
			addrArg(addr)); err != nil {
			return fmt.Errorf("postgres: ensure account %s: %w", addr.Hex(), err)
		}
		if _, err := tx.Exec(ctx,
			`SELECT balance FROM accounts WHERE address = $1 FOR UPDATE`,
			addrArg(addr)); err != nil {
			return fmt.Errorf("postgres: lock account %s: %w", addr.Hex(), err)
		}
	}

	var balStr string
	if err := tx.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE address = $1`,
		addrArg(from)).Scan(&balStr); err != nil {
		return fmt.Errorf("postgres: read balance %s: %w", from.Hex(), err)
	}
	bal, err := parseBig(balStr)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2::numeric, updated_at = NOW() WHERE address = $1`,
		addrArg(from), bigArg(amount)); err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from.Hex(), err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::numeric, updated_at = NOW() WHERE address = $1`,
		addrArg(to), bigArg(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

// Balance returns an account's balance; unknown accounts read as zero.
func (s *AccountStore) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balStr string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM accounts WHERE address = $1`,
		addrArg(addr)).Scan(&balStr)
	if err != nil {
		if err == pgx.ErrNoRows {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("postgres: balance %s: %w", addr.Hex(), err)
	}
	return parseBig(balStr)
}

// Account returns the full account row; unknown accounts read as a zero row.
func (s *AccountStore) Account(ctx context.Context, addr common.Address) (domain.Account, error) {
	var (
		acct    domain.Account
		balStr  string
		addrHex string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT address, balance::text, updated_at FROM accounts WHERE address = $1`,
		addrArg(addr)).Scan(&addrHex, &balStr, &acct.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Account{Address: addr, Balance: big.NewInt(0)}, nil
		}
		return domain.Account{}, fmt.Errorf("postgres: account %s: %w", addr.Hex(), err)
	}
	acct.Address = parseAddr(addrHex)
	if acct.Balance, err = parseBig(balStr); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}
