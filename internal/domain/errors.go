package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAuctionClosed      = errors.New("auction closed")
	ErrAuctionStillActive = errors.New("auction still active")
	ErrSuspended          = errors.New("auction suspended")
	ErrNotSuspended       = errors.New("auction not suspended")
	ErrAlreadySettled     = errors.New("auction already settled")
	ErrNoBids             = errors.New("no bids placed")
	ErrBidTooLow          = errors.New("bid too low")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrLockHeld           = errors.New("lock already held")
)

// BidTooLowError rejects a bid below the minimum increase threshold and
// carries the smallest amount that would have been accepted.
type BidTooLowError struct {
	Min *big.Int
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: minimum acceptable amount is %s", e.Min)
}

func (e *BidTooLowError) Is(target error) bool { return target == ErrBidTooLow }

// TransferFailedError reports that an outbound value transfer did not
// complete, identifying the account whose transfer failed.
type TransferFailedError struct {
	Identity common.Address
	Err      error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer to %s failed: %v", e.Identity.Hex(), e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

func (e *TransferFailedError) Is(target error) bool { return target == ErrTransferFailed }
