package handler

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/gavelhouse/gavel/internal/domain"
)

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/auctions", nil)
	opts := parseListOpts(r)
	require.Equal(t, 50, opts.Limit)
	require.Equal(t, 0, opts.Offset)
	require.Nil(t, opts.Since)
	require.Nil(t, opts.Until)

	r = httptest.NewRequest(http.MethodGet, "/api/auctions?limit=2000&offset=30&since=2026-01-02T15:04:05Z", nil)
	opts = parseListOpts(r)
	require.Equal(t, 500, opts.Limit)
	require.Equal(t, 30, opts.Offset)
	require.NotNil(t, opts.Since)
	require.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), opts.Since.UTC())
	require.Nil(t, opts.Until)

	r = httptest.NewRequest(http.MethodGet, "/api/auctions?limit=bogus&offset=-3&since=not-a-time", nil)
	opts = parseListOpts(r)
	require.Equal(t, 50, opts.Limit)
	require.Equal(t, 0, opts.Offset)
	require.Nil(t, opts.Since)
}

func TestParseAmount(t *testing.T) {
	n, ok := parseAmount("106")
	require.True(t, ok)
	require.Equal(t, "106", n.String())

	n, ok = parseAmount("0")
	require.True(t, ok)
	require.Equal(t, "0", n.String())

	huge, ok := parseAmount("340282366920938463463374607431768211456")
	require.True(t, ok)
	require.Equal(t, "340282366920938463463374607431768211456", huge.String())

	for _, bad := range []string{"", "-1", "1.5", "0x10", "abc"} {
		_, ok := parseAmount(bad)
		require.False(t, ok, "amount %q should be rejected", bad)
	}
}

func TestParseAddress(t *testing.T) {
	addr, ok := parseAddress("0x000000000000000000000000000000000000dead")
	require.True(t, ok)
	require.Equal(t, "0x000000000000000000000000000000000000dead", strings.ToLower(addr.Hex()))

	for _, bad := range []string{"", "0x123", "dead", "0xZZ00000000000000000000000000000000000000"} {
		_, ok := parseAddress(bad)
		require.False(t, ok, "address %q should be rejected", bad)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNoBids, http.StatusNotFound},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidSignature, http.StatusUnauthorized},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrAuctionStillActive, http.StatusConflict},
		{domain.ErrAlreadySettled, http.StatusConflict},
		{domain.ErrSuspended, http.StatusLocked},
		{&domain.BidTooLowError{Min: big.NewInt(127)}, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{&domain.TransferFailedError{Identity: common.Address{}, Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("mystery"), 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, errorStatus(tc.err), "error %v", tc.err)
	}
}
