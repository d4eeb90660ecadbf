package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
	"github.com/gavelhouse/gavel/internal/server/handler"
)

type stubAuctionService struct {
	auctions       map[string]domain.Auction
	settlePayouts  []domain.Payout
	settleErr      error
	participant    domain.Participant
	participantErr error
}

func newStubAuctionService() *stubAuctionService {
	return &stubAuctionService{auctions: make(map[string]domain.Auction)}
}

func (s *stubAuctionService) Create(ctx context.Context, owner common.Address, floor *big.Int, deadline time.Time) (domain.Auction, error) {
	now := time.Now().UTC()
	a := domain.Auction{
		ID:              fmt.Sprintf("a-%d", len(s.auctions)+1),
		Owner:           owner,
		Custody:         common.BytesToAddress([]byte("custody")),
		IncreasePct:     5,
		DiscountPct:     2,
		ExtensionWindow: 10 * time.Minute,
		StartingFloor:   floor,
		HighestAmount:   floor,
		Deadline:        deadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.auctions[a.ID] = a
	return a, nil
}

func (s *stubAuctionService) Get(ctx context.Context, id string) (domain.Auction, error) {
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *stubAuctionService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	out := make([]domain.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a)
	}
	return out, nil
}

func (s *stubAuctionService) Participants(ctx context.Context, auctionID string) ([]domain.Participant, error) {
	return nil, nil
}

func (s *stubAuctionService) Participant(ctx context.Context, auctionID string, identity common.Address) (domain.Participant, error) {
	if s.participantErr != nil {
		return domain.Participant{}, s.participantErr
	}
	return s.participant, nil
}

func (s *stubAuctionService) Payouts(ctx context.Context, auctionID string) ([]domain.Payout, error) {
	return nil, nil
}

func (s *stubAuctionService) RevealWinner(ctx context.Context, auctionID string) (domain.WinnerReveal, error) {
	return domain.WinnerReveal{AuctionID: auctionID}, nil
}

func (s *stubAuctionService) Settle(ctx context.Context, auctionID string, caller common.Address) ([]domain.Payout, error) {
	return s.settlePayouts, s.settleErr
}

func (s *stubAuctionService) Suspend(ctx context.Context, auctionID string, caller common.Address) error {
	return nil
}

func (s *stubAuctionService) Resume(ctx context.Context, auctionID string, caller common.Address) error {
	return nil
}

func (s *stubAuctionService) EmergencyWithdraw(ctx context.Context, auctionID string, caller common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type stubBidService struct {
	receipt domain.BidReceipt
	err     error
	lastEnv crypto.BidEnvelope
	lastSig string
}

func (s *stubBidService) PlaceBid(ctx context.Context, env crypto.BidEnvelope, signature string) (domain.BidReceipt, error) {
	s.lastEnv, s.lastSig = env, signature
	if s.err != nil {
		return domain.BidReceipt{}, s.err
	}
	return s.receipt, nil
}

func (s *stubBidService) Bids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error) {
	return nil, nil
}

func (s *stubBidService) ClaimSurplus(ctx context.Context, auctionID string, identity common.Address) (*big.Int, error) {
	return big.NewInt(42), nil
}

type stubTreasuryService struct{}

func (stubTreasuryService) Account(ctx context.Context, addr common.Address) (domain.Account, error) {
	return domain.Account{Address: addr, Balance: big.NewInt(0)}, nil
}

func (stubTreasuryService) Credit(ctx context.Context, addr common.Address, amount *big.Int) (domain.Account, error) {
	return domain.Account{Address: addr, Balance: amount, UpdatedAt: time.Now().UTC()}, nil
}

type stubAuditLog struct{}

func (stubAuditLog) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (stubAuditLog) ListByEvent(ctx context.Context, eventPrefix string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type stubEventStream struct {
	msgs []domain.StreamMessage
}

func (s *stubEventStream) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return s.msgs, nil
}

type serverFixture struct {
	auctions *stubAuctionService
	bids     *stubBidService
	events   *stubEventStream
	ts       *httptest.Server
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auctions := newStubAuctionService()
	bids := &stubBidService{}
	events := &stubEventStream{}

	handlers := Handlers{
		Health:   handler.NewHealthHandler(logger),
		Status:   handler.NewStatusHandler("serve", "test", time.Now().UTC()),
		Auctions: handler.NewAuctionHandler(auctions, logger),
		Bids:     handler.NewBidHandler(bids, logger),
		Treasury: handler.NewTreasuryHandler(stubTreasuryService{}, logger),
		Audit:    handler.NewAuditHandler(stubAuditLog{}, logger),
		Events:   handler.NewEventsHandler(events, "gavel:events:stream", logger),
	}
	srv := NewServer(cfg, handlers, nil, nil, logger)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &serverFixture{auctions: auctions, bids: bids, events: events, ts: ts}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reqBody)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestHealthBypassesAuth(t *testing.T) {
	f := newServerFixture(t, Config{APIKey: "sesame"})

	resp, body := f.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, _ = f.do(t, http.MethodGet, "/api/auctions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/auctions", nil, map[string]string{"X-API-Key": "sesame"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/auctions", nil, map[string]string{"Authorization": "Bearer sesame"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/auctions", nil, map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetAuctionRoutes(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp, body := f.do(t, http.MethodPost, "/api/auctions", map[string]any{
		"owner":          "0x1111111111111111111111111111111111111111",
		"starting_floor": "100",
		"duration_ms":    60_000,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "active", body["status"])
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	resp, body = f.do(t, http.MethodGet, "/api/auctions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, id, body["id"])

	resp, body = f.do(t, http.MethodGet, "/api/auctions/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body["error"], "not found")
}

func TestCreateAuctionValidation(t *testing.T) {
	f := newServerFixture(t, Config{})

	cases := []map[string]any{
		{"owner": "nonsense", "starting_floor": "100", "duration_ms": 1000},
		{"owner": "0x1111111111111111111111111111111111111111", "starting_floor": "-5", "duration_ms": 1000},
		{"owner": "0x1111111111111111111111111111111111111111", "starting_floor": "100"},
		{"owner": "0x1111111111111111111111111111111111111111", "starting_floor": "100", "deadline": "2020-01-01T00:00:00Z"},
	}
	for _, reqBody := range cases {
		resp, _ := f.do(t, http.MethodPost, "/api/auctions", reqBody, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %v", reqBody)
	}
}

func TestPlaceBidReportsMinimum(t *testing.T) {
	f := newServerFixture(t, Config{})
	f.bids.err = &domain.BidTooLowError{Min: big.NewInt(127)}

	resp, body := f.do(t, http.MethodPost, "/api/auctions/a-1/bids", map[string]any{
		"bidder": "0x2222222222222222222222222222222222222222",
		"amount": "126",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "127", body["min"])

	f.bids.err = nil
	f.bids.receipt = domain.BidReceipt{
		Entry:         domain.BidEntry{AuctionID: "a-1", Seq: 1, Amount: big.NewInt(130)},
		Deadline:      time.Now().UTC().Add(time.Hour),
		HighestAmount: big.NewInt(130),
	}
	resp, _ = f.do(t, http.MethodPost, "/api/auctions/a-1/bids", map[string]any{
		"bidder":    "0x2222222222222222222222222222222222222222",
		"amount":    "130",
		"signature": "0xdeadbeef",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "a-1", f.bids.lastEnv.AuctionID)
	require.Equal(t, "130", f.bids.lastEnv.Amount)
	require.Equal(t, "0xdeadbeef", f.bids.lastSig)
}

func TestSettleTransferFailureKeepsPayouts(t *testing.T) {
	f := newServerFixture(t, Config{})
	f.auctions.settlePayouts = []domain.Payout{{
		ID:         "p-1",
		AuctionID:  "a-1",
		Address:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Refundable: big.NewInt(106),
		Amount:     big.NewInt(103),
		Kind:       domain.PayoutKindLoser,
		CreatedAt:  time.Now().UTC(),
	}}
	f.auctions.settleErr = fmt.Errorf("auction_service: settle: %w", &domain.TransferFailedError{
		Identity: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Err:      errors.New("insufficient custody balance"),
	})

	resp, body := f.do(t, http.MethodPost, "/api/auctions/a-1/settle", map[string]any{
		"caller": "0x1111111111111111111111111111111111111111",
	}, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, false, body["settled"])
	payouts, ok := body["payouts"].([]any)
	require.True(t, ok)
	require.Len(t, payouts, 1)
}

func TestTreasuryRoutes(t *testing.T) {
	f := newServerFixture(t, Config{})

	addr := "0x5555555555555555555555555555555555555555"
	resp, body := f.do(t, http.MethodPost, "/api/treasury/accounts/"+addr+"/credit", map[string]any{
		"amount": "500",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 500, body["balance"])

	resp, _ = f.do(t, http.MethodPost, "/api/treasury/accounts/"+addr+"/credit", map[string]any{
		"amount": "0",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/treasury/accounts/"+addr, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, body["balance"])
}

func TestGetParticipantRoute(t *testing.T) {
	f := newServerFixture(t, Config{})
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	f.auctions.participant = domain.Participant{
		AuctionID:      "a-1",
		Address:        addr,
		CurrentOffer:   big.NewInt(120),
		TotalDeposited: big.NewInt(226),
		Registered:     true,
	}

	resp, body := f.do(t, http.MethodGet, "/api/auctions/a-1/participants/"+addr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 226, body["total_deposited"])
	require.EqualValues(t, 120, body["current_offer"])

	resp, _ = f.do(t, http.MethodGet, "/api/auctions/a-1/participants/nonsense", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.auctions.participantErr = fmt.Errorf("participant: %w", domain.ErrNotFound)
	resp, _ = f.do(t, http.MethodGet, "/api/auctions/a-1/participants/"+addr.Hex(), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventReplayRoute(t *testing.T) {
	f := newServerFixture(t, Config{})
	f.events.msgs = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"auction.created","auction_id":"a-1"}`)},
		{ID: "2-0", Payload: []byte(`{"type":"auction.closed","auction_id":"a-1"}`)},
	}

	resp, body := f.do(t, http.MethodGet, "/api/events?after=0&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "2-0", body["next"])
	events, _ := body["events"].([]any)
	require.Len(t, events, 2)

	resp, _ = f.do(t, http.MethodGet, "/api/events?limit=zero", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp, _ := f.do(t, http.MethodGet, "/api/health", nil, nil)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = f.do(t, http.MethodGet, "/api/health", nil, map[string]string{"X-Request-ID": "trace-123"})
	require.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))
}

func TestCORSReflectsAllowedOrigin(t *testing.T) {
	f := newServerFixture(t, Config{CORSOrigins: []string{"http://localhost:3000"}})

	resp, _ := f.do(t, http.MethodOptions, "/api/auctions", nil, map[string]string{"Origin": "http://localhost:3000"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Values("Vary"), "Origin")

	resp, _ = f.do(t, http.MethodOptions, "/api/auctions", nil, map[string]string{"Origin": "http://evil.example"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
