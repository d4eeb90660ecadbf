package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
)

// memBlobStore implements domain.BlobWriter and domain.BlobReader in memory.
// Keys in missing report as absent from Exists even after a Put, simulating
// an object store that lost a write.
type memBlobStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	multipart    map[string]bool
	missing      map[string]bool
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
		multipart:    make(map[string]bool),
		missing:      make(map[string]bool),
	}
}

func (m *memBlobStore) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = buf
	m.contentTypes[path] = contentType
	return nil
}

func (m *memBlobStore) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, _ int64) error {
	m.mu.Lock()
	m.multipart[path] = true
	m.mu.Unlock()
	return m.Put(ctx, path, data, contentType)
}

func (m *memBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.objects[path]
	if !ok || m.missing[path] {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.BlobInfo
	for path, buf := range m.objects {
		if strings.HasPrefix(path, prefix) && !m.missing[path] {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (m *memBlobStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok && !m.missing[path], nil
}

func (m *memBlobStore) Presign(ctx context.Context, path string, _ time.Duration) (string, error) {
	ok, err := m.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotFound
	}
	return "mem://" + path, nil
}

// memArchiveSource backs the archiver's narrow store interfaces with fixed
// rows for a single auction.
type memArchiveSource struct {
	auction      domain.Auction
	bids         []domain.BidEntry
	participants []domain.Participant
	payouts      []domain.Payout
}

func (m *memArchiveSource) GetByID(_ context.Context, id string) (domain.Auction, error) {
	if id != m.auction.ID {
		return domain.Auction{}, domain.ErrNotFound
	}
	return m.auction, nil
}

func (m *memArchiveSource) ListByAuction(_ context.Context, _ string, _ domain.ListOpts) ([]domain.BidEntry, error) {
	return m.bids, nil
}

// participantSource and payoutSource disambiguate the two ListByAuction
// shapes that memArchiveSource cannot carry on one method set.
type participantSource struct{ rows []domain.Participant }

func (p participantSource) ListByAuction(context.Context, string) ([]domain.Participant, error) {
	return p.rows, nil
}

type payoutSource struct{ rows []domain.Payout }

func (p payoutSource) ListByAuction(context.Context, string) ([]domain.Payout, error) {
	return p.rows, nil
}

// recordingAudit satisfies domain.AuditStore and records Log calls.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:     int64(len(a.entries) + 1),
		Event:  event,
		Detail: detail,
	})
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *recordingAudit) ListByEvent(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func settledFixture() (*memArchiveSource, participantSource, payoutSource) {
	src := &memArchiveSource{
		auction: domain.Auction{
			ID:            "auc-1",
			Owner:         addr(0xAA),
			StartingFloor: big.NewInt(100),
			HighestAmount: big.NewInt(242),
			Settled:       true,
			Deadline:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		bids: []domain.BidEntry{
			{AuctionID: "auc-1", Seq: 1, Bidder: addr(0x01), Amount: big.NewInt(110)},
			{AuctionID: "auc-1", Seq: 2, Bidder: addr(0x02), Amount: big.NewInt(242)},
		},
	}
	parts := participantSource{rows: []domain.Participant{
		{AuctionID: "auc-1", Address: addr(0x01), TotalDeposited: big.NewInt(110), Position: 0},
		{AuctionID: "auc-1", Address: addr(0x02), TotalDeposited: big.NewInt(242), Position: 1},
	}}
	pays := payoutSource{rows: []domain.Payout{
		{ID: "pay-1", AuctionID: "auc-1", Address: addr(0x01), Amount: big.NewInt(107), Kind: domain.PayoutKindLoser},
		{ID: "pay-2", AuctionID: "auc-1", Address: addr(0xAA), Amount: big.NewInt(245), Kind: domain.PayoutKindSweep},
	}}
	return src, parts, pays
}

func TestArchiveWritesLedgerAndReport(t *testing.T) {
	blobs := newMemBlobStore()
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, nil)

	paths, err := arch.ArchiveAuction(context.Background(), "auc-1")
	require.NoError(t, err)
	require.Equal(t, []string{
		"auctions/auc-1/bids.jsonl",
		"auctions/auc-1/participants.jsonl",
		"auctions/auc-1/payouts.jsonl",
		"auctions/auc-1/settlement.json",
	}, paths)

	require.Equal(t, "application/x-ndjson", blobs.contentTypes["auctions/auc-1/bids.jsonl"])
	require.Equal(t, "application/json", blobs.contentTypes["auctions/auc-1/settlement.json"])

	bidLines := bytes.Count(blobs.objects["auctions/auc-1/bids.jsonl"], []byte("\n"))
	require.Equal(t, 2, bidLines)

	var report SettlementReport
	require.NoError(t, json.Unmarshal(blobs.objects["auctions/auc-1/settlement.json"], &report))
	require.Equal(t, "auc-1", report.AuctionID)
	require.Equal(t, src.auction.Owner.Hex(), report.Owner)
	require.Equal(t, addr(0x02).Hex(), report.Winner)
	require.Equal(t, "242", report.Amount)
	require.Equal(t, 2, report.BidCount)
	require.Equal(t, 2, report.PayoutCount)
	require.True(t, strings.HasPrefix(report.PayoutsHash, "0x"))
	require.Len(t, report.PayoutsHash, 2+64)
	require.Empty(t, report.Operator)
	require.Empty(t, report.Signature)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "archive.auction", audit.entries[0].Event)
	require.Equal(t, "auc-1", audit.entries[0].Detail["auction_id"])
}

func TestArchiveRejectsUnsettledAuction(t *testing.T) {
	blobs := newMemBlobStore()
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()
	src.auction.Settled = false

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, nil)

	_, err := arch.ArchiveAuction(context.Background(), "auc-1")
	require.ErrorContains(t, err, "not settled")
	require.Empty(t, blobs.objects)
	require.Empty(t, audit.entries)
}

func TestArchiveFailsWhenUploadedKeyIsMissing(t *testing.T) {
	blobs := newMemBlobStore()
	blobs.missing["auctions/auc-1/payouts.jsonl"] = true
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, nil)

	_, err := arch.ArchiveAuction(context.Background(), "auc-1")
	require.ErrorContains(t, err, "auctions/auc-1/payouts.jsonl")
	require.ErrorContains(t, err, "missing after upload")
	require.Empty(t, audit.entries, "a failed archive must not be recorded")
}

func TestArchiveSignsReportWhenSignerConfigured(t *testing.T) {
	const chainID = 31337
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", chainID)
	require.NoError(t, err)

	blobs := newMemBlobStore()
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, signer)

	_, err = arch.ArchiveAuction(context.Background(), "auc-1")
	require.NoError(t, err)

	var report SettlementReport
	require.NoError(t, json.Unmarshal(blobs.objects["auctions/auc-1/settlement.json"], &report))
	require.Equal(t, signer.Address().Hex(), report.Operator)

	var payoutsHash [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(report.PayoutsHash, "0x"))
	require.NoError(t, err)
	copy(payoutsHash[:], raw)

	amount, ok := new(big.Int).SetString(report.Amount, 10)
	require.True(t, ok)

	recovered, err := crypto.RecoverReportSigner(
		report.AuctionID,
		common.HexToAddress(report.Winner),
		amount,
		payoutsHash,
		report.Signature,
		chainID,
	)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), recovered)
}

func TestArchiveStreamsLargeLedgersAsMultipart(t *testing.T) {
	blobs := newMemBlobStore()
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()

	// Pad the bid ledger past one part size. The first row is the shortest,
	// so sizing off it guarantees the marshaled ledger crosses the line.
	row, err := json.Marshal(src.bids[0])
	require.NoError(t, err)
	need := int(minPartSize)/(len(row)+1) + 2
	for seq := int64(3); len(src.bids) < need; seq++ {
		src.bids = append(src.bids, domain.BidEntry{
			AuctionID: "auc-1",
			Seq:       seq,
			Bidder:    addr(byte(seq%200 + 1)),
			Amount:    big.NewInt(242 + seq),
		})
	}

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, nil)

	_, err = arch.ArchiveAuction(context.Background(), "auc-1")
	require.NoError(t, err)

	require.True(t, blobs.multipart["auctions/auc-1/bids.jsonl"], "oversized ledger should stream in parts")
	require.False(t, blobs.multipart["auctions/auc-1/participants.jsonl"])
	require.Equal(t, "application/x-ndjson", blobs.contentTypes["auctions/auc-1/bids.jsonl"])
}

func TestArchiveWithNoBidsWritesEmptyWinner(t *testing.T) {
	blobs := newMemBlobStore()
	audit := &recordingAudit{}
	src, parts, pays := settledFixture()
	src.bids = nil

	arch := NewArchiver(blobs, blobs, src, src, parts, pays, audit, nil)

	_, err := arch.ArchiveAuction(context.Background(), "auc-1")
	require.NoError(t, err)

	var report SettlementReport
	require.NoError(t, json.Unmarshal(blobs.objects["auctions/auc-1/settlement.json"], &report))
	require.Empty(t, report.Winner)
	require.Empty(t, report.Amount)
	require.Equal(t, 0, report.BidCount)
}
