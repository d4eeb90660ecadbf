package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// AuctionArchiveStore provides read access to the auction row.
type AuctionArchiveStore interface {
	GetByID(ctx context.Context, id string) (domain.Auction, error)
}

// BidArchiveStore provides read access to the bid ledger.
type BidArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidEntry, error)
}

// ParticipantArchiveStore provides read access to accounting records.
type ParticipantArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Participant, error)
}

// PayoutArchiveStore provides read access to settlement disbursements.
type PayoutArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Payout, error)
}

// SettlementReport is the operator-signed summary written next to the raw
// archive files. PayoutsHash commits to the exact payout rows; the signature
// binds auction id, winner, winning amount and that hash to the operator key.
type SettlementReport struct {
	AuctionID   string    `json:"auction_id"`
	Owner       string    `json:"owner"`
	Winner      string    `json:"winner,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	BidCount    int       `json:"bid_count"`
	PayoutCount int       `json:"payout_count"`
	PayoutsHash string    `json:"payouts_hash"`
	Operator    string    `json:"operator,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// Archiver implements domain.Archiver: it reads a settled auction's rows,
// serializes them to JSONL, writes them under auctions/{id}/ and finishes
// with a signed settlement report.
//
// Deleting the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step after the archive has
// been verified.
type Archiver struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	auctions     AuctionArchiveStore
	bids         BidArchiveStore
	participants ParticipantArchiveStore
	payouts      PayoutArchiveStore
	audit        domain.AuditStore
	signer       *crypto.Signer
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates a new Archiver. The signer may be nil, in which case
// the settlement report is written unsigned. The reader may be nil, in which
// case the written keys are not read back for verification.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	auctions AuctionArchiveStore,
	bids BidArchiveStore,
	participants ParticipantArchiveStore,
	payouts PayoutArchiveStore,
	audit domain.AuditStore,
	signer *crypto.Signer,
) *Archiver {
	return &Archiver{
		writer:       writer,
		reader:       reader,
		auctions:     auctions,
		bids:         bids,
		participants: participants,
		payouts:      payouts,
		audit:        audit,
		signer:       signer,
	}
}

// ArchiveAuction writes one settled auction to cold storage:
//
//	auctions/{id}/bids.jsonl
//	auctions/{id}/participants.jsonl
//	auctions/{id}/payouts.jsonl
//	auctions/{id}/settlement.json
//
// It refuses to archive an auction that has not settled, reads the written
// keys back when a reader is configured, and records the archival in the
// audit log. The returned paths list every key written, also on failure.
func (a *Archiver) ArchiveAuction(ctx context.Context, auctionID string) ([]string, error) {
	auction, err := a.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive auction %s: %w", auctionID, err)
	}
	if !auction.Settled {
		return nil, fmt.Errorf("s3blob: archive auction %s: not settled", auctionID)
	}

	bids, err := a.bids.ListByAuction(ctx, auctionID, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive auction %s: bids: %w", auctionID, err)
	}
	participants, err := a.participants.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive auction %s: participants: %w", auctionID, err)
	}
	payouts, err := a.payouts.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive auction %s: payouts: %w", auctionID, err)
	}

	var paths []string
	upload := func(name string, buf []byte, contentType string) error {
		path := archivePath(auctionID, name)
		// Busy auctions produce bid ledgers past the single-request sweet
		// spot; anything at least one part long streams through multipart.
		var err error
		if int64(len(buf)) >= minPartSize {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), contentType, minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
		}
		if err != nil {
			return fmt.Errorf("s3blob: archive auction %s: upload %s: %w", auctionID, name, err)
		}
		paths = append(paths, path)
		return nil
	}

	bidsBuf, err := marshalJSONL(bids)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive auction %s: marshal bids: %w", auctionID, err)
	}
	if err := upload("bids.jsonl", bidsBuf, "application/x-ndjson"); err != nil {
		return paths, err
	}

	partsBuf, err := marshalJSONL(participants)
	if err != nil {
		return paths, fmt.Errorf("s3blob: archive auction %s: marshal participants: %w", auctionID, err)
	}
	if err := upload("participants.jsonl", partsBuf, "application/x-ndjson"); err != nil {
		return paths, err
	}

	payoutsBuf, err := marshalJSONL(payouts)
	if err != nil {
		return paths, fmt.Errorf("s3blob: archive auction %s: marshal payouts: %w", auctionID, err)
	}
	if err := upload("payouts.jsonl", payoutsBuf, "application/x-ndjson"); err != nil {
		return paths, err
	}

	report, err := a.buildReport(auction, bids, payouts, payoutsBuf)
	if err != nil {
		return paths, err
	}
	reportBuf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("s3blob: archive auction %s: marshal report: %w", auctionID, err)
	}
	if err := upload("settlement.json", reportBuf, "application/json"); err != nil {
		return paths, err
	}

	// Read the keys back before recording the archival. Retries overwrite
	// the same keys, so a failed run leaves nothing to clean up.
	if a.reader != nil {
		for _, path := range paths {
			ok, err := a.reader.Exists(ctx, path)
			if err != nil {
				return paths, fmt.Errorf("s3blob: archive auction %s: verify %s: %w", auctionID, path, err)
			}
			if !ok {
				return paths, fmt.Errorf("s3blob: archive auction %s: verify %s: object missing after upload", auctionID, path)
			}
		}
	}

	if err := a.audit.Log(ctx, "archive.auction", map[string]any{
		"auction_id": auctionID,
		"paths":      paths,
		"bid_count":  len(bids),
	}); err != nil {
		return paths, fmt.Errorf("s3blob: archive auction %s: audit log: %w", auctionID, err)
	}

	return paths, nil
}

// buildReport assembles and, when a signer is configured, signs the
// settlement summary. The winner is the ledger tail; an auction settled with
// no bids gets a report with empty winner fields.
func (a *Archiver) buildReport(auction domain.Auction, bids []domain.BidEntry, payouts []domain.Payout, payoutsBuf []byte) (SettlementReport, error) {
	var payoutsHash [32]byte
	copy(payoutsHash[:], ethcrypto.Keccak256(payoutsBuf))

	report := SettlementReport{
		AuctionID:   auction.ID,
		Owner:       auction.Owner.Hex(),
		BidCount:    len(bids),
		PayoutCount: len(payouts),
		PayoutsHash: "0x" + hex.EncodeToString(payoutsHash[:]),
		ArchivedAt:  time.Now().UTC(),
	}

	winner := common.Address{}
	amount := big.NewInt(0)
	if len(bids) > 0 {
		tail := bids[len(bids)-1]
		winner = tail.Bidder
		amount = tail.Amount
		report.Winner = winner.Hex()
		report.Amount = amount.String()
	}

	if a.signer != nil {
		sig, err := a.signer.SignSettlementReport(auction.ID, winner, amount, payoutsHash)
		if err != nil {
			return SettlementReport{}, fmt.Errorf("s3blob: sign settlement report %s: %w", auction.ID, err)
		}
		report.Operator = a.signer.Address().Hex()
		report.Signature = sig
	}

	return report, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for one auction archive file.
//
//	auctions/auc-1/bids.jsonl
//	auctions/auc-1/settlement.json
func archivePath(auctionID, name string) string {
	return fmt.Sprintf("auctions/%s/%s", auctionID, name)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
