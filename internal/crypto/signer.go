package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Type hashes per EIP-712, keccak256 of the canonical type strings.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Bid(string auctionId,address bidder,uint256 amount,uint256 placedAt)
	bidTypeHash = ethcrypto.Keccak256(
		[]byte("Bid(string auctionId,address bidder,uint256 amount,uint256 placedAt)"),
	)

	// SettlementReport(string auctionId,address winner,uint256 amount,bytes32 payoutsHash)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("SettlementReport(string auctionId,address winner,uint256 amount,bytes32 payoutsHash)"),
	)
)

// BidEnvelope is the signed payload a bidder submits over the API. Amounts
// travel as decimal strings to preserve precision across JSON boundaries;
// PlacedAt is a unix timestamp in seconds.
type BidEnvelope struct {
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
	PlacedAt  int64  `json:"placed_at"`
}

// Signer signs bid envelopes and settlement reports with a secp256k1 key
// under a fixed EIP-712 domain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return FromKey(pk, chainID), nil
}

// FromKey wraps an already-loaded private key, typically one unlocked from
// the operator keyfile.
func FromKey(pk *ecdsa.PrivateKey, chainID int) *Signer {
	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("Gavel", "1", chainID)
	return s
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignBid signs a bid envelope and returns a hex-encoded 65-byte signature.
func (s *Signer) SignBid(env BidEnvelope) (string, error) {
	digest, err := BidDigest(env, s.chainID)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// SignSettlementReport signs the settlement summary the archiver publishes
// alongside the payout rows, so a reader can verify which operator produced
// it.
func (s *Signer) SignSettlementReport(auctionID string, winner common.Address, amount *big.Int, payoutsHash [32]byte) (string, error) {
	digest := SettlementDigest(auctionID, winner, amount, payoutsHash, s.chainID)
	return s.signDigest(digest)
}

// BidDigest computes the EIP-712 digest a bid envelope is signed over.
func BidDigest(env BidEnvelope, chainID int) ([]byte, error) {
	amount, ok := new(big.Int).SetString(env.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid amount %q", env.Amount)
	}
	bidder := common.HexToAddress(env.Bidder)

	// Keccak256 hashes the concatenation of its arguments, one 32-byte
	// word per field as abi.encode lays them out.
	structHash := ethcrypto.Keccak256(
		bidTypeHash,
		ethcrypto.Keccak256([]byte(env.AuctionID)),
		common.LeftPadBytes(bidder.Bytes(), 32),
		common.BigToHash(amount).Bytes(),
		common.BigToHash(big.NewInt(env.PlacedAt)).Bytes(),
	)
	return eip712Hash(buildDomainSeparator("Gavel", "1", chainID), structHash), nil
}

// SettlementDigest computes the EIP-712 digest for a settlement report.
func SettlementDigest(auctionID string, winner common.Address, amount *big.Int, payoutsHash [32]byte, chainID int) []byte {
	structHash := ethcrypto.Keccak256(
		settlementTypeHash,
		ethcrypto.Keccak256([]byte(auctionID)),
		common.LeftPadBytes(winner.Bytes(), 32),
		common.BigToHash(amount).Bytes(),
		payoutsHash[:],
	)
	return eip712Hash(buildDomainSeparator("Gavel", "1", chainID), structHash)
}

// RecoverBidder recovers the address that signed a bid envelope. Callers
// compare it against the envelope's claimed bidder; a mismatch means the
// signature is not theirs.
func RecoverBidder(env BidEnvelope, sigHex string, chainID int) (common.Address, error) {
	digest, err := BidDigest(env, chainID)
	if err != nil {
		return common.Address{}, err
	}
	return recoverAddress(digest, sigHex)
}

// RecoverReportSigner recovers the operator address from a signed settlement
// report.
func RecoverReportSigner(auctionID string, winner common.Address, amount *big.Int, payoutsHash [32]byte, sigHex string, chainID int) (common.Address, error) {
	digest := SettlementDigest(auctionID, winner, amount, payoutsHash, chainID)
	return recoverAddress(digest, sigHex)
}

// buildDomainSeparator hashes the EIP-712 domain, which binds every
// signature to this application, version and chain.
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		common.BigToHash(big.NewInt(int64(chainID))).Bytes(),
	)
}

// eip712Hash assembles the signable digest,
// keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest signs a 32-byte digest and returns the signature hex encoded,
// r || s || v over 65 bytes.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// recoverAddress recovers the signing address from a 65-byte hex signature
// over the given digest.
func recoverAddress(digest []byte, sigHex string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(raw))
	}

	// Normalize v back to {0,1} for recovery.
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
