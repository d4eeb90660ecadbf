// Package crypto provides operator key management, EIP-712 signing of bid
// envelopes and settlement reports, and HMAC webhook authentication.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 work factor. 480k iterations of HMAC-SHA256 is the OWASP
	// floor, and the key is loaded once per process, so slow is fine.
	pbkdf2Iterations = 480_000

	saltLen   = 16 // random salt bytes per key file
	aesKeyLen = 32 // AES-256

	// currentVersion tags the key-file schema; DecryptKey refuses blobs
	// written in a format this build does not know.
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format for an encrypted operator key. The
// address is stored in clear so operators can tell key files apart without
// decrypting them; it is also bound into the GCM additional data, so editing
// it invalidates the ciphertext. Salt, Nonce and Ciphertext are standard
// base64.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Address    string `json:"address"` // 0x-prefixed address of the enclosed key
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the places LoadKey looks for the operator key, in order
// of precedence.
type KeyConfig struct {
	// RawPrivateKey is a hex private key, 0x prefix optional. When set it
	// wins outright; LoadKey validates it and never touches the filesystem.
	RawPrivateKey string

	// EncryptedKeyPath locates a JSON key file written by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword unlocks the file at EncryptedKeyPath.
	KeyPassword string
}

// GenerateKey creates a fresh secp256k1 operator key and returns it as a
// hex string without 0x prefix.
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto: generating key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
}

// addressAAD builds the GCM additional data that ties a ciphertext to the
// cleartext address hint stored next to it.
func addressAAD(address string) []byte {
	return []byte("gavel-operator-key:" + strings.ToLower(address))
}

// deriveAEAD stretches the password with PBKDF2-HMAC-SHA256 and returns the
// AES-256-GCM instance keyed by it.
func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

func randBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncryptKey encrypts a hex-encoded operator key with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated
// encryption, returning the JSON blob to write to disk. The key's address
// is recorded in the blob and authenticated together with the ciphertext.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: key password is empty")
	}

	// Parse as a secp256k1 key rather than raw bytes; this also rejects
	// scalars outside the curve order.
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()

	salt, err := randBytes(saltLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: random salt: %w", err)
	}
	gcm, err := deriveAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce, err := randBytes(gcm.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("crypto: random nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), addressAAD(address))

	return json.MarshalIndent(encryptedKeyJSON{
		Version:    currentVersion,
		Address:    address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
}

// DecryptKey decrypts a JSON blob produced by EncryptKey, returning the
// hex-encoded private key without 0x prefix. A wrong password and an edited
// blob, address hint included, are indistinguishable failures.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: key password is empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: malformed key file: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: key file version %d not supported (want %d)", stored.Version, currentVersion)
	}

	salt, err := b64Field("salt", stored.Salt)
	if err != nil {
		return "", err
	}
	nonce, err := b64Field("nonce", stored.Nonce)
	if err != nil {
		return "", err
	}
	ciphertext, err := b64Field("ciphertext", stored.Ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := deriveAEAD(password, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, addressAAD(stored.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password or edited key file): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

func b64Field(name, value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding %s: %w", name, err)
	}
	return raw, nil
}

// LoadKey resolves the operator key from cfg: a raw key wins, then an
// encrypted key file unlocked with KeyPassword. The result is hex without
// 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := ethcrypto.HexToECDSA(k); err != nil {
			return "", fmt.Errorf("crypto: RawPrivateKey: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no operator key configured (set RawPrivateKey or EncryptedKeyPath)")
	}
}
