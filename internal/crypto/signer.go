package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers. A signed request carries the signer's
// address, the Unix timestamp it was signed at and an EIP-191 signature over
// RequestMessage.
const (
	HeaderAddress   = "X-Parimutuel-Address"
	HeaderTimestamp = "X-Parimutuel-Timestamp"
	HeaderSignature = "X-Parimutuel-Signature"
)

// RequestMessage is the canonical text a client signs for one HTTP request.
// It binds the method, the path, the timestamp and a digest of the body.
func RequestMessage(method, path string, unixTS int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	var b strings.Builder
	b.WriteString("parimutuel request\n")
	b.WriteString("method: " + strings.ToUpper(method) + "\n")
	b.WriteString("path: " + path + "\n")
	b.WriteString("timestamp: " + strconv.FormatInt(unixTS, 10) + "\n")
	b.WriteString("body-sha256: " + hex.EncodeToString(sum[:]))
	return []byte(b.String())
}

// Signer signs request messages with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the checksummed address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignMessage returns the 65-byte EIP-191 personal-message signature of msg
// with v in {27, 28}.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignRequest sets the authentication headers on h for a request signed at
// ts.
func (s *Signer) SignRequest(h http.Header, method, path string, body []byte, ts time.Time) error {
	unix := ts.Unix()
	sig, err := s.SignMessage(RequestMessage(method, path, unix, body))
	if err != nil {
		return err
	}
	h.Set(HeaderAddress, s.Address())
	h.Set(HeaderTimestamp, strconv.FormatInt(unix, 10))
	h.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return nil
}

// GenerateKey returns a fresh hex-encoded private key (without 0x).
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
}
