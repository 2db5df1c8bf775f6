package crypto

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Verifier implements domain.Identity with EIP-191 signature recovery: a
// caller is accepted when the key that signed Message hashes to Address.
type Verifier struct{}

// NewVerifier returns a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify returns domain.ErrUnauthorized unless caller.Signature is a valid
// signature of caller.Message by caller.Address.
func (v *Verifier) Verify(_ context.Context, caller domain.Caller) error {
	if !common.IsHexAddress(caller.Address) {
		return fmt.Errorf("crypto/verifier: malformed address %q: %w", caller.Address, domain.ErrUnauthorized)
	}
	signer, err := RecoverAddress(caller.Message, caller.Signature)
	if err != nil {
		return fmt.Errorf("crypto/verifier: %v: %w", err, domain.ErrUnauthorized)
	}
	if signer != common.HexToAddress(caller.Address) {
		return fmt.Errorf("crypto/verifier: signed by %s, not %s: %w", signer.Hex(), caller.Address, domain.ErrUnauthorized)
	}
	return nil
}

// RecoverAddress returns the address whose key produced the EIP-191
// signature sig over msg. Both v encodings (0/1 and 27/28) are accepted.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature is %d bytes, want %d", len(sig), ethcrypto.SignatureLength)
	}
	normalised := make([]byte, len(sig))
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// CanonicalAddress returns the checksummed form of a hex address, or false
// if s is not an address.
func CanonicalAddress(s string) (string, bool) {
	if !common.IsHexAddress(s) {
		return "", false
	}
	return common.HexToAddress(s).Hex(), true
}

var _ domain.Identity = (*Verifier)(nil)
