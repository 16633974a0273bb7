package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignerMismatch     = errors.New("signature does not match address")
)

func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LoginMessage renders the text the wallet signs. It must stay byte-stable
// because the server re-renders it to verify.
func LoginMessage(address, nonce string, expiresAt time.Time) string {
	var b strings.Builder
	b.WriteString("Welcome to D4L!\n\n")
	b.WriteString("Sign this message to authenticate your wallet.\n\n")
	b.WriteString("Wallet: " + address + "\n")
	b.WriteString("Nonce: " + nonce + "\n")
	b.WriteString("Expires: " + expiresAt.UTC().Format(time.RFC3339))
	return b.String()
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message.
func RecoverSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", ErrMalformedSignature
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return "", ErrMalformedSignature
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func VerifyWalletSignature(address, message, signature string) error {
	signer, err := RecoverSigner(message, signature)
	if err != nil {
		return err
	}
	if !SameAddress(signer, address) {
		return ErrSignerMismatch
	}
	return nil
}

// SignatureFingerprint is the value embedded in session tokens; the raw
// signature never leaves the login handler.
func SignatureFingerprint(signature string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(signature))))
	return hex.EncodeToString(sum[:16])
}
