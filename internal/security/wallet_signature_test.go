package security

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func signPersonal(t *testing.T, message string) (address, signature string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestVerifyWalletSignatureRecoversSigner(t *testing.T) {
	msg := LoginMessage("0xabc", "n1", time.Unix(1700000000, 0))
	addr, sig := signPersonal(t, msg)

	if err := VerifyWalletSignature(addr, msg, sig); err != nil {
		t.Fatalf("verify checksum address: %v", err)
	}
	if err := VerifyWalletSignature(NormalizeAddress(addr), msg, sig); err != nil {
		t.Fatalf("verify lower-case address: %v", err)
	}
}

func TestVerifyWalletSignatureRejectsOtherAddressAndMessage(t *testing.T) {
	msg := LoginMessage("0xabc", "n1", time.Unix(1700000000, 0))
	_, sig := signPersonal(t, msg)

	err := VerifyWalletSignature("0x0000000000000000000000000000000000000001", msg, sig)
	if !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected signer mismatch, got %v", err)
	}
	addr, sig := signPersonal(t, msg)
	if err := VerifyWalletSignature(addr, msg+"tampered", sig); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected mismatch for tampered message, got %v", err)
	}
}

func TestRecoverSignerMalformed(t *testing.T) {
	for _, sig := range []string{"", "0x", "0x1234", "not-hex"} {
		if _, err := RecoverSigner("hello", sig); !errors.Is(err, ErrMalformedSignature) {
			t.Fatalf("expected malformed for %q, got %v", sig, err)
		}
	}
	bad := make([]byte, 65)
	bad[64] = 40
	if _, err := RecoverSigner("hello", hexutil.Encode(bad)); !errors.Is(err, ErrMalformedSignature) {
		t.Fatalf("expected malformed for bad recovery id, got %v", err)
	}
}

func TestLoginMessageDeterministic(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	a := LoginMessage("0xAbC", "nonce", exp)
	b := LoginMessage("0xAbC", "nonce", exp.UTC())
	if a != b {
		t.Fatalf("expected identical messages:\n%s\n%s", a, b)
	}
	want := "Welcome to D4L!\n\nSign this message to authenticate your wallet.\n\nWallet: 0xAbC\nNonce: nonce\nExpires: 2026-01-02T02:04:05Z"
	if a != want {
		t.Fatalf("unexpected message:\n%s", a)
	}
}

func TestIsAddress(t *testing.T) {
	cases := map[string]bool{
		"0x52908400098527886E0F7030069857D2E4169EE7": true,
		"0x52908400098527886e0f7030069857d2e4169ee7": true,
		"52908400098527886E0F7030069857D2E4169EE7":   false,
		"0x52908400098527886E0F7030069857D2E4169EE":  false,
		"0xZZ908400098527886E0F7030069857D2E4169EE7": false,
		"": false,
	}
	for in, want := range cases {
		if got := IsAddress(in); got != want {
			t.Fatalf("IsAddress(%q)=%v want %v", in, got, want)
		}
	}
}
