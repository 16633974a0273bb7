package chain

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestSignerAssignsDistinctNoncesUnderConcurrency(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingNonce = 7
	signer, err := NewSigner(backend, newTestKeyHex(t), 31337, time.Second, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := signer.Submit(context.Background(), TxRequest{To: common.HexToAddress("0x01")}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("submit: %v", err)
	}

	nonces := backend.sentNonces()
	if len(nonces) != n {
		t.Fatalf("expected %d broadcasts, got %d", n, len(nonces))
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		if nonce != uint64(7+i) {
			t.Fatalf("expected contiguous nonces from 7, got %v", nonces)
		}
	}
	if backend.nonceLookups != 1 {
		t.Fatalf("expected a single pending nonce lookup, got %d", backend.nonceLookups)
	}
}

func TestSignerResyncsNonceAfterBroadcastFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.pendingNonce = 3
	backend.sendErrOnce = errors.New("nonce too low")
	signer, err := NewSigner(backend, newTestKeyHex(t), 31337, time.Second, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	if _, err := signer.Submit(context.Background(), TxRequest{To: common.HexToAddress("0x01")}); err == nil {
		t.Fatal("expected first broadcast to fail")
	}
	backend.mu.Lock()
	backend.pendingNonce = 5
	backend.mu.Unlock()

	tx, err := signer.Submit(context.Background(), TxRequest{To: common.HexToAddress("0x01")})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if tx.Nonce() != 5 {
		t.Fatalf("expected resynced nonce 5, got %d", tx.Nonce())
	}
	if backend.nonceLookups != 2 {
		t.Fatalf("expected nonce resync, lookups=%d", backend.nonceLookups)
	}
}

func TestSignerSkipsCancelledJobsWithoutConsumingNonce(t *testing.T) {
	backend := newFakeBackend()
	signer, err := NewSigner(backend, newTestKeyHex(t), 31337, time.Second, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signer.Submit(ctx, TxRequest{To: common.HexToAddress("0x01")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	tx, err := signer.Submit(context.Background(), TxRequest{To: common.HexToAddress("0x01")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.Nonce() != 0 {
		t.Fatalf("expected nonce 0, got %d", tx.Nonce())
	}
}

func TestSignerRejectsAfterClose(t *testing.T) {
	signer, err := NewSigner(newFakeBackend(), newTestKeyHex(t), 31337, time.Second, nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	signer.Close()
	if _, err := signer.Submit(context.Background(), TxRequest{}); !errors.Is(err, ErrSignerClosed) {
		t.Fatalf("expected ErrSignerClosed, got %v", err)
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner(newFakeBackend(), "zz", 1, time.Second, nil); err == nil {
		t.Fatal("expected key parse error")
	}
}
