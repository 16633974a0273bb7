package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBackend struct {
	mu sync.Mutex

	code      map[common.Address][]byte
	calls     map[string]func(data []byte) ([]byte, error)
	callCount int

	pendingNonce   uint64
	nonceLookups   int
	sent           []*types.Transaction
	sendErrOnce    error
	estimateErr    error
	receiptStatus  uint64
	receiptMissing bool
	chainID        int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		code:          make(map[common.Address][]byte),
		calls:         make(map[string]func([]byte) ([]byte, error)),
		receiptStatus: types.ReceiptStatusSuccessful,
		chainID:       31337,
	}
}

// onCall registers a responder keyed by 4-byte selector.
func (b *fakeBackend) onCall(name ContractName, fn string, respond func(data []byte) ([]byte, error)) {
	a, _ := ABIFor(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[hex.EncodeToString(a.Methods[fn].ID)] = respond
}

func (b *fakeBackend) returns(t *testing.T, name ContractName, fn string, values ...any) {
	t.Helper()
	a, _ := ABIFor(name)
	out, err := a.Methods[fn].Outputs.Pack(values...)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	b.onCall(name, fn, func([]byte) ([]byte, error) { return out, nil })
}

func (b *fakeBackend) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[contract], nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	b.callCount++
	respond, ok := b.calls[hex.EncodeToString(call.Data[:4])]
	b.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return respond(call.Data)
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonceLookups++
	return b.pendingNonce, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 50_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErrOnce != nil {
		err := b.sendErrOnce
		b.sendErrOnce = nil
		return err
	}
	b.sent = append(b.sent, tx)
	b.pendingNonce = tx.Nonce() + 1
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiptMissing {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: b.receiptStatus, BlockNumber: big.NewInt(42), GasUsed: 21_000}, nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(b.chainID), nil }

func (b *fakeBackend) sentNonces() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, len(b.sent))
	for i, tx := range b.sent {
		out[i] = tx.Nonce()
	}
	return out
}

// rpcError mimics a JSON-RPC error object returned by a node.
type rpcError struct {
	code int
	msg  string
	data string
}

func (e rpcError) Error() string          { return e.msg }
func (e rpcError) ErrorCode() int         { return e.code }
func (e rpcError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("abi type: %v", err)
	}
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert: %v", err)
	}
	// Error(string) selector
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func newTestKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key))
}
