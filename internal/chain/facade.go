package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/observability"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"
)

var ErrInvalidArguments = errors.New("invalid contract call arguments")

// Result is the outcome of a read. Unsupported distinguishes "the contract
// does not have this function" from a call that ran and failed.
type Result struct {
	Values []any
	Err    error
}

func (r Result) Unsupported() bool { return IsFunctionUnavailable(r.Err) }

func (r Result) Bool() (bool, error) {
	if r.Err != nil {
		return false, r.Err
	}
	if len(r.Values) == 0 {
		return false, fmt.Errorf("%w: empty result", ErrInvalidArguments)
	}
	v, ok := r.Values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type %T", r.Values[0])
	}
	return v, nil
}

func (r Result) BigInt() (*big.Int, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if len(r.Values) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrInvalidArguments)
	}
	v, ok := r.Values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", r.Values[0])
	}
	return v, nil
}

// TxSender submits signed transactions from the relayer account.
type TxSender interface {
	Submit(ctx context.Context, req TxRequest) (*types.Transaction, error)
	From() common.Address
}

type WriteResult struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

type FacadeOptions struct {
	ChainID        int64
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	CacheSize      int
	CacheTTL       time.Duration
}

// Facade is the typed entry point for contract reads and relayed writes.
type Facade struct {
	backend  Backend
	registry *Registry
	sender   TxSender
	opts     FacadeOptions
	cache    *readCache
	logger   *slog.Logger

	codeMu sync.Mutex
	code   map[common.Address][]byte
}

func NewFacade(backend Backend, registry *Registry, sender TxSender, opts FacadeOptions, logger *slog.Logger) (*Facade, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	cache, err := newReadCache(opts.CacheSize, opts.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &Facade{
		backend:  backend,
		registry: registry,
		sender:   sender,
		opts:     opts,
		cache:    cache,
		logger:   logger,
		code:     make(map[common.Address][]byte),
	}, nil
}

func (f *Facade) ChainID() int64 { return f.opts.ChainID }

func (f *Facade) CanWrite() bool { return f.sender != nil }

func (f *Facade) Relayer() (common.Address, bool) {
	if f.sender == nil {
		return common.Address{}, false
	}
	return f.sender.From(), true
}

func (f *Facade) Address(name ContractName) (common.Address, error) {
	return f.registry.Address(f.opts.ChainID, name)
}

func (f *Facade) Read(ctx context.Context, name ContractName, fn string, args ...any) Result {
	ctx, span := observability.StartSpan(ctx, "chain.read")
	span.SetAttributes(attribute.String("contract", string(name)), attribute.String("function", fn))
	defer span.End()

	values, err := f.read(ctx, name, fn, args)
	outcome := "success"
	if err != nil {
		outcome = readOutcome(err)
		span.RecordError(err)
	}
	observability.RecordChainRead(ctx, string(name), outcome)
	return Result{Values: values, Err: err}
}

func readOutcome(err error) string {
	if k, ok := KindOf(err); ok {
		return string(k)
	}
	if errors.Is(err, ErrInvalidArguments) {
		return "invalid_arguments"
	}
	return "error"
}

func (f *Facade) read(ctx context.Context, name ContractName, fn string, args []any) ([]any, error) {
	contractABI, method, err := lookupMethod(name, fn)
	if err != nil {
		return nil, err
	}
	if !method.IsConstant() {
		return nil, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "not a read-only function"}
	}
	addr, err := f.Address(name)
	if err != nil {
		return nil, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Err: err}
	}
	key := readCacheKey(name, fn, args)
	if values, ok := f.cache.get(key); ok {
		return values, nil
	}
	data, err := contractABI.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()
	out, err := f.backend.CallContract(callCtx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, f.classify(ctx, name, fn, addr, method.ID, err)
	}
	if len(out) == 0 && len(method.Outputs) > 0 {
		return nil, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "empty return data"}
	}
	values, err := contractABI.Unpack(fn, out)
	if err != nil {
		return nil, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "decode return data", Err: err}
	}
	f.cache.put(key, values)
	return values, nil
}

func lookupMethod(name ContractName, fn string) (abi.ABI, abi.Method, error) {
	contractABI, ok := ABIFor(name)
	if !ok {
		return abi.ABI{}, abi.Method{}, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "unknown contract"}
	}
	method, ok := contractABI.Methods[fn]
	if !ok {
		return abi.ABI{}, abi.Method{}, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "function not in abi"}
	}
	return contractABI, method, nil
}

// classify turns a call or submission error into a ContractError. A revert
// with no reason is attributed to a missing function when the selector is
// absent from the deployed bytecode.
func (f *Facade) classify(ctx context.Context, name ContractName, fn string, addr common.Address, selector []byte, err error) error {
	if isTransportError(err) {
		return &ContractError{Kind: KindNetwork, Contract: name, Function: fn, Err: err}
	}
	if reason, ok := revertReason(err); ok {
		return &ContractError{Kind: KindReverted, Contract: name, Function: fn, Reason: reason, Err: err}
	}
	code, codeErr := f.deployedCode(ctx, addr)
	switch {
	case codeErr != nil:
		f.logger.Debug("contract code lookup failed", "contract", name, "error", codeErr)
	case len(code) == 0:
		return &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "no contract code at address", Err: err}
	case !bytes.Contains(code, selector):
		return &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Reason: "selector not in deployed bytecode", Err: err}
	}
	return &ContractError{Kind: KindReverted, Contract: name, Function: fn, Err: err}
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || raw == "" {
		return "", false
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil || len(data) == 0 {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return raw, true
	}
	return reason, true
}

func (f *Facade) deployedCode(ctx context.Context, addr common.Address) ([]byte, error) {
	f.codeMu.Lock()
	code, ok := f.code[addr]
	f.codeMu.Unlock()
	if ok {
		return code, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()
	code, err := f.backend.CodeAt(callCtx, addr, nil)
	if err != nil {
		return nil, err
	}
	// Empty code is not cached so a later deployment is picked up.
	if len(code) > 0 {
		f.codeMu.Lock()
		f.code[addr] = code
		f.codeMu.Unlock()
	}
	return code, nil
}

// Write relays a state-changing call through the admin signer and waits for
// the receipt. A mined receipt with status 0 is reported as a revert. When the
// receipt does not arrive in time the result still carries the hash and the
// error wraps ErrTxPending.
func (f *Facade) Write(ctx context.Context, name ContractName, fn string, args ...any) (*WriteResult, error) {
	ctx, span := observability.StartSpan(ctx, "chain.write")
	span.SetAttributes(attribute.String("contract", string(name)), attribute.String("function", fn))
	defer span.End()

	if f.sender == nil {
		return nil, ErrSignerUnavailable
	}
	contractABI, _, err := lookupMethod(name, fn)
	if err != nil {
		return nil, err
	}
	addr, err := f.Address(name)
	if err != nil {
		return nil, &ContractError{Kind: KindFunctionUnavailable, Contract: name, Function: fn, Err: err}
	}
	data, err := contractABI.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	tx, err := f.sender.Submit(ctx, TxRequest{To: addr, Data: data})
	if err != nil {
		if errors.Is(err, ErrSignerClosed) {
			return nil, err
		}
		span.RecordError(err)
		return nil, classifySubmission(name, fn, err)
	}
	MarkSubmitted(ctx)
	f.cache.invalidate(name)
	span.SetAttributes(attribute.String("tx_hash", tx.Hash().Hex()))

	receipt, err := f.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return &WriteResult{Hash: tx.Hash()}, &ContractError{
			Kind:     KindNetwork,
			Contract: name,
			Function: fn,
			Reason:   "tx " + tx.Hash().Hex(),
			Err:      fmt.Errorf("%w: %w", ErrTxPending, err),
		}
	}
	result := &WriteResult{Hash: tx.Hash(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, &ContractError{Kind: KindReverted, Contract: name, Function: fn, Reason: "transaction " + tx.Hash().Hex() + " reverted"}
	}
	return result, nil
}

// classifySubmission maps a signer error. Only revert data from gas
// estimation proves a revert; every other refusal happened before mining and
// is retryable.
func classifySubmission(name ContractName, fn string, err error) error {
	if isTransportError(err) {
		return &ContractError{Kind: KindNetwork, Contract: name, Function: fn, Err: err}
	}
	if reason, ok := revertReason(err); ok {
		return &ContractError{Kind: KindReverted, Contract: name, Function: fn, Reason: reason, Err: err}
	}
	return &ContractError{Kind: KindSubmission, Contract: name, Function: fn, Err: err}
}

// Receipt does a single receipt lookup. It returns ethereum.NotFound while the
// transaction is not mined.
func (f *Facade) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()
	receipt, err := f.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// WaitReceipt polls for a receipt until it appears or the receipt timeout elapses.
func (f *Facade) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := f.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && !isTransportError(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrReceiptTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ping checks that the upstream node answers and serves the configured chain.
func (f *Facade) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.opts.CallTimeout)
	defer cancel()
	id, err := f.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if id.Int64() != f.opts.ChainID {
		return fmt.Errorf("rpc serves chain %s, expected %d", id.String(), f.opts.ChainID)
	}
	return nil
}

func hexArgs(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case common.Address:
			out[i] = t.Hex()
		case *big.Int:
			out[i] = t.String()
		case [32]byte:
			out[i] = hexutil.Encode(t[:])
		case []byte:
			out[i] = hexutil.Encode(t)
		case [][32]byte:
			hashes := make([]string, len(t))
			for j, h := range t {
				hashes[j] = hexutil.Encode(h[:])
			}
			out[i] = hashes
		case []common.Address:
			addrs := make([]string, len(t))
			for j, a := range t {
				addrs[j] = strings.ToLower(a.Hex())
			}
			out[i] = addrs
		default:
			out[i] = v
		}
	}
	return out
}

// JSONValues renders decoded values in a JSON-friendly form: addresses and
// hashes as hex, integers as decimal strings.
func (r Result) JSONValues() []any { return hexArgs(r.Values) }
