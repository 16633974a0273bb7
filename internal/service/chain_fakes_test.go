package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/d4l-network/d4l-gateway/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeGateway struct {
	mu        sync.Mutex
	reads     map[string]chain.Result
	writeErrs map[string]error
	// pending writes are broadcast but never see a receipt.
	pending  map[string]bool
	writes   []string
	onWrite  func(key string)
	receipts map[common.Hash]*types.Receipt
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		reads:     map[string]chain.Result{},
		writeErrs: map[string]error{},
		pending:   map[string]bool{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func gatewayKey(name chain.ContractName, fn string) string { return string(name) + "." + fn }

func (g *fakeGateway) setRead(name chain.ContractName, fn string, values ...any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads[gatewayKey(name, fn)] = chain.Result{Values: values}
}

func (g *fakeGateway) Read(_ context.Context, name chain.ContractName, fn string, _ ...any) chain.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.reads[gatewayKey(name, fn)]; ok {
		return r
	}
	return chain.Result{Err: &chain.ContractError{Kind: chain.KindFunctionUnavailable, Contract: name, Function: fn, Reason: "function not in abi"}}
}

func (g *fakeGateway) Write(ctx context.Context, name chain.ContractName, fn string, _ ...any) (*chain.WriteResult, error) {
	key := gatewayKey(name, fn)
	g.mu.Lock()
	if err, ok := g.writeErrs[key]; ok {
		g.mu.Unlock()
		return nil, err
	}
	g.writes = append(g.writes, key)
	n := len(g.writes)
	onWrite := g.onWrite
	pending := g.pending[key]
	g.mu.Unlock()
	chain.MarkSubmitted(ctx)
	if onWrite != nil {
		onWrite(key)
	}
	hash := common.BigToHash(big.NewInt(int64(n)))
	if pending {
		return &chain.WriteResult{Hash: hash}, &chain.ContractError{
			Kind: chain.KindNetwork, Contract: name, Function: fn,
			Err: fmt.Errorf("%w: %w", chain.ErrTxPending, chain.ErrReceiptTimeout),
		}
	}
	return &chain.WriteResult{Hash: hash, BlockNumber: uint64(100 + n), GasUsed: 21000}, nil
}

func (g *fakeGateway) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (g *fakeGateway) writeCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, w := range g.writes {
		if w == key {
			count++
		}
	}
	return count
}

type fakeClaimRelayer struct {
	mu          sync.Mutex
	claimed     map[common.Address]bool
	cannotRead  bool
	claimErr    error
	claimCalls  int
	lastProof   [][32]byte
	blockOnCall chan struct{}
	// submitOnly leaves claims broadcast without a receipt.
	submitOnly bool
	// mined maps a tx hash to its receipt success flag.
	mined map[string]bool
}

func newFakeClaimRelayer() *fakeClaimRelayer {
	return &fakeClaimRelayer{claimed: map[common.Address]bool{}, mined: map[string]bool{}}
}

func (f *fakeClaimRelayer) ClaimFor(_ context.Context, account common.Address, amount *big.Int, proof [][32]byte) (*RelayResult, error) {
	if f.blockOnCall != nil {
		<-f.blockOnCall
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	f.lastProof = proof
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	hash := fmt.Sprintf("0x%064x", f.claimCalls)
	if f.submitOnly {
		return &RelayResult{Action: ActionClaim, Status: RelayStatusSubmitted, TransactionHash: hash, Amount: amount.String()}, nil
	}
	f.claimed[account] = true
	return &RelayResult{
		Action:          ActionClaim,
		Status:          RelayStatusConfirmed,
		TransactionHash: hash,
		BlockNumber:     uint64(200 + f.claimCalls),
		Amount:          amount.String(),
	}, nil
}

func (f *fakeClaimRelayer) HasClaimed(_ context.Context, account common.Address) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cannotRead {
		return false, false
	}
	return f.claimed[account], true
}

func (f *fakeClaimRelayer) TransactionOutcome(_ context.Context, txHash string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok, mined := f.mined[txHash]
	return mined, ok, nil
}

func (f *fakeClaimRelayer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls
}

func networkErr(fn string) error {
	return &chain.ContractError{Kind: chain.KindNetwork, Contract: chain.ContractAirdrop, Function: fn, Err: context.DeadlineExceeded}
}

func refusedErr(fn, msg string) error {
	return &chain.ContractError{Kind: chain.KindSubmission, Contract: chain.ContractAirdrop, Function: fn, Err: errors.New(msg)}
}

func revertErr(fn, reason string) error {
	return &chain.ContractError{Kind: chain.KindReverted, Contract: chain.ContractAirdrop, Function: fn, Reason: reason}
}
