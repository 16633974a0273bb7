package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

type signJob struct {
	ctx   context.Context
	req   TxRequest
	reply chan signResult
}

type signResult struct {
	tx  *types.Transaction
	err error
}

// Signer owns the relayer key and its nonce. A single goroutine assigns
// nonces, signs and broadcasts, so concurrent callers never share a nonce.
// Waiting for receipts happens outside the worker.
type Signer struct {
	backend     Backend
	key         *ecdsa.PrivateKey
	from        common.Address
	signer      types.Signer
	sendTimeout time.Duration
	logger      *slog.Logger

	jobs      chan signJob
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// owned by the worker goroutine
	nonce  uint64
	synced bool
}

func NewSigner(backend Backend, hexKey string, chainID int64, sendTimeout time.Duration, logger *slog.Logger) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse admin private key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	s := &Signer{
		backend:     backend,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		signer:      types.LatestSignerForChainID(big.NewInt(chainID)),
		sendTimeout: sendTimeout,
		logger:      logger,
		jobs:        make(chan signJob),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *Signer) From() common.Address { return s.from }

// Submit queues req and blocks until the worker has broadcast it. Once a job
// is accepted the caller always receives its outcome, even if ctx ends, so a
// broadcast transaction is never lost.
func (s *Signer) Submit(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	job := signJob{ctx: ctx, req: req, reply: make(chan signResult, 1)}
	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, ErrSignerClosed
	}
	res := <-job.reply
	return res.tx, res.err
}

func (s *Signer) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

func (s *Signer) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case job := <-s.jobs:
			tx, err := s.process(job)
			job.reply <- signResult{tx: tx, err: err}
		}
	}
}

func (s *Signer) process(job signJob) (*types.Transaction, error) {
	if err := job.ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), s.sendTimeout)
	defer cancel()

	if !s.synced {
		n, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
		s.nonce = n
		s.synced = true
	}

	value := job.req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := job.req.To
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: job.req.Data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	unsigned, err := s.buildTx(ctx, to, value, gas, job.req.Data)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(unsigned, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		// The node may have seen a nonce we did not; resync before the next job.
		s.synced = false
		s.logger.Warn("relay broadcast failed", "nonce", signed.Nonce(), "error", err)
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	s.nonce++
	s.logger.Info("relay transaction broadcast", "tx_hash", signed.Hash().Hex(), "nonce", signed.Nonce(), "to", to.Hex())
	return signed, nil
}

func (s *Signer) buildTx(ctx context.Context, to common.Address, value *big.Int, gas uint64, data []byte) (*types.Transaction, error) {
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if head.BaseFee == nil {
		price, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{Nonce: s.nonce, GasPrice: price, Gas: gas, To: &to, Value: value, Data: data}), nil
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	chainID := s.signer.ChainID()
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     s.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}
