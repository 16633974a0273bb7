package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	reconcileConfirmed = "confirmed"
	reconcileFailed    = "failed"
	reconcileRetried   = "retried"
	reconcileSkipped   = "skipped"
	reconcileError     = "error"
)

type ReconcilerOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Concurrency int64
	LockTTL     time.Duration
}

type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func (r *ReconcileReport) add(outcome string) {
	switch outcome {
	case reconcileConfirmed:
		r.Confirmed++
	case reconcileFailed:
		r.Failed++
	case reconcileRetried:
		r.Retried++
	case reconcileSkipped:
		r.Skipped++
	default:
		r.Errors++
	}
}

// Reconciler drains pending claim requests by replaying them through the
// relay. Each address is worked by at most one goroutine in this process and,
// through the locker, one process in the deployment.
type Reconciler struct {
	relay     ClaimRelayer
	claims    repository.ClaimRepository
	profiles  repository.ProfileRepository
	locker    ClaimLocker
	listCache AdminListCacheStore
	opts      ReconcilerOptions
	logger    *slog.Logger
	flight    singleflight.Group
	now       func() time.Time
}

func NewReconciler(relay ClaimRelayer, claims repository.ClaimRepository, profiles repository.ProfileRepository, locker ClaimLocker, listCache AdminListCacheStore, opts ReconcilerOptions, logger *slog.Logger) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if locker == nil {
		locker = NewInMemoryClaimLocker()
	}
	if listCache == nil {
		listCache = NewNoopAdminListCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		relay:     relay,
		claims:    claims,
		profiles:  profiles,
		locker:    locker,
		listCache: listCache,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs a pass immediately and then on every interval until ctx ends.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "claim reconciler started", "interval", r.opts.Interval.String(), "batch_size", r.opts.BatchSize)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "claim reconcile pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("claim reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	ctx, span := observability.StartSpan(ctx, "reconciler.run_once")
	defer span.End()

	var report ReconcileReport
	pending, err := r.claims.ListPending(ctx, r.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list pending claims: %w", err)
	}
	report.Scanned = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(r.opts.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		req := pending[i]
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			v, _, _ := r.flight.Do(req.Address, func() (any, error) {
				return r.process(gctx, req), nil
			})
			outcome := v.(string)
			observability.RecordReconcileOutcome(gctx, outcome)
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if report.Confirmed+report.Failed+report.Retried > 0 {
		_ = r.listCache.InvalidateNamespace(ctx, adminCacheNamespaceClaims)
	}
	r.logger.InfoContext(ctx, "claim reconcile pass finished",
		"scanned", report.Scanned,
		"confirmed", report.Confirmed,
		"failed", report.Failed,
		"retried", report.Retried,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, ctx.Err()
}

func (r *Reconciler) process(ctx context.Context, req domain.ClaimRequest) string {
	release, ok, err := r.locker.Acquire(ctx, req.Address, r.opts.LockTTL)
	if err != nil {
		r.logger.WarnContext(ctx, "claim lock unavailable", "claim_request_id", req.ID, "error", err)
		return reconcileError
	}
	if !ok {
		return reconcileSkipped
	}
	defer release(context.WithoutCancel(ctx))

	account := common.HexToAddress(req.Address)
	if claimed, ok := r.relay.HasClaimed(ctx, account); ok && claimed {
		return r.confirm(ctx, req, req.TransactionHash)
	}

	if req.TransactionHash != "" {
		if outcome, settled := r.settleSubmitted(ctx, req); settled {
			return outcome
		}
	}

	amount, err := chain.ParseBaseUnits(req.Amount)
	if err != nil {
		return r.fail(ctx, req, "invalid stored amount")
	}
	proof, err := parseProof(req.MerkleProof)
	if err != nil {
		return r.fail(ctx, req, "invalid stored merkle proof")
	}

	res, err := r.relay.ClaimFor(ctx, account, amount, proof)
	if err == nil && res.Status == RelayStatusSubmitted {
		return r.retry(ctx, req, res.TransactionHash, relaySubmittedMessage)
	}
	if err == nil {
		return r.confirm(ctx, req, res.TransactionHash)
	}
	if ctx.Err() != nil {
		return reconcileSkipped
	}
	// Only a proven revert is final; refusals before mining are retried.
	if kind, ok := chain.KindOf(err); ok && kind == chain.KindReverted {
		return r.fail(ctx, req, truncate(err.Error(), 1024))
	}
	return r.retry(ctx, req, "", truncate(err.Error(), 1024))
}

// settleSubmitted resolves a request whose transaction was already broadcast.
// settled is false when the transaction is gone and the claim should be sent
// again.
func (r *Reconciler) settleSubmitted(ctx context.Context, req domain.ClaimRequest) (string, bool) {
	mined, succeeded, err := r.relay.TransactionOutcome(ctx, req.TransactionHash)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "claim receipt lookup failed", "claim_request_id", req.ID, "tx_hash", req.TransactionHash, "error", err)
		return reconcileError, true
	case mined && succeeded:
		return r.confirm(ctx, req, req.TransactionHash), true
	case mined:
		return r.fail(ctx, req, "transaction "+req.TransactionHash+" reverted"), true
	}
	if req.Attempts < r.opts.MaxAttempts-1 {
		return r.retry(ctx, req, "", "awaiting receipt for "+req.TransactionHash), true
	}
	// The transaction never landed; fall through to a fresh submission.
	return "", false
}

func (r *Reconciler) retry(ctx context.Context, req domain.ClaimRequest, txHash, reason string) string {
	updated, err := r.claims.RecordAttempt(ctx, req.ID, txHash, reason)
	if err != nil {
		return r.settleError(ctx, req, err)
	}
	if updated.Attempts >= r.opts.MaxAttempts {
		return r.fail(ctx, req, fmt.Sprintf("gave up after %d attempts: %s", updated.Attempts, truncate(reason, 900)))
	}
	r.logger.WarnContext(ctx, "claim replay not settled, will retry",
		"claim_request_id", req.ID, "address", req.Address, "attempts", updated.Attempts, "reason", reason)
	return reconcileRetried
}

func (r *Reconciler) confirm(ctx context.Context, req domain.ClaimRequest, txHash string) string {
	if err := r.claims.MarkConfirmed(ctx, req.ID, txHash); err != nil {
		return r.settleError(ctx, req, err)
	}
	if err := markProfileClaimed(ctx, r.profiles, req.Address, r.now().UTC()); err != nil {
		r.logger.WarnContext(ctx, "mark profile claimed failed", "address", req.Address, "error", err)
	}
	observability.AuditBackground(ctx, "claim.reconciled", "claim_request_id", req.ID, "address", req.Address, "tx_hash", txHash)
	return reconcileConfirmed
}

func (r *Reconciler) fail(ctx context.Context, req domain.ClaimRequest, reason string) string {
	if err := r.claims.MarkFailed(ctx, req.ID, reason); err != nil {
		return r.settleError(ctx, req, err)
	}
	r.logger.WarnContext(ctx, "claim request failed", "claim_request_id", req.ID, "address", req.Address, "reason", reason)
	observability.AuditBackground(ctx, "claim.failed", "claim_request_id", req.ID, "address", req.Address)
	return reconcileFailed
}

// settleError treats a request resolved elsewhere in the meantime as skipped.
func (r *Reconciler) settleError(ctx context.Context, req domain.ClaimRequest, err error) string {
	if errors.Is(err, repository.ErrClaimNotPending) {
		return reconcileSkipped
	}
	r.logger.ErrorContext(ctx, "claim request update failed", "claim_request_id", req.ID, "error", err)
	return reconcileError
}
