package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/ethereum/go-ethereum/rpc"
)

type ErrorKind string

const (
	// KindFunctionUnavailable means the deployed contract does not expose the
	// function, the ABI does not know it, or there is no code at the address.
	KindFunctionUnavailable ErrorKind = "function_unavailable"
	KindReverted            ErrorKind = "reverted"
	KindNetwork             ErrorKind = "network_error"
	// KindSubmission means the node refused the transaction before it was
	// mined, for example insufficient funds or a stale nonce. It is retryable.
	KindSubmission ErrorKind = "submission_failed"
)

var (
	ErrContractNotConfigured = errors.New("contract address not configured for chain")
	ErrSignerUnavailable     = errors.New("admin signer not configured")
	ErrSignerClosed          = errors.New("admin signer stopped")
	ErrReceiptTimeout        = errors.New("timed out waiting for transaction receipt")
	// ErrTxPending is returned together with a WriteResult when the
	// transaction was broadcast but its receipt did not arrive in time.
	ErrTxPending = errors.New("transaction submitted, receipt pending")
)

type ContractError struct {
	Kind     ErrorKind
	Contract ContractName
	Function string
	Reason   string
	Err      error
}

func (e *ContractError) Error() string {
	msg := fmt.Sprintf("%s.%s: %s", e.Contract, e.Function, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContractError) Unwrap() error { return e.Err }

func KindOf(err error) (ErrorKind, bool) {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func IsFunctionUnavailable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindFunctionUnavailable
}

// IsUnavailable reports whether err means the chain could not be reached in
// time, as opposed to the chain rejecting the call.
func IsUnavailable(err error) bool {
	if k, ok := KindOf(err); ok {
		return k == KindNetwork
	}
	return isTransportError(err)
}

// isTransportError separates failures to talk to the node from errors the node
// returned. A JSON-RPC error object means the node processed the request.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrReceiptTimeout) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
