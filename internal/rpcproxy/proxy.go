package rpcproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/observability"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxUpstreamBody = 10 << 20

var (
	ErrMethodNotAllowed    = errors.New("rpc method not allowed")
	ErrInvalidParams       = errors.New("rpc params must be a JSON array")
	ErrThrottled           = errors.New("rpc proxy throttled")
	ErrUpstreamUnavailable = errors.New("rpc upstream unavailable")
)

// AllowedMethods are the read-only calls clients may forward.
var AllowedMethods = []string{
	"eth_blockNumber",
	"eth_chainId",
	"eth_getBalance",
	"eth_call",
	"eth_getLogs",
	"eth_getTransactionReceipt",
	"eth_getTransactionByHash",
	"eth_getBlockByNumber",
	"eth_getCode",
	"eth_estimateGas",
	"eth_gasPrice",
	"net_version",
}

type Options struct {
	URL     string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

type Proxy struct {
	url     string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	allowed map[string]struct{}
}

func New(opts Options) *Proxy {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	allowed := make(map[string]struct{}, len(AllowedMethods))
	for _, m := range AllowedMethods {
		allowed[m] = struct{}{}
	}
	return &Proxy{
		url:     opts.URL,
		timeout: opts.Timeout,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter: rate.NewLimiter(limit, opts.Burst),
		allowed: allowed,
	}
}

func (p *Proxy) Allowed(method string) bool {
	_, ok := p.allowed[method]
	return ok
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Forward sends one JSON-RPC request upstream and returns the provider's raw
// response document.
func (p *Proxy) Forward(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if !p.Allowed(method) {
		observability.RecordRPCProxy(ctx, method, "forbidden")
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
	}
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("[]")
	}
	if trimmed[0] != '[' {
		return nil, ErrInvalidParams
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		observability.RecordRPCProxy(ctx, method, "throttled")
		return nil, ErrThrottled
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: trimmed})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		observability.RecordRPCProxy(ctx, method, "unavailable")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		observability.RecordRPCProxy(ctx, method, "unavailable")
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		observability.RecordRPCProxy(ctx, method, "unavailable")
		return nil, fmt.Errorf("%w: upstream status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if !json.Valid(raw) {
		observability.RecordRPCProxy(ctx, method, "unavailable")
		return nil, fmt.Errorf("%w: upstream returned invalid json", ErrUpstreamUnavailable)
	}
	observability.RecordRPCProxy(ctx, method, "success")
	return raw, nil
}
