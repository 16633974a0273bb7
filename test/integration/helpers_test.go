package integration

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/config"
	"github.com/d4l-network/d4l-gateway/internal/database"
	"github.com/d4l-network/d4l-gateway/internal/health"
	"github.com/d4l-network/d4l-gateway/internal/http/handler"
	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/http/router"
	"github.com/d4l-network/d4l-gateway/internal/merkle"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/rpcproxy"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

const (
	testJWTSecret = "integration-secret-0123456789abcdef"
	testAdminKey  = "integration-admin-key"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

// fakeChain stands in for the contract facade. It keeps registration, profile
// and claim flags per address and records every write in order.
type fakeChain struct {
	mu         sync.Mutex
	registered map[common.Address]bool
	profiles   map[common.Address]bool
	claimed    map[common.Address]bool
	writes     []string
	seq        atomic.Uint64
	down       atomic.Bool
	writeDelay time.Duration
	// receiptLost makes writes broadcast without a receipt showing up.
	receiptLost atomic.Bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		registered: map[common.Address]bool{},
		profiles:   map[common.Address]bool{},
		claimed:    map[common.Address]bool{},
	}
}

func (c *fakeChain) networkError(name chain.ContractName, fn string) error {
	return &chain.ContractError{Kind: chain.KindNetwork, Contract: name, Function: fn, Err: fmt.Errorf("dial tcp: connection refused")}
}

func (c *fakeChain) Read(_ context.Context, name chain.ContractName, fn string, args ...any) chain.Result {
	if c.down.Load() {
		return chain.Result{Err: c.networkError(name, fn)}
	}
	var account common.Address
	if len(args) > 0 {
		account, _ = args[0].(common.Address)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch fn {
	case "isRegistered":
		return chain.Result{Values: []any{c.registered[account]}}
	case "hasProfile":
		return chain.Result{Values: []any{c.profiles[account]}}
	case "hasClaimed":
		return chain.Result{Values: []any{c.claimed[account]}}
	default:
		return chain.Result{Err: &chain.ContractError{Kind: chain.KindFunctionUnavailable, Contract: name, Function: fn}}
	}
}

func (c *fakeChain) Write(ctx context.Context, name chain.ContractName, fn string, args ...any) (*chain.WriteResult, error) {
	if c.down.Load() {
		return nil, c.networkError(name, fn)
	}
	if c.writeDelay > 0 {
		select {
		case <-time.After(c.writeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch fn {
	case "batchRegister":
		for _, a := range args[0].([]common.Address) {
			c.registered[a] = true
		}
	case "mintProfile":
		c.profiles[args[0].(common.Address)] = true
	case "claimFor":
		account := args[0].(common.Address)
		if c.claimed[account] {
			return nil, &chain.ContractError{Kind: chain.KindReverted, Contract: name, Function: fn, Reason: "already claimed"}
		}
		c.claimed[account] = true
	}
	c.writes = append(c.writes, fn)
	n := c.seq.Add(1)
	chain.MarkSubmitted(ctx)
	hash := common.BigToHash(new(big.Int).SetUint64(n))
	if c.receiptLost.Load() {
		return &chain.WriteResult{Hash: hash}, &chain.ContractError{
			Kind: chain.KindNetwork, Contract: name, Function: fn,
			Err: fmt.Errorf("%w: %w", chain.ErrTxPending, chain.ErrReceiptTimeout),
		}
	}
	return &chain.WriteResult{Hash: hash, BlockNumber: 100 + n, GasUsed: 21000}, nil
}

func (c *fakeChain) Receipt(context.Context, common.Hash) (*types.Receipt, error) {
	if c.receiptLost.Load() {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}, nil
}

func (c *fakeChain) ChainID() int64 { return 11155111 }

func (c *fakeChain) Ping(context.Context) error {
	if c.down.Load() {
		return fmt.Errorf("dial rpc: connection refused")
	}
	return nil
}

func (c *fakeChain) Address(name chain.ContractName) (common.Address, error) {
	return common.BytesToAddress([]byte(name)), nil
}

func (c *fakeChain) Relayer() (common.Address, bool) { return common.Address{}, false }

func (c *fakeChain) writeCount(fn string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if w == fn {
			n++
		}
	}
	return n
}

type authTestServerOptions struct {
	chain       *fakeChain
	allowlist   []merkle.Entry
	rpcUpstream http.Handler
	// readiness wires the database and chain probes into /health/ready.
	readiness bool
}

type testGateway struct {
	BaseURL    string
	Client     *http.Client
	Chain      *fakeChain
	Reconciler *service.Reconciler
	Claims     repository.ClaimRepository
	close      func()
}

func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()
	gw := newTestGateway(t, authTestServerOptions{})
	return gw.BaseURL, gw.Client, gw.close
}

func newTestGateway(t *testing.T, opts authTestServerOptions) *testGateway {
	t.Helper()
	if opts.chain == nil {
		opts.chain = newFakeChain()
	}
	if opts.rpcUpstream == nil {
		opts.rpcUpstream = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ID any `json:"id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0xaa36a7"})
		})
	}
	upstream := httptest.NewServer(opts.rpcUpstream)

	cfg := &config.Config{
		DBDriver:    "sqlite",
		DatabaseURL: fmt.Sprintf("file:itest_%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listCache := service.NewInMemoryAdminListCacheStore()
	profileRepo := repository.NewProfileRepository(db)
	claimRepo := repository.NewClaimRepository(db)

	jwtMgr := security.NewJWTManager("d4l-gateway", "d4l-dapp", testJWTSecret)
	auth := service.NewAuthService(service.NewInMemoryNonceStore(), repository.NewSessionRepository(db), service.NewInMemorySessionStateCache(), jwtMgr, 10*time.Minute, 24*time.Hour)
	relay := service.NewRelayService(opts.chain, profileRepo, 18, logger)

	var tree *merkle.Tree
	if len(opts.allowlist) > 0 {
		tree, err = merkle.New(opts.allowlist)
		if err != nil {
			t.Fatalf("merkle tree: %v", err)
		}
	}
	merkleSvc := service.NewMerkleService(tree)
	claims := service.NewClaimService(relay, claimRepo, profileRepo, merkleSvc, listCache, logger)
	reconciler := service.NewReconciler(relay, claimRepo, profileRepo, service.NewInMemoryClaimLocker(), listCache, service.ReconcilerOptions{
		Interval:    time.Hour,
		BatchSize:   20,
		MaxAttempts: 3,
		Concurrency: 4,
		LockTTL:     time.Minute,
	}, logger)
	analytics := service.NewAnalyticsService(repository.NewAnalyticsRepository(db), listCache, 64, logger)

	var readiness *health.ProbeRunner
	if opts.readiness {
		readiness = health.NewProbeRunner(time.Second, 0, health.DBChecker(db), health.ChainChecker(opts.chain))
	}

	idem := middleware.NewIdempotencyMiddleware(service.NewInMemoryIdempotencyStore(), time.Hour)
	h := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(auth, security.CookieOptions{}),
		RPCHandler:         handler.NewRPCHandler(rpcproxy.New(rpcproxy.Options{URL: upstream.URL, Timeout: 2 * time.Second, RPS: 1000, Burst: 1000})),
		TransactionHandler: handler.NewTransactionHandler(relay),
		ProfileHandler:     handler.NewProfileHandler(service.NewProfileService(profileRepo)),
		ClaimHandler:       handler.NewClaimHandler(claims),
		MerkleHandler:      handler.NewMerkleHandler(merkleSvc),
		AnalyticsHandler:   handler.NewAnalyticsHandler(analytics),
		AdminHandler:       handler.NewAdminHandler(claims, reconciler, analytics),
		ContractHandler:    handler.NewContractHandler(service.NewContractReader(opts.chain)),
		Sessions:           auth,
		JWTManager:         jwtMgr,
		AdminAPIKey:        testAdminKey,
		AuthRateLimitRPM:   10000,
		APIRateLimitRPM:    10000,
		Idempotency:        idem.Middleware,
		Readiness:          readiness,
	})
	srv := httptest.NewServer(h)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	gw := &testGateway{
		BaseURL:    srv.URL,
		Client:     &http.Client{Timeout: 10 * time.Second, Jar: jar},
		Chain:      opts.chain,
		Reconciler: reconciler,
		Claims:     claimRepo,
	}
	gw.close = func() {
		srv.Close()
		upstream.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	t.Cleanup(gw.close)
	return gw
}

// testWallet signs login challenges the way a browser wallet does.
type testWallet struct {
	key     *ecdsa.PrivateKey
	Address string
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testWallet{key: key, Address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w *testWallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type nonceChallenge struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

func requestNonce(t *testing.T, client *http.Client, baseURL, address string) nonceChallenge {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/auth/nonce", map[string]string{"address": address}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("nonce failed: status=%d env=%+v", resp.StatusCode, env.Error)
	}
	var ch nonceChallenge
	if err := json.Unmarshal(env.Data, &ch); err != nil {
		t.Fatalf("decode nonce: %v", err)
	}
	return ch
}

// loginWallet runs nonce then login and leaves the session cookie in the
// client's jar.
func loginWallet(t *testing.T, client *http.Client, baseURL string, w *testWallet) {
	t.Helper()
	ch := requestNonce(t, client, baseURL, w.Address)
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/auth/login", map[string]string{
		"address":   w.Address,
		"nonce":     ch.Nonce,
		"signature": w.sign(t, ch.Message),
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d env=%+v", resp.StatusCode, env.Error)
	}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Timeout: 10 * time.Second, Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	return doRaw(t, client, method, url, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, envelope) {
	t.Helper()
	resp, raw := doRawText(t, client, method, url, body, headers, cookies)
	var env envelope
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("decode envelope: %v body=%q", err, raw)
		}
	}
	return resp, env
}

func doRawText(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(raw)
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %s not found", name)
	return ""
}

func adminHeaders() map[string]string {
	return map[string]string{middleware.AdminKeyHeader: testAdminKey}
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v raw=%s", err, env.Data)
	}
}
