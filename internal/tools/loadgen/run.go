package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
	// AdminKey enables the admin routes in the mixed and admin profiles.
	AdminKey string
}

type Result struct {
	TotalRequests int64
	Failures      int64
	ByStatusClass map[string]int64
}

type step func(ctx context.Context, c *client, rng *rand.Rand) (int, error)

type client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

// Run drives synthetic traffic at the gateway until Duration elapses or ctx
// is cancelled. A request counts as a failure on transport errors and 5xx.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return Result{}, err
	}
	steps, err := profileSteps(cfg.Profile, cfg.AdminKey != "")
	if err != nil {
		return Result{}, err
	}
	c := &client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		adminKey: cfg.AdminKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	var (
		total    atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
		classes  = map[string]int64{}
	)

	g, gctx := errgroup.WithContext(runCtx)
	for worker := 0; worker < cfg.Concurrency; worker++ {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(worker)))
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				s := steps[rng.IntN(len(steps))]
				status, err := s(gctx, c, rng)
				if gctx.Err() != nil {
					return nil
				}
				total.Add(1)
				class := classifyStatusClass(status)
				if err != nil {
					class = "error"
				}
				if err != nil || status >= 500 {
					failures.Add(1)
				}
				mu.Lock()
				classes[class]++
				mu.Unlock()
			}
		})
	}
	_ = g.Wait()

	return Result{
		TotalRequests: total.Load(),
		Failures:      failures.Load(),
		ByStatusClass: classes,
	}, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return cfg, errors.New("base url is required")
	}
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return cfg, nil
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func profileSteps(profile string, withAdmin bool) ([]step, error) {
	public := []step{healthStep, proofStep, claimStatusStep, profileStep, analyticsStep}
	auth := []step{nonceStep, loginStep}
	admin := []step{adminClaimsStep, adminSummaryStep}
	switch profile {
	case "public":
		return public, nil
	case "auth":
		return auth, nil
	case "admin":
		if !withAdmin {
			return nil, errors.New("admin profile requires an admin key")
		}
		return admin, nil
	case "mixed":
		steps := append(append([]step{}, public...), auth...)
		if withAdmin {
			steps = append(steps, admin...)
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}

func (c *client) do(ctx context.Context, method, path string, body any, admin bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Api-Key", c.adminKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, payload, err
}

func randomAddress(rng *rand.Rand) string {
	b := make([]byte, 20)
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	return hexutil.Encode(b)
}

func healthStep(ctx context.Context, c *client, _ *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/health/ready", nil, false)
	return status, err
}

func proofStep(ctx context.Context, c *client, rng *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/api/merkle/proof?address="+randomAddress(rng), nil, false)
	return status, err
}

func claimStatusStep(ctx context.Context, c *client, rng *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/api/claim/status?address="+randomAddress(rng), nil, false)
	return status, err
}

func profileStep(ctx context.Context, c *client, rng *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/api/fallback/profile?address="+randomAddress(rng), nil, false)
	return status, err
}

func analyticsStep(ctx context.Context, c *client, rng *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/api/analytics/event", map[string]any{
		"sessionId": fmt.Sprintf("loadgen-%d", rng.IntN(64)),
		"eventType": "page_view",
		"path":      "/airdrop",
	}, false)
	return status, err
}

func nonceStep(ctx context.Context, c *client, rng *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodPost, "/api/auth/nonce", map[string]string{"address": randomAddress(rng)}, false)
	return status, err
}

// loginStep signs in with a throwaway wallet, exercising nonce issue,
// signature recovery and session persistence end to end.
func loginStep(ctx context.Context, c *client, _ *rand.Rand) (int, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return 0, err
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	status, body, err := c.do(ctx, http.MethodPost, "/api/auth/nonce", map[string]string{"address": address}, false)
	if err != nil || status != http.StatusOK {
		return status, err
	}
	var env struct {
		Data struct {
			Nonce   string `json:"nonce"`
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return status, fmt.Errorf("decode nonce: %w", err)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(env.Data.Message)), key)
	if err != nil {
		return 0, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	status, _, err = c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"address":   address,
		"nonce":     env.Data.Nonce,
		"signature": hexutil.Encode(sig),
	}, false)
	return status, err
}

func adminClaimsStep(ctx context.Context, c *client, _ *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/api/admin/claims?page_size=10", nil, true)
	return status, err
}

func adminSummaryStep(ctx context.Context, c *client, _ *rand.Rand) (int, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/api/admin/analytics/summary?window=1h", nil, true)
	return status, err
}

