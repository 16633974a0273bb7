package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/security"
)

const walletKeyPrefix = "wallet:"

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
	Reason     string
}

// RateLimitPolicy combines a sliding request window with a token bucket that
// absorbs short bursts, such as a wallet connect followed by a burst of reads.
type RateLimitPolicy struct {
	SustainedLimit    int
	SustainedWindow   time.Duration
	BurstCapacity     int
	BurstRefillPerSec float64
}

// PerMinute is the policy used by the gateway routes: limit requests per
// minute with a bucket of the same size.
func PerMinute(limit int) RateLimitPolicy {
	return normalizePolicy(RateLimitPolicy{SustainedLimit: limit, SustainedWindow: time.Minute})
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

type RateLimiterOptions struct {
	// Limiter defaults to a per-process limiter.
	Limiter Limiter
	Policy  RateLimitPolicy
	Mode    FailureMode
	Scope   string
	Key     KeyFunc
	Bypass  BypassEvaluator
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	key     KeyFunc
	bypass  BypassEvaluator
}

func NewRateLimiter(opts RateLimiterOptions) *RateLimiter {
	rl := &RateLimiter{
		limiter: opts.Limiter,
		policy:  normalizePolicy(opts.Policy),
		mode:    opts.Mode,
		scope:   opts.Scope,
		key:     opts.Key,
		bypass:  opts.Bypass,
	}
	if rl.limiter == nil {
		rl.limiter = NewInMemoryLimiter()
	}
	if rl.mode == "" {
		rl.mode = FailClosed
	}
	if rl.scope == "" {
		rl.scope = "api"
	}
	if rl.key == nil {
		rl.key = clientIPKey
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.bypassed(r) {
				next.ServeHTTP(w, r)
				return
			}
			key := rl.key(r)
			if key == "" {
				key = clientIPKey(r)
			}
			keyType := rateLimitKeyType(key)

			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode), keyType)
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request", "scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				window := rl.policy.SustainedWindow
				observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, "backend", window)
				rl.deny(w, r, Decision{RetryAfter: window, ResetAt: time.Now().Add(window)})
				return
			}
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode), keyType)
				reason := decision.Reason
				if reason == "" {
					reason = "window"
				}
				observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, reason, decision.RetryAfter)
				rl.deny(w, r, decision)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode), keyType)
			writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, decision.Remaining, decision.ResetAt)
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) bypassed(r *http.Request) bool {
	if rl.bypass == nil {
		return false
	}
	ok, reason := rl.bypass(r)
	if !ok {
		return false
	}
	if reason == "" {
		reason = "unspecified"
	}
	observability.RecordRateLimitDecision(r.Context(), rl.scope, "bypass", string(rl.mode), "bypass")
	observability.RecordSecurityBypassEvent(r.Context(), reason, rl.scope)
	return true
}

func (rl *RateLimiter) deny(w http.ResponseWriter, r *http.Request, d Decision) {
	writeRateLimitHeaders(w.Header(), rl.policy.SustainedLimit, 0, d.ResetAt)
	w.Header().Set("Retry-After", retryAfterHeader(d.RetryAfter))
	response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
}

// WalletOrIPKey counts authenticated traffic per wallet and anonymous
// traffic per client IP.
func WalletOrIPKey(jwtMgr *security.JWTManager) KeyFunc {
	return func(r *http.Request) string {
		if jwtMgr == nil {
			return clientIPKey(r)
		}
		if address := requestSubject(r, jwtMgr); address != "" {
			return walletKeyPrefix + address
		}
		return clientIPKey(r)
	}
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
	hits       []time.Time
}

func (b *bucketState) refill(now time.Time, p RateLimitPolicy) {
	if !now.After(b.lastRefill) {
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(float64(p.BurstCapacity), b.tokens+elapsed*p.BurstRefillPerSec)
	b.lastRefill = now
}

func (b *bucketState) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := b.hits[:0]
	for _, hit := range b.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	b.hits = kept
}

type inMemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucketState
	nextSweep time.Time
}

// NewInMemoryLimiter keeps buckets in process memory. Each replica counts on
// its own, so use the Redis limiter when running more than one.
func NewInMemoryLimiter() Limiter {
	return &inMemoryLimiter{
		buckets:   make(map[string]*bucketState),
		nextSweep: time.Now().Add(time.Minute),
	}
}

func (l *inMemoryLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, policy.SustainedWindow)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucketState{tokens: float64(policy.BurstCapacity), lastRefill: now}
		l.buckets[key] = b
	}
	b.refill(now, policy)
	b.prune(now, policy.SustainedWindow)

	var bucketWait, windowWait time.Duration
	reason := ""
	if b.tokens < 1 {
		bucketWait = time.Duration(math.Ceil((1 - b.tokens) / policy.BurstRefillPerSec * float64(time.Second)))
		reason = "bucket"
	}
	if len(b.hits) >= policy.SustainedLimit {
		windowWait = max(b.hits[0].Add(policy.SustainedWindow).Sub(now), 0)
		if windowWait >= bucketWait {
			reason = "window"
		}
	}

	if bucketWait <= 0 && windowWait <= 0 {
		b.tokens = math.Max(b.tokens-1, 0)
		b.hits = append(b.hits, now)
		return Decision{
			Allowed:   true,
			Remaining: max(min(int(b.tokens), policy.SustainedLimit-len(b.hits)), 0),
			ResetAt:   b.hits[0].Add(policy.SustainedWindow),
		}, nil
	}

	wait := max(bucketWait, windowWait)
	if wait <= 0 {
		wait = time.Second
	}
	return Decision{RetryAfter: wait, ResetAt: now.Add(wait), Reason: reason}, nil
}

func (l *inMemoryLimiter) sweep(now time.Time, window time.Duration) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, b := range l.buckets {
		if len(b.hits) == 0 && now.Sub(b.lastRefill) > 2*window {
			delete(l.buckets, key)
		}
	}
	l.nextSweep = now.Add(window)
}

func clientIPKey(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(p RateLimitPolicy) RateLimitPolicy {
	if p.SustainedLimit <= 0 {
		p.SustainedLimit = 1
	}
	if p.SustainedWindow <= 0 {
		p.SustainedWindow = time.Minute
	}
	if p.BurstCapacity < p.SustainedLimit {
		p.BurstCapacity = p.SustainedLimit
	}
	if p.BurstRefillPerSec <= 0 {
		p.BurstRefillPerSec = float64(p.SustainedLimit) / p.SustainedWindow.Seconds()
	}
	return p
}

func rateLimitKeyType(key string) string {
	if strings.HasPrefix(key, walletKeyPrefix) {
		return "wallet"
	}
	return "ip"
}
