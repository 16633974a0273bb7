package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Profile  string
	HTTPAddr string

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	DBDriver      string
	DatabaseURL   string
	DBAutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AuthNonceTTL   time.Duration
	AuthSessionTTL time.Duration
	CookieSecure   bool
	CookieDomain   string
	CORSOrigins    []string

	AuthRateLimitRPM int
	APIRateLimitRPM  int
	RateLimitMode    string

	RPCURL           string
	RPCTimeout       time.Duration
	RPCProxyRPS      float64
	RPCProxyBurst    int
	ChainID          int64
	ChainCallTimeout time.Duration
	TxReceiptTimeout time.Duration
	TxPollInterval   time.Duration
	TokenDecimals    int32
	AdminPrivateKey  string
	AdminAPIKey      string

	UseInMemoryCache bool
	ReadCacheSize    int
	ReadCacheTTL     time.Duration

	MerkleAllowlistPath string

	ReconcileEnabled     bool
	ReconcileInterval    time.Duration
	ReconcileBatchSize   int
	ReconcileMaxAttempts int
	ReconcileConcurrency int64
	ReconcileLockTTL     time.Duration

	AnalyticsBufferSize int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	LogLevel                  string
	EnableOTelHTTP            bool
}

// Load reads the process environment, optionally seeded from a .env file, and
// validates the result. Values already present in the environment win over the file.
func Load() (*Config, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	cfg, err := load()
	if err != nil {
		recordConfigLoad(context.Background(), os.Getenv("APP_ENV"), err)
		return nil, err
	}
	recordConfigLoad(context.Background(), cfg.Profile, nil)
	return cfg, nil
}

func load() (*Config, error) {
	var errs []error
	p := &parser{errs: &errs}

	cfg := &Config{
		Profile:  strings.ToLower(getEnv("APP_ENV", "development")),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),

		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL:   databaseURL(),
		DBAutoMigrate: p.bool("DB_AUTO_MIGRATE", false),

		RedisAddr:     redisAddr(),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       p.int("REDIS_DB", 0),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "d4l-gateway"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "d4l-dapp"),
		AuthNonceTTL:   p.duration("AUTH_NONCE_TTL", 10*time.Minute),
		AuthSessionTTL: p.duration("AUTH_SESSION_TTL", 7*24*time.Hour),
		CookieSecure:   p.bool("COOKIE_SECURE", false),
		CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		AuthRateLimitRPM: p.int("AUTH_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:  p.int("API_RATE_LIMIT_RPM", 300),
		RateLimitMode:    strings.ToLower(getEnv("RATE_LIMIT_REDIS_FAILURE_MODE", "fail_closed")),

		RPCURL:           getEnv("RPC_URL", getEnv("NEXT_PUBLIC_RPC_URL", "")),
		RPCTimeout:       p.duration("RPC_TIMEOUT", 10*time.Second),
		RPCProxyRPS:      p.float("RPC_PROXY_RPS", 25),
		RPCProxyBurst:    p.int("RPC_PROXY_BURST", 50),
		ChainID:          p.int64("CHAIN_ID", 11155111),
		ChainCallTimeout: p.duration("CHAIN_CALL_TIMEOUT", 15*time.Second),
		TxReceiptTimeout: p.duration("TX_RECEIPT_TIMEOUT", 2*time.Minute),
		TxPollInterval:   p.duration("TX_POLL_INTERVAL", 2*time.Second),
		TokenDecimals:    int32(p.int("TOKEN_DECIMALS", 18)),
		AdminPrivateKey:  strings.TrimPrefix(getEnv("ADMIN_PRIVATE_KEY", ""), "0x"),
		AdminAPIKey:      getEnv("ADMIN_API_KEY", ""),

		UseInMemoryCache: p.bool("USE_IN_MEMORY_CACHE", p.bool("NEXT_PUBLIC_USE_IN_MEMORY_CACHE", true)),
		ReadCacheSize:    p.int("READ_CACHE_SIZE", 1024),
		ReadCacheTTL:     p.duration("READ_CACHE_TTL", 15*time.Second),

		MerkleAllowlistPath: getEnv("MERKLE_ALLOWLIST_PATH", ""),

		ReconcileEnabled:     p.bool("RECONCILE_ENABLED", true),
		ReconcileInterval:    p.duration("RECONCILE_INTERVAL", time.Minute),
		ReconcileBatchSize:   p.int("RECONCILE_BATCH_SIZE", 25),
		ReconcileMaxAttempts: p.int("RECONCILE_MAX_ATTEMPTS", 5),
		ReconcileConcurrency: int64(p.int("RECONCILE_CONCURRENCY", 4)),
		ReconcileLockTTL:     p.duration("RECONCILE_LOCK_TTL", 5*time.Minute),

		AnalyticsBufferSize: p.int("ANALYTICS_BUFFER_SIZE", 1024),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "d4l-gateway"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSamplingRatio:    p.float("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		EnableOTelHTTP:            p.bool("OTEL_HTTP_ENABLED", true),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		problems = append(problems, "DB_DRIVER must be postgres or sqlite")
	}
	if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 characters")
	}
	if c.RPCURL == "" {
		problems = append(problems, "RPC_URL is required")
	} else if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "RPC_URL must be an absolute URL")
	}
	if c.ChainID <= 0 {
		problems = append(problems, "CHAIN_ID must be positive")
	}
	if c.RateLimitMode != "fail_open" && c.RateLimitMode != "fail_closed" {
		problems = append(problems, "RATE_LIMIT_REDIS_FAILURE_MODE must be fail_open or fail_closed")
	}
	if c.ReconcileBatchSize <= 0 || c.ReconcileMaxAttempts <= 0 || c.ReconcileConcurrency <= 0 {
		problems = append(problems, "RECONCILE_* sizes must be positive")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		problems = append(problems, "OTEL_TRACE_SAMPLING_RATIO must be within [0,1]")
	}
	if c.IsProduction() {
		if c.AdminAPIKey == "" {
			problems = append(problems, "ADMIN_API_KEY is required in production")
		}
		if c.AdminPrivateKey == "" {
			problems = append(problems, "ADMIN_PRIVATE_KEY is required in production")
		}
		if !c.CookieSecure {
			problems = append(problems, "COOKIE_SECURE must be true in production")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Profile == "production" || c.Profile == "prod" }

func databaseURL() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("DB_USER", "postgres"), os.Getenv("DB_PASSWORD")),
		Host:   host + ":" + getEnv("DB_PORT", "5432"),
		Path:   "/" + getEnv("DB_NAME", "d4l"),
	}
	q := u.Query()
	q.Set("sslmode", getEnv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func redisAddr() string {
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		return v
	}
	if raw := strings.TrimSpace(os.Getenv("REDIS_URL")); raw != "" {
		if u, err := url.Parse(raw); err == nil {
			return u.Host
		}
	}
	return ""
}

type parser struct{ errs *[]error }

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%w %s: %w", errParse, key, err))
		return def
	}
	return v
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%w %s: %w", errParse, key, err))
		return def
	}
	return v
}

func (p *parser) int64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%w %s: %w", errParse, key, err))
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%w %s: %w", errParse, key, err))
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%w %s: %w", errParse, key, err))
		return def
	}
	return v
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
