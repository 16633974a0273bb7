package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "d4l-gateway"

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authNonceCounter       metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	tokenValidationCounter metric.Int64Counter
	rpcProxyCounter        metric.Int64Counter
	relayCounter           metric.Int64Counter
	relayConfirmHistogram  metric.Float64Histogram
	chainReadCounter       metric.Int64Counter
	fallbackCounter        metric.Int64Counter
	reconcileCounter       metric.Int64Counter
	analyticsCounter       metric.Int64Counter
	repositoryCounter      metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
	rateLimitRetryAfter    metric.Float64Histogram
	bypassCounter          metric.Int64Counter
	idempotencyCounter     metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.authLoginCounter, "auth.login.attempts"},
		{&m.authNonceCounter, "auth.nonce.issued"},
		{&m.authLogoutCounter, "auth.logout.attempts"},
		{&m.tokenValidationCounter, "auth.session_token.validations"},
		{&m.rpcProxyCounter, "rpc.proxy.requests"},
		{&m.relayCounter, "relay.submissions"},
		{&m.chainReadCounter, "chain.reads"},
		{&m.fallbackCounter, "claims.fallback.recorded"},
		{&m.reconcileCounter, "claims.reconcile.outcomes"},
		{&m.analyticsCounter, "analytics.events"},
		{&m.repositoryCounter, "repository.operations"},
		{&m.rateLimitCounter, "rate_limit.decisions"},
		{&m.bypassCounter, "security.bypass.events"},
		{&m.idempotencyCounter, "idempotency.events"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}
	m.relayConfirmHistogram, err = meter.Float64Histogram("relay.confirmation.duration", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.rateLimitRetryAfter, err = meter.Float64Histogram("rate_limit.retry_after", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func loadMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordNonceIssued(status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.authNonceCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionTokenValidation(ctx context.Context, outcome, source string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordRPCProxy(ctx context.Context, method, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.rpcProxyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

func RecordRelaySubmission(ctx context.Context, action, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.relayCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func RecordRelayConfirmation(ctx context.Context, action string, d time.Duration) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.relayConfirmHistogram.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("action", action)))
}

func RecordChainRead(ctx context.Context, contract, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.chainReadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("contract", contract),
		attribute.String("outcome", outcome),
	))
}

func RecordClaimFallback(ctx context.Context, reason string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.fallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordReconcileOutcome(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.reconcileCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAnalyticsEvent(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.analyticsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, d time.Duration) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.rateLimitRetryAfter.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
	))
}

func RecordSecurityBypassEvent(ctx context.Context, reason, scope string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.bypassCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("scope", scope),
	))
}

func RecordIdempotencyEvent(ctx context.Context, scope, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.idempotencyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func serviceResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}
