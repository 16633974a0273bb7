package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/d4l-network/d4l-gateway/internal/config"
)

// Runtime owns the OTel providers of one gateway process. Any provider may be
// nil when its signal is disabled.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		if mp != nil {
			_ = mp.Shutdown(ctx)
		}
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return &Runtime{MeterProvider: mp, TracerProvider: tp, LoggerProvider: lp}, nil
}

// Shutdown flushes traces, then metrics, then logs.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	type provider interface{ Shutdown(context.Context) error }
	steps := []struct {
		name string
		p    provider
		set  bool
	}{
		{"tracer", r.TracerProvider, r.TracerProvider != nil},
		{"meter", r.MeterProvider, r.MeterProvider != nil},
		{"logger", r.LoggerProvider, r.LoggerProvider != nil},
	}
	var errs []error
	for _, s := range steps {
		if !s.set {
			continue
		}
		if err := s.p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s provider: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
