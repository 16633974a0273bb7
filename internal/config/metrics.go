package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	errParse      = errors.New("parse")
	errValidation = errors.New("validate config")
)

var loadCounter = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("d4l-gateway/config").Int64Counter(
		"config.load.events",
		metric.WithDescription("Gateway configuration loads by profile and outcome"),
	)
	if err != nil {
		return nil
	}
	return counter
})

func recordConfigLoad(ctx context.Context, profile string, err error) {
	counter := loadCounter()
	if counter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(err)),
	))
}

// profileLabel keeps the profile attribute to the known set so a typo in
// APP_ENV cannot grow metric cardinality.
func profileLabel(profile string) string {
	switch v := strings.ToLower(strings.TrimSpace(profile)); v {
	case "development", "test", "production":
		return v
	case "":
		return "unknown"
	default:
		return "other"
	}
}

func classifyConfigLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errValidation):
		return "validation"
	case errors.Is(err, errParse):
		return "parse"
	default:
		return "load"
	}
}
