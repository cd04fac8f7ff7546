package observability

import (
	"github.com/smallbiznis/creditmeter/internal/observability/logger"
	"github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/pkg/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		telemetry.NewTracerProvider,
		metrics.NewProvider,
		metrics.New,
	),
	// the tracer provider installs itself globally; nothing else depends on it
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
