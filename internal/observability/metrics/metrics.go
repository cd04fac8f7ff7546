package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the metering domain instruments.
type Metrics struct {
	usageRecorded       metric.Int64Counter
	creditsRecorded     metric.Float64Counter
	quotaDenied         metric.Int64Counter
	entitlementDenied   metric.Int64Counter
	idempotencyReplayed metric.Int64Counter
	idempotencyConflict metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditmeter"
	}
	meter := provider.Meter(name)

	usageRecorded, err := meter.Int64Counter("creditmeter_usage_events_total",
		metric.WithDescription("Usage events appended to the ledger."))
	if err != nil {
		return nil, err
	}
	creditsRecorded, err := meter.Float64Counter("creditmeter_credits_recorded_total",
		metric.WithDescription("Credits recorded into period rollups."))
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("creditmeter_quota_denied_total")
	if err != nil {
		return nil, err
	}
	entitlementDenied, err := meter.Int64Counter("creditmeter_entitlement_denied_total")
	if err != nil {
		return nil, err
	}
	idempotencyReplayed, err := meter.Int64Counter("creditmeter_idempotency_replay_total")
	if err != nil {
		return nil, err
	}
	idempotencyConflict, err := meter.Int64Counter("creditmeter_idempotency_conflict_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageRecorded:       usageRecorded,
		creditsRecorded:     creditsRecorded,
		quotaDenied:         quotaDenied,
		entitlementDenied:   entitlementDenied,
		idempotencyReplayed: idempotencyReplayed,
		idempotencyConflict: idempotencyConflict,
	}, nil
}

// RecordUsage counts one ledger append and the credits it carried.
func (m *Metrics) RecordUsage(ctx context.Context, eventKey string, credits float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_key", strings.TrimSpace(eventKey)))
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if credits > 0 {
		m.creditsRecorded.Add(ctx, credits, metric.WithAttributes(attrs...))
	}
}

// RecordQuotaDenied counts quota rejections; reason is "credits", "event_cap"
// or "daily_limit".
func (m *Metrics) RecordQuotaDenied(ctx context.Context, eventKey, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_key", strings.TrimSpace(eventKey)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEntitlementDenied(ctx context.Context, capability, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("capability", strings.TrimSpace(capability)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.entitlementDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordIdempotencyReplay(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.idempotencyReplayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordIdempotencyConflict(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.idempotencyConflict.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_key":  {},
	"capability": {},
	"endpoint":   {},
	"reason":     {},
	"outcome":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
