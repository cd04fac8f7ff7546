package observability

import (
	"strings"

	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/observability/logger"
	"github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/pkg/telemetry"
)

const defaultSamplingRatio = 0.1

// Config is the logging and OpenTelemetry slice of the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// NewConfig projects cfg. Unknown exporter protocols resolve to grpc and a
// sampling ratio outside [0, 1] resolves to the default.
func NewConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "creditmeter"
	}

	ratio := cfg.OtelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(strings.TrimSpace(cfg.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(cfg.LogFormat)),
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OtelExporterEndpoint),
		OtelExporterProtocol: normalizeProtocol(cfg.OtelExporterProtocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether verbose diagnostics are on: debug level or a
// development environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() telemetry.TracingConfig {
	return telemetry.TracingConfig{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}

func normalizeProtocol(protocol string) string {
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		return "http"
	default:
		return "grpc"
	}
}
