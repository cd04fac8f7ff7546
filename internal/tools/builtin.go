package tools

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/period"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/pkg/jsonvalue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ToolEcho         = "echo"
	ToolUsageSummary = "usage_summary"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Usage usagedomain.Service
}

// NewBuiltinRegistry returns a registry holding the tools shipped with the
// service.
func NewBuiltinRegistry(p Params) (*Registry, error) {
	registry := NewRegistry()
	if err := registry.Register(ToolEcho, ToolFunc(Echo)); err != nil {
		return nil, err
	}
	if err := registry.Register(ToolUsageSummary, UsageSummary(p.Usage, p.Clock)); err != nil {
		return nil, err
	}
	p.Log.Named("tools.registry").Info("tools registered", zap.Strings("tools", registry.Names()))
	return registry, nil
}

func Echo(_ context.Context, payload jsonvalue.Value, _ ToolContext) (jsonvalue.Value, error) {
	return jsonvalue.Object(map[string]jsonvalue.Value{"echo": payload}), nil
}

// UsageSummary reports the calling tenant's usage for the current period, or
// for payload.period_start when given.
func UsageSummary(usage usagedomain.Service, clk clock.Clock) Tool {
	return ToolFunc(func(ctx context.Context, payload jsonvalue.Value, tc ToolContext) (jsonvalue.Value, error) {
		start := period.Current(clk).Start
		if v, ok := payload.Get("period_start"); ok {
			if s, ok := v.AsString(); ok && s != "" {
				start = s
			}
		}

		summary, err := usage.PeriodUsage(ctx, tc.TenantID, start)
		if err != nil {
			return jsonvalue.Value{}, err
		}
		return jsonvalue.From(summary)
	})
}
