package logger

import (
	"context"
	"strings"
)

type tenantKey struct{}

// WithTenant tags ctx with the tenant being served so every log line carries it.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func TenantFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
