package domain

import "context"

// DefaultTenant is used when a caller does not carry a tenant ID.
const DefaultTenant = "default"

type ctxKey string

const tenantCtxKey ctxKey = "tenant_id"

// ContextWithTenantID returns a new context carrying the tenant ID.
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tenantID)
}

// TenantIDFromContext extracts the tenant ID from the context.
// Returns DefaultTenant if not set.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantCtxKey).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}
