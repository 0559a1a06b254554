package shared

import "context"

type contextKey string

const orgKey contextKey = "org"

// ContextWithOrg stores the tenant organization id on the context.
func ContextWithOrg(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgFromContext returns the tenant organization id, or zero when absent.
func OrgFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(orgKey).(int64); ok {
		return v
	}
	return 0
}
