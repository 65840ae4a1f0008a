package middleware

import "context"

type contextKey string

const (
	ctxSessionID contextKey = "session_id"
	ctxRole      contextKey = "actor_role"
)

// SessionIDFromContext returns the admin session (token jti) set by AdminAuth.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxSessionID)
}

func RoleFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRole)
}

// WithSessionID stores the admin session identifier, as AdminAuth does after
// the token and its server-side session check out.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
