package shared

import "context"

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal attaches the resolved identity to the context.
// A nil principal is stored as Anonymous.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		p = Anonymous
	}
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the identity attached to the context, or
// Anonymous when identity resolution has not run or found nobody.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	if p == nil {
		return Anonymous
	}
	return p
}

// PrincipalResolved reports whether identity resolution already ran for ctx.
func PrincipalResolved(ctx context.Context) bool {
	_, ok := ctx.Value(principalContextKey{}).(*Principal)
	return ok
}
