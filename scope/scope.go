// Package scope carries the tenant and actor of a request through
// context.Context.
//
// The engine captures the scope when an export is queued and stores it on
// the queue message. The worker middleware restores it before processing
// so that downstream collaborators see the same tenant and actor as the
// original caller.
package scope

import "context"

type ctxKey struct{}

// Scope identifies who an operation runs for.
type Scope struct {
	TenantID string
	ActorID  string
}

// With attaches s to ctx.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the scope attached to ctx.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Capture extracts the tenant and actor identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (tenantID, actorID string) {
	s, ok := From(ctx)
	if !ok {
		return "", ""
	}
	return s.TenantID, s.ActorID
}

// Restore attaches a scope built from tenantID and actorID. If both are
// empty, the context is returned unchanged (no-op).
func Restore(ctx context.Context, tenantID, actorID string) context.Context {
	if tenantID == "" && actorID == "" {
		return ctx
	}
	return With(ctx, Scope{TenantID: tenantID, ActorID: actorID})
}
