// Package requestctx carries per-call identity through context.
package requestctx

import "context"

type invocationContextKey struct{}

// Invocation identifies one MCP tool call.
type Invocation struct {
	ID   string
	Tool string
}

// WithInvocation stores the tool invocation in context.
func WithInvocation(ctx context.Context, invocation Invocation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, invocationContextKey{}, invocation)
}

// InvocationFromContext returns the invocation stored in context.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	if ctx == nil {
		return Invocation{}, false
	}
	invocation, ok := ctx.Value(invocationContextKey{}).(Invocation)
	return invocation, ok
}
