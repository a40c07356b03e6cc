// Package ctx carries a numeric request ID through a context.Context, so that logs and
// errors emitted for the same connection or association can be correlated.
package ctx

import "context"

type idKey int

const idContextKey idKey = 0

// ID is an opaque per-request identifier used only for log correlation.
type ID uint32

// ContextWithID returns a new context carrying the given ID.
func ContextWithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, idContextKey, id)
}

// IDFromContext extracts the ID previously attached by ContextWithID, or 0 if none.
func IDFromContext(ctx context.Context) ID {
	if ctx == nil {
		return 0
	}
	if id, ok := ctx.Value(idContextKey).(ID); ok {
		return id
	}
	return 0
}
