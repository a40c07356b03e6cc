package session

import "context"

type inboundKey int
type contentKey int

const (
	inboundContextKey inboundKey = 0
	contentContextKey contentKey = 0
)

// ContextWithInbound returns a new context carrying the given Inbound.
func ContextWithInbound(ctx context.Context, inbound *Inbound) context.Context {
	return context.WithValue(ctx, inboundContextKey, inbound)
}

// InboundFromContext returns the Inbound attached to ctx, or nil if none.
func InboundFromContext(ctx context.Context) *Inbound {
	if inbound, ok := ctx.Value(inboundContextKey).(*Inbound); ok {
		return inbound
	}
	return nil
}

// ContextWithContent returns a new context carrying the given Content.
func ContextWithContent(ctx context.Context, content *Content) context.Context {
	return context.WithValue(ctx, contentContextKey, content)
}

// ContentFromContext returns the Content attached to ctx, or nil if none.
func ContentFromContext(ctx context.Context) *Content {
	if content, ok := ctx.Value(contentContextKey).(*Content); ok {
		return content
	}
	return nil
}
