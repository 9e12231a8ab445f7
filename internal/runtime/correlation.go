package runtime

import "context"

type correlationIDKey struct{}

// ContextWithCorrelationID returns a context carrying id. Events sent with
// that context inherit it when they have no correlation id of their own.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the id stored by ContextWithCorrelationID.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
