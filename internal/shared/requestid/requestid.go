package requestid

import "context"

type key struct{}

// With attaches a request ID to the context for logging and queue payloads.
func With(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, requestID)
}

// From returns the request ID stored by With, or "".
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(key{}).(string); ok {
		return id
	}
	return ""
}

// Detached returns a background context that keeps only the request ID.
func Detached(ctx context.Context) context.Context {
	id := From(ctx)
	if id == "" {
		return context.Background()
	}
	return With(context.Background(), id)
}
