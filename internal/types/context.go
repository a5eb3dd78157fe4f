package types

import "context"

// Context Keys
type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	providerEventKey contextKey = "provider_event_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithProviderEventID stores the payment provider's delivery identifier in
// the context so that audit records can be correlated with provider logs.
func WithProviderEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, providerEventKey, id)
}

// GetProviderEventID retrieves the provider delivery identifier, or "".
func GetProviderEventID(ctx context.Context) string {
	id, _ := ctx.Value(providerEventKey).(string)
	return id
}
