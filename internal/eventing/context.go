package eventing

import "context"

type (
	envelopeKey    struct{}
	correlationKey struct{}
)

// WithEnvelope attaches the inbound envelope so downstream publishers can
// carry its correlation id forward.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the inbound envelope, if any.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	if ctx == nil {
		return Envelope{}, false
	}
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

// WithCorrelationID overrides the correlation id for everything derived from ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationIDFromContext prefers an explicit id over the envelope's.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(correlationKey{}).(string); ok && value != "" {
		return value
	}
	if env, ok := EnvelopeFromContext(ctx); ok {
		return env.CorrelationID
	}
	return ""
}
