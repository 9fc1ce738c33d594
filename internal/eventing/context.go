package eventing

import "context"

type contextKey string

const (
	contextKeyEnvelope contextKey = "eventing.envelope"
	contextKeyCorr     contextKey = "eventing.correlation_id"
)

// WithEnvelope attaches envelope metadata to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(contextKeyEnvelope).(Envelope)
	return env, ok
}

// WithCorrelationID sets the correlation id stamped on events published
// with ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// MetaFromContext builds envelope metadata from ctx. Events published from
// inside a handler inherit the correlation id of the event being handled.
func MetaFromContext(ctx context.Context) Meta {
	meta := Meta{}
	if corr, ok := ctx.Value(contextKeyCorr).(string); ok {
		meta.CorrelationID = corr
	}
	if meta.CorrelationID == "" {
		if env, ok := EnvelopeFromContext(ctx); ok {
			meta.CorrelationID = env.CorrelationID
		}
	}
	return meta
}
