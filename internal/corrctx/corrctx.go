package corrctx

import "context"

type ctxKey string

const (
	keyCorrelationID ctxKey = "correlationID"
	keyCausationID   ctxKey = "causationID"
)

// WithCorrelation sets both ids for the duration of one handler invocation.
// Handlers establish it on entry from the triggering event and must not let
// it leak across invocations; deriving from the invocation context gives
// that for free.
func WithCorrelation(ctx context.Context, correlationID, causationID string) context.Context {
	ctx = context.WithValue(ctx, keyCorrelationID, correlationID)
	return context.WithValue(ctx, keyCausationID, causationID)
}

func CorrelationFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyCorrelationID).(string)

	return v, ok && v != ""
}

func CausationFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyCausationID).(string)

	return v, ok && v != ""
}
