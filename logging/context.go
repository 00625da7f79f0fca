package logging

import (
	"context"

	"go.viam.com/utils"
)

type traceKeyType int

const traceKeyID = traceKeyType(iota)

// EnableDebugMode returns a context whose CDebug* statements are emitted regardless of the
// logger's level, tagged with traceKey. An empty traceKey picks a random one.
func EnableDebugMode(ctx context.Context, traceKey string) context.Context {
	if traceKey == "" {
		traceKey = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, traceKeyID, traceKey)
}

// IsDebugMode returns whether ctx was passed through EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the trace key of a debug mode context, or "".
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(traceKeyID).(string)
	return key
}
