package utils

import (
	"context"

	"github.com/google/uuid"
)

const (
	LogName = "log-name"
	TraceID = "x-request-id"

	Discovery       = "discovery"
	ServiceRegistry = "service-registry"
	Weight          = "weight"
)

type traceKey struct{}

func BuildRequestID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// ExtractTraceID returns the request id carried by ctx, or "" when absent.
func ExtractTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
