package observability

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDCtxKey contextKey = "request_id"
	userIDCtxKey    contextKey = "user_id"
	planIDCtxKey    contextKey = "plan_id"
)

// Standard attribute keys used in logs.
const (
	RequestIDKey = "request_id"
	UserIDKey    = "user_id"
	PlanIDKey    = "plan_id"
	ErrorKey     = "error"
	StatusKey    = "status"
)

// WithRequestID adds a request ID to the context.
// If id is empty, a new UUID is generated.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDCtxKey, userID)
}

// UserIDFromContext extracts the user ID from context.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(userIDCtxKey).(string); ok {
		return id
	}
	return ""
}

// WithPlanID tags the context with the audit plan run touching this request.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planIDCtxKey, planID)
}

// PlanIDFromContext extracts the plan run ID from context.
func PlanIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(planIDCtxKey).(string); ok {
		return id
	}
	return ""
}
