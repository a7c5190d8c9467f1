package utils

import (
	"context"

	"github.com/marron15/gym-api/appctx"
)

// Alias the shared context key type so callers never import appctx directly.
type contextKey = appctx.ContextKey

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyCustomerId    = appctx.ContextKeyCustomerId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetCustomerIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyCustomerId)
}

func SetCustomerIdInContext(ctx context.Context, customerId int) context.Context {
	return appctx.Set(ctx, ContextKeyCustomerId, customerId)
}
