package utils

import (
	"context"
)

// CustomContext carries request/job scoped identity down the call chain.
type CustomContext struct {
	AppSource      string
	OrganizationID string
	UserID         string
}

type customContextKeyType struct{}

var customContextKey = customContextKeyType{}

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func GetOrganizationIDFromContext(ctx context.Context) string {
	return GetContext(ctx).OrganizationID
}

func GetAppSourceFromContext(ctx context.Context) string {
	return GetContext(ctx).AppSource
}

func GetUserIDFromContext(ctx context.Context) string {
	return GetContext(ctx).UserID
}
