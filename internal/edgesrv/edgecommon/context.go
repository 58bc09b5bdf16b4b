// Package edgecommon provides context management utilities for the edge
// store. It carries the calling tenant, the capability role, and the request
// id through every operation.
package edgecommon

import (
	"context"

	"github.com/edgestore/edgestore/pkg/types"
)

// ctxKeyType represents the type for all context keys
type ctxKeyType string

const (
	ctxUserIdKey    ctxKeyType = "EdgeUserId"
	ctxRoleKey      ctxKeyType = "EdgeRole"
	ctxRequestIdKey ctxKeyType = "EdgeRequestId"
)

// SetUserIdInContext sets the calling tenant in the provided context.
func SetUserIdInContext(ctx context.Context, userId types.UserID) context.Context {
	return context.WithValue(ctx, ctxUserIdKey, userId)
}

// UserIdFromContext retrieves the calling tenant from the provided context.
func UserIdFromContext(ctx context.Context) types.UserID {
	if userId, ok := ctx.Value(ctxUserIdKey).(types.UserID); ok {
		return userId
	}
	return ""
}

// SetRoleInContext sets the capability role in the provided context.
func SetRoleInContext(ctx context.Context, role types.Role) context.Context {
	return context.WithValue(ctx, ctxRoleKey, role)
}

// RoleFromContext retrieves the capability role from the provided context.
// Callers that never attach a role operate as writers; the reader capability
// is opt-in.
func RoleFromContext(ctx context.Context) types.Role {
	if role, ok := ctx.Value(ctxRoleKey).(types.Role); ok {
		return role
	}
	return types.RoleWriter
}

// SetRequestIdInContext sets the request id in the provided context.
func SetRequestIdInContext(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, ctxRequestIdKey, requestId)
}

// RequestIdFromContext retrieves the request id from the provided context.
func RequestIdFromContext(ctx context.Context) string {
	if requestId, ok := ctx.Value(ctxRequestIdKey).(string); ok {
		return requestId
	}
	return ""
}
