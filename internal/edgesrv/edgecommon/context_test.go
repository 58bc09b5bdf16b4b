package edgecommon

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgestore/edgestore/pkg/types"
)

func TestUserIdContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, UserIdFromContext(ctx).IsNil())

	ctx = SetUserIdInContext(ctx, types.UserID("u-1"))
	assert.Equal(t, types.UserID("u-1"), UserIdFromContext(ctx))
}

func TestRoleContext(t *testing.T) {
	ctx := context.Background()

	// Absent role means full write capability.
	assert.Equal(t, types.RoleWriter, RoleFromContext(ctx))
	assert.True(t, RoleFromContext(ctx).CanWrite())

	ctx = SetRoleInContext(ctx, types.RoleReader)
	assert.Equal(t, types.RoleReader, RoleFromContext(ctx))
	assert.False(t, RoleFromContext(ctx).CanWrite())
}

func TestRequestIdContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIdFromContext(ctx))

	reqID := NewRequestId()
	assert.True(t, strings.HasPrefix(reqID, "req_"))
	assert.NotEqual(t, reqID, NewRequestId())

	ctx = SetRequestIdInContext(ctx, reqID)
	assert.Equal(t, reqID, RequestIdFromContext(ctx))
}
