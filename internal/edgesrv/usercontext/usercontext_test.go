package usercontext

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/pkg/types"
)

func TestSetContext(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)

	userID := types.UserID("u-" + uuid.NewString()[:8])
	datasetID := types.DatasetID("ds-" + uuid.NewString()[:8])

	_, err := GetContext(ctx, userID, datasetID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	err = SetContext(ctx, userID, datasetID, json.RawMessage(`{"region": "emea", "tier": 2}`), 100)
	assert.NoError(t, err)

	got, err := GetContext(ctx, userID, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), got.Ts)
	assert.Equal(t, "emea", gjson.GetBytes(got.Ctx.Bytes, "region").Str)

	// Replacement is unconditional last-writer-wins: a smaller ts still
	// replaces the stored document.
	err = SetContext(ctx, userID, datasetID, json.RawMessage(`{"region": "apac"}`), 50)
	assert.NoError(t, err)

	got, err = GetContext(ctx, userID, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, int64(50), got.Ts)
	assert.Equal(t, "apac", gjson.GetBytes(got.Ctx.Bytes, "region").Str)
	assert.False(t, gjson.GetBytes(got.Ctx.Bytes, "tier").Exists())
}

func TestSetContextValidation(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)

	userID := types.UserID("u-" + uuid.NewString()[:8])
	datasetID := types.DatasetID("ds-" + uuid.NewString()[:8])

	err := SetContext(ctx, "", datasetID, json.RawMessage(`{}`), 1)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	err = SetContext(ctx, userID, "", json.RawMessage(`{}`), 1)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	// The context document must be a JSON object
	for _, doc := range []string{`[1, 2]`, `"a"`, `42`, `null`, `{"broken": `} {
		err = SetContext(ctx, userID, datasetID, json.RawMessage(doc), 1)
		assert.Error(t, err, doc)
		assert.ErrorIs(t, err, dberror.ErrInvalidPath, doc)
	}

	_, err = GetContext(ctx, userID, datasetID)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestSetContextRequiresWriter(t *testing.T) {
	ctx := edgecommon.SetRoleInContext(context.Background(), types.RoleReader)
	err := SetContext(ctx, "u1", "ds1", json.RawMessage(`{}`), 1)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
}

func newDb(t *testing.T) context.Context {
	t.Helper()
	ctx := log.Logger.WithContext(context.Background())
	ctx = db.ConnCtx(ctx)
	if db.DB(ctx) == nil {
		t.Fatal("unable to connect to test database")
	}
	if err := db.DB(ctx).Provision(ctx); err != nil {
		t.Fatalf("unable to provision test database: %v", err)
	}
	return ctx
}
