// Package usercontext stores the per-(user, dataset) personalization
// document that view materialization combines with published rows. The
// document is a full replacement on every write: SetContext is an
// unconditional last-writer-wins upsert with no timestamp ordering, because
// the context is an input to derivation rather than derived state.
package usercontext

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgtype"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
	"github.com/edgestore/edgestore/pkg/types"
)

// SetContext replaces the stored context for (user, dataset). The document
// must be a JSON object: its top-level keys are interpreted by the view
// materializer, so scalars and arrays are rejected up front.
func SetContext(ctx context.Context, userID types.UserID, datasetID types.DatasetID, ctxDoc json.RawMessage, ts int64) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("context writes require the writer capability")
	}
	if userID.IsNil() || !validation.ValidateName(userID.String()) {
		return dberror.ErrInvalidInput.Msg("invalid user id")
	}
	if datasetID.IsNil() || !validation.ValidateName(datasetID.String()) {
		return dberror.ErrInvalidInput.Msg("invalid dataset id")
	}
	if !gjson.ValidBytes(ctxDoc) || !gjson.ParseBytes(ctxDoc).IsObject() {
		return dberror.ErrInvalidPath.Msg("context must be a JSON object")
	}

	var doc pgtype.JSONB
	if err := doc.Set([]byte(ctxDoc)); err != nil {
		return dberror.ErrInvalidInput.Msg("invalid context document").Err(err)
	}

	uc := &models.UserContext{
		UserID:    userID,
		DatasetID: datasetID,
		Ctx:       doc,
		Ts:        ts,
	}
	return db.DB(ctx).UpsertUserContext(ctx, uc)
}

// GetContext returns the stored context, or NotFound when the pair has
// never written one.
func GetContext(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (*models.UserContext, apperrors.Error) {
	if userID.IsNil() || datasetID.IsNil() {
		return nil, dberror.ErrInvalidInput.Msg("user id and dataset id are required")
	}
	return db.DB(ctx).GetUserContext(ctx, userID, datasetID)
}
