package view

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/internal/edgesrv/mirror"
	"github.com/edgestore/edgestore/internal/edgesrv/notify"
	"github.com/edgestore/edgestore/internal/edgesrv/usercontext"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
	"github.com/edgestore/edgestore/pkg/types"
)

// emptyCtxDoc is what a user without a stored context materializes against.
var emptyCtxDoc = json.RawMessage(`{}`)

// MaterializeView derives the user's view of the dataset's latest version
// and appends it to the view log. The version is resolved once and pinned
// for the whole run: published rows are immutable, so even though the rows
// stream in pages, every page reads the same snapshot. A missing user
// context materializes against the empty object. The derived batch is
// appended in one transaction with the run timestamp; the appended count is
// returned.
func MaterializeView(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (int, apperrors.Error) {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return 0, dberror.ErrUnauthorized.Msg("materialization requires the writer capability")
	}
	if userID.IsNil() || !validation.ValidateName(userID.String()) {
		return 0, dberror.ErrInvalidInput.Msg("invalid user id")
	}
	if datasetID.IsNil() || !validation.ValidateName(datasetID.String()) {
		return 0, dberror.ErrInvalidInput.Msg("invalid dataset id")
	}

	latest, err := mirror.GetLatestVersion(ctx, datasetID)
	if err != nil {
		return 0, err
	}

	ctxDoc := emptyCtxDoc
	uc, err := usercontext.GetContext(ctx, userID, datasetID)
	if err != nil {
		if !errors.Is(err, dberror.ErrNotFound) {
			return 0, err
		}
	} else {
		ctxDoc = json.RawMessage(uc.Ctx.Bytes)
	}

	transform := lookupTransform(datasetID)

	rows, err := mirror.GetRows(ctx, datasetID, latest.Version)
	if err != nil {
		return 0, err
	}
	var derived []json.RawMessage
	for {
		item, ok, err := rows.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		out, keep, err := transform(ctx, item, ctxDoc)
		if err != nil {
			return 0, err
		}
		if keep {
			derived = append(derived, out)
		}
	}

	sortBatch(derived, ctxDoc)

	runTs := time.Now().Unix()
	views := make([]*models.UserView, 0, len(derived))
	for _, item := range derived {
		var doc pgtype.JSONB
		if errdb := doc.Set([]byte(item)); errdb != nil {
			return 0, dberror.ErrTransactionAborted.Msg("transform produced an unstorable item").Err(errdb)
		}
		views = append(views, &models.UserView{
			UserID:    userID,
			DatasetID: datasetID,
			Version:   latest.Version,
			Item:      doc,
			Ts:        runTs,
		})
	}
	if err := db.DB(ctx).AppendUserViews(ctx, views); err != nil {
		return 0, err
	}

	log.Ctx(ctx).Info().
		Str("user", userID.String()).
		Str("dataset", datasetID.String()).
		Str("version", latest.Version).
		Int("count", len(views)).
		Msg("materialized view")

	event := notify.NewEvent(notify.KindViewMaterialized)
	event.UserID = userID
	event.DatasetID = datasetID
	event.Version = latest.Version
	event.Count = len(views)
	notify.Emit(ctx, event)

	return len(views), nil
}
