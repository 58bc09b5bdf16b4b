package view

import (
	"context"
	"strings"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
	"github.com/edgestore/edgestore/pkg/types"
)

// Rows iterates the user's view log for one version in (ts, id) order,
// restricted to entries with ts >= sinceTs so tenants can pull
// incrementally. Batches are fetched on demand with keyset pagination.
type Rows struct {
	userID    types.UserID
	datasetID types.DatasetID
	version   string
	sinceTs   int64
	batchSize int

	afterTs int64
	afterID int64
	buf     []*models.UserView
	pos     int
	eof     bool
}

// GetView returns an iterator over the user's view log entries for the
// version. An unknown version yields an empty sequence.
func GetView(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version string, sinceTs int64) (*Rows, apperrors.Error) {
	if userID.IsNil() || datasetID.IsNil() || version == "" {
		return nil, dberror.ErrInvalidInput.Msg("user id, dataset id and version are required")
	}
	return &Rows{
		userID:    userID,
		datasetID: datasetID,
		version:   version,
		sinceTs:   sinceTs,
		batchSize: config.Config().Engine.FetchBatchSize,
		afterTs:   -1,
	}, nil
}

// Next returns the next view entry. The second return is false when the
// sequence is exhausted.
func (r *Rows) Next(ctx context.Context) (*models.UserView, bool, apperrors.Error) {
	if r.pos >= len(r.buf) {
		if r.eof {
			return nil, false, nil
		}
		if err := r.fetch(ctx); err != nil {
			return nil, false, err
		}
		if len(r.buf) == 0 {
			return nil, false, nil
		}
	}
	uv := r.buf[r.pos]
	r.pos++
	return uv, true, nil
}

// Reset rewinds the iterator to the beginning of the sequence. Entries
// appended after the rewind may appear on the replay; the log is
// append-only, so previously seen entries always reappear in order.
func (r *Rows) Reset() {
	r.afterTs = -1
	r.afterID = 0
	r.buf = nil
	r.pos = 0
	r.eof = false
}

func (r *Rows) fetch(ctx context.Context) apperrors.Error {
	views, err := db.DB(ctx).ListUserViews(ctx, r.userID, r.datasetID, r.version, r.sinceTs, r.afterTs, r.afterID, r.batchSize)
	if err != nil {
		return err
	}
	r.buf = views
	r.pos = 0
	if len(views) > 0 {
		last := views[len(views)-1]
		r.afterTs = last.Ts
		r.afterID = last.ID
	}
	if len(views) < r.batchSize {
		r.eof = true
	}
	return nil
}

// LatestVersion returns the most recently materialized version for the
// user and dataset together with the run timestamp of that materialization.
func LatestVersion(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (string, int64, apperrors.Error) {
	if userID.IsNil() || datasetID.IsNil() {
		return "", 0, dberror.ErrInvalidInput.Msg("user id and dataset id are required")
	}
	return db.DB(ctx).GetLatestUserViewVersion(ctx, userID, datasetID)
}

// LatestPerKey collapses the append-only view log into the current value
// per key: for every distinct value at keyPath it returns the entry with the
// greatest ts, ties broken by insertion order. Entries without the key are
// skipped.
func LatestPerKey(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version, keyPath string) ([]*models.UserView, apperrors.Error) {
	if userID.IsNil() || datasetID.IsNil() || version == "" {
		return nil, dberror.ErrInvalidInput.Msg("user id, dataset id and version are required")
	}
	if !validation.ValidateJSONPath(keyPath) {
		return nil, dberror.ErrInvalidPath.Msg("invalid key path")
	}
	segments := strings.Split(strings.TrimPrefix(keyPath, "$."), ".")
	return db.DB(ctx).LatestUserViewsPerKey(ctx, userID, datasetID, version, segments)
}
