// Package mirror manages the local copy of published datasets: immutable,
// checksum-verified versions and their row batches, with derived
// latest-version reads. Rows of a published version never change, so any
// read pinned to a resolved version is a stable snapshot.
package mirror

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/internal/edgesrv/notify"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
	"github.com/edgestore/edgestore/pkg/types"
)

// PublishVersion records a new immutable dataset version together with its
// full row batch in one transaction. The checksum is recomputed from the
// rows and must match the declared one. Re-publishing an existing version
// with the same checksum is a no-op success so retries are idempotent;
// re-publishing with a different checksum fails with ChecksumMismatch and
// leaves the stored version untouched.
func PublishVersion(ctx context.Context, datasetID types.DatasetID, version, checksum string, rows []json.RawMessage, ts int64) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("publish requires the writer capability")
	}
	if datasetID.IsNil() || !validation.ValidateName(datasetID.String()) {
		return dberror.ErrInvalidInput.Msg("invalid dataset id")
	}
	if version == "" || !validation.ValidateName(version) {
		return dberror.ErrInvalidInput.Msg("invalid version")
	}
	if checksum == "" {
		return dberror.ErrInvalidInput.Msg("checksum is required")
	}
	if len(rows) == 0 {
		return dberror.ErrInvalidInput.Msg("rows are required")
	}

	computed, err := Checksum(rows)
	if err != nil {
		return err
	}
	if computed != checksum {
		return dberror.ErrChecksumMismatch.Msg("declared checksum does not match rows")
	}

	items := make([]pgtype.JSONB, 0, len(rows))
	for _, row := range rows {
		var item pgtype.JSONB
		if errdb := item.Set([]byte(row)); errdb != nil {
			return dberror.ErrInvalidInput.Msg("invalid row").Err(errdb)
		}
		items = append(items, item)
	}

	mv := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   version,
		Checksum:  checksum,
		Ts:        ts,
	}
	if err := db.DB(ctx).PublishMirrorVersion(ctx, mv, items); err != nil {
		if errors.Is(err, dberror.ErrDuplicateVersion) {
			// Same version, same checksum: the retry already happened.
			log.Ctx(ctx).Info().
				Str("dataset", datasetID.String()).
				Str("version", version).
				Msg("version already published")
			return nil
		}
		return err
	}

	if c := notify.Latest(); c != nil {
		c.SetLatest(ctx, datasetID, version)
	}
	event := notify.NewEvent(notify.KindDatasetPublished)
	event.DatasetID = datasetID
	event.Version = version
	event.Count = len(rows)
	notify.Emit(ctx, event)

	return nil
}

// GetVersion returns one version record of a dataset.
func GetVersion(ctx context.Context, datasetID types.DatasetID, version string) (*models.GlobalMirrorVersion, apperrors.Error) {
	if datasetID.IsNil() || version == "" {
		return nil, dberror.ErrInvalidInput.Msg("dataset id and version are required")
	}
	return db.DB(ctx).GetMirrorVersion(ctx, datasetID, version)
}

// GetLatestVersion returns the version with the greatest ts; ties are broken
// by insertion order. The latest-version cache is consulted first when one
// is configured; a cache entry that no longer resolves falls back to
// storage.
func GetLatestVersion(ctx context.Context, datasetID types.DatasetID) (*models.GlobalMirrorVersion, apperrors.Error) {
	if datasetID.IsNil() {
		return nil, dberror.ErrInvalidInput.Msg("dataset id is required")
	}

	cache := notify.Latest()
	if cache != nil {
		if version, ok := cache.GetLatest(ctx, datasetID); ok {
			mv, err := db.DB(ctx).GetMirrorVersion(ctx, datasetID, version)
			if err == nil {
				return mv, nil
			}
			if !errors.Is(err, dberror.ErrNotFound) {
				return nil, err
			}
		}
	}

	mv, err := db.DB(ctx).GetLatestMirrorVersion(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.SetLatest(ctx, datasetID, mv.Version)
	}
	return mv, nil
}

// ListVersions returns the dataset's version history, newest first.
func ListVersions(ctx context.Context, datasetID types.DatasetID) ([]*models.GlobalMirrorVersion, apperrors.Error) {
	if datasetID.IsNil() {
		return nil, dberror.ErrInvalidInput.Msg("dataset id is required")
	}
	return db.DB(ctx).ListMirrorVersions(ctx, datasetID)
}

// CountRows returns the number of rows stored for one version.
func CountRows(ctx context.Context, datasetID types.DatasetID, version string) (int64, apperrors.Error) {
	if datasetID.IsNil() || version == "" {
		return 0, dberror.ErrInvalidInput.Msg("dataset id and version are required")
	}
	return db.DB(ctx).CountMirrorRows(ctx, datasetID, version)
}
