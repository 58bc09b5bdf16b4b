package postgresql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/pkg/types"
)

// PublishMirrorVersion inserts the version record and its full row batch in
// one transaction. Re-publishing an existing (dataset_id, version) with the
// same checksum is a no-op success; a different checksum fails with
// ErrChecksumMismatch and leaves the stored version untouched. No reader can
// observe the version record without its rows.
func (mm *mirrorManager) PublishMirrorVersion(ctx context.Context, version *models.GlobalMirrorVersion, items []pgtype.JSONB) (err apperrors.Error) {
	if version.DatasetID.IsNil() || version.Version == "" || version.Checksum == "" {
		return dberror.ErrInvalidInput.Msg("dataset id, version, and checksum are required")
	}
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return err
	}

	tx, errdb := mm.conn().BeginTx(ctx, nil)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to begin transaction")
		return classifyPgError(errdb)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	query := `
		INSERT INTO global_mirror_versions (dataset_id, version, checksum, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id, version) DO NOTHING
		RETURNING id, created_at;
	`
	errdb = tx.QueryRowContext(ctx, query, version.DatasetID, version.Version, version.Checksum, version.Ts).
		Scan(&version.ID, &version.CreatedAt)
	if errdb != nil {
		if errdb == sql.ErrNoRows {
			// Version record already exists. Equal checksum means an
			// idempotent retry; a different checksum is a conflicting
			// re-publish and must not touch the stored rows.
			var storedChecksum string
			q := `
				SELECT checksum FROM global_mirror_versions
				WHERE dataset_id = $1 AND version = $2;
			`
			if scanErr := tx.QueryRowContext(ctx, q, version.DatasetID, version.Version).Scan(&storedChecksum); scanErr != nil {
				log.Ctx(ctx).Error().Err(scanErr).Msg("failed to read stored checksum")
				return classifyPgError(scanErr)
			}
			if storedChecksum != version.Checksum {
				log.Ctx(ctx).Error().
					Str("dataset_id", version.DatasetID.String()).
					Str("version", version.Version).
					Msg("conflicting checksum for existing version")
				return dberror.ErrChecksumMismatch.Msg("version already published with a different checksum")
			}
			log.Ctx(ctx).Info().
				Str("dataset_id", version.DatasetID.String()).
				Str("version", version.Version).
				Msg("version already published; treating as idempotent retry")
			if commitErr := tx.Commit(); commitErr != nil {
				log.Ctx(ctx).Error().Err(commitErr).Msg("failed to commit transaction")
				return classifyPgError(commitErr)
			}
			return dberror.ErrDuplicateVersion
		}
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to insert mirror version")
		return classifyPgError(errdb)
	}

	if err := mm.insertRowsWithTransaction(ctx, tx, version.DatasetID, version.Version, items); err != nil {
		return err
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// insertRowsWithTransaction writes the row batch in multi-VALUES chunks so
// parameter counts stay bounded while the whole batch remains atomic.
func (mm *mirrorManager) insertRowsWithTransaction(ctx context.Context, tx *sql.Tx, datasetID types.DatasetID, version string, items []pgtype.JSONB) apperrors.Error {
	for start := 0; start < len(items); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO global_rows (dataset_id, version, item) VALUES ")
		args := make([]any, 0, len(chunk)+2)
		args = append(args, datasetID, version)
		for i, item := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("($1, $2, $")
			sb.WriteString(strconv.Itoa(i + 3))
			sb.WriteString(")")
			args = append(args, item)
		}
		if _, errdb := tx.ExecContext(ctx, sb.String(), args...); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Int("batch_start", start).Msg("failed to insert mirror rows")
			return classifyPgError(errdb)
		}
	}
	return nil
}

// GetMirrorVersion returns one published version record.
func (mm *mirrorManager) GetMirrorVersion(ctx context.Context, datasetID types.DatasetID, version string) (*models.GlobalMirrorVersion, apperrors.Error) {
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, dataset_id, version, checksum, ts, created_at
		FROM global_mirror_versions
		WHERE dataset_id = $1 AND version = $2;
	`
	v := &models.GlobalMirrorVersion{}
	err := mm.conn().QueryRowContext(ctx, query, datasetID, version).
		Scan(&v.ID, &v.DatasetID, &v.Version, &v.Checksum, &v.Ts, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("dataset_id", datasetID.String()).Str("version", version).Msg("mirror version not found")
			return nil, dberror.ErrNotFound.Msg("version not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve mirror version")
		return nil, classifyPgError(err)
	}
	return v, nil
}

// GetLatestMirrorVersion returns the version with the greatest ts; ties are
// broken by the highest insertion order. The latest version is derived, not
// tracked in a separate pointer.
func (mm *mirrorManager) GetLatestMirrorVersion(ctx context.Context, datasetID types.DatasetID) (*models.GlobalMirrorVersion, apperrors.Error) {
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, dataset_id, version, checksum, ts, created_at
		FROM global_mirror_versions
		WHERE dataset_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1;
	`
	v := &models.GlobalMirrorVersion{}
	err := mm.conn().QueryRowContext(ctx, query, datasetID).
		Scan(&v.ID, &v.DatasetID, &v.Version, &v.Checksum, &v.Ts, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("dataset_id", datasetID.String()).Msg("dataset has no versions")
			return nil, dberror.ErrNotFound.Msg("dataset has no versions")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve latest mirror version")
		return nil, classifyPgError(err)
	}
	return v, nil
}

// ListMirrorVersions returns the version history of a dataset, newest first.
func (mm *mirrorManager) ListMirrorVersions(ctx context.Context, datasetID types.DatasetID) ([]*models.GlobalMirrorVersion, apperrors.Error) {
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, dataset_id, version, checksum, ts, created_at
		FROM global_mirror_versions
		WHERE dataset_id = $1
		ORDER BY ts DESC, id DESC;
	`
	rows, err := mm.conn().QueryContext(ctx, query, datasetID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list mirror versions")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var versions []*models.GlobalMirrorVersion
	for rows.Next() {
		v := &models.GlobalMirrorVersion{}
		if err := rows.Scan(&v.ID, &v.DatasetID, &v.Version, &v.Checksum, &v.Ts, &v.CreatedAt); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan mirror version row")
			return nil, classifyPgError(err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning mirror versions")
		return nil, classifyPgError(err)
	}
	return versions, nil
}

// ListMirrorRows returns one keyset page of rows in insertion order. An
// unknown version yields an empty page.
func (mm *mirrorManager) ListMirrorRows(ctx context.Context, datasetID types.DatasetID, version string, afterID int64, limit int) ([]*models.GlobalRow, apperrors.Error) {
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, dataset_id, version, item
		FROM global_rows
		WHERE dataset_id = $1 AND version = $2 AND id > $3
		ORDER BY id
		LIMIT $4;
	`
	rows, err := mm.conn().QueryContext(ctx, query, datasetID, version, afterID, limit)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list mirror rows")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []*models.GlobalRow
	for rows.Next() {
		r := &models.GlobalRow{}
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Version, &r.Item); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan mirror row")
			return nil, classifyPgError(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning mirror rows")
		return nil, classifyPgError(err)
	}
	return out, nil
}

// CountMirrorRows returns the number of rows stored for a version.
func (mm *mirrorManager) CountMirrorRows(ctx context.Context, datasetID types.DatasetID, version string) (int64, apperrors.Error) {
	if err := ensureProvisioned(ctx, mm.conn()); err != nil {
		return 0, err
	}
	query := `
		SELECT COUNT(*) FROM global_rows
		WHERE dataset_id = $1 AND version = $2;
	`
	var count int64
	if err := mm.conn().QueryRowContext(ctx, query, datasetID, version).Scan(&count); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to count mirror rows")
		return 0, classifyPgError(err)
	}
	return count, nil
}
