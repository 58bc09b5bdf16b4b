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

// UpsertUserContext stores the per-tenant context for a dataset,
// unconditionally replacing any prior value. Contexts are last-write-wins by
// call order; the schema keeps no history.
func (um *userStateManager) UpsertUserContext(ctx context.Context, uc *models.UserContext) apperrors.Error {
	if uc.UserID.IsNil() || uc.DatasetID.IsNil() {
		return dberror.ErrInvalidInput.Msg("user id and dataset id are required")
	}
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return err
	}
	query := `
		INSERT INTO user_contexts (user_id, dataset_id, ctx, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, dataset_id)
		DO UPDATE SET ctx = EXCLUDED.ctx, ts = EXCLUDED.ts
		RETURNING id;
	`
	err := um.conn().QueryRowContext(ctx, query, uc.UserID, uc.DatasetID, uc.Ctx, uc.Ts).Scan(&uc.ID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("user_id", uc.UserID.String()).
			Str("dataset_id", uc.DatasetID.String()).
			Msg("failed to upsert user context")
		return classifyPgError(err)
	}
	return nil
}

// GetUserContext returns the stored context for (user, dataset).
func (um *userStateManager) GetUserContext(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (*models.UserContext, apperrors.Error) {
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, user_id, dataset_id, ctx, ts
		FROM user_contexts
		WHERE user_id = $1 AND dataset_id = $2;
	`
	uc := &models.UserContext{}
	err := um.conn().QueryRowContext(ctx, query, userID, datasetID).
		Scan(&uc.ID, &uc.UserID, &uc.DatasetID, &uc.Ctx, &uc.Ts)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("user_id", userID.String()).Str("dataset_id", datasetID.String()).Msg("user context not found")
			return nil, dberror.ErrNotFound.Msg("user context not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve user context")
		return nil, classifyPgError(err)
	}
	return uc, nil
}

// AppendUserViews appends one materialization batch to the view log in a
// single transaction. The log carries no uniqueness constraint; repeated
// materializations append duplicate entries by design.
func (um *userStateManager) AppendUserViews(ctx context.Context, views []*models.UserView) (err apperrors.Error) {
	if len(views) == 0 {
		return nil
	}
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return err
	}

	tx, errdb := um.conn().BeginTx(ctx, nil)
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

	for start := 0; start < len(views); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(views) {
			end = len(views)
		}
		chunk := views[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO user_views (user_id, dataset_id, version, item, ts) VALUES ")
		args := make([]any, 0, len(chunk)*5)
		for i, v := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 5
			sb.WriteString("($" + strconv.Itoa(base+1) + ", $" + strconv.Itoa(base+2) + ", $" +
				strconv.Itoa(base+3) + ", $" + strconv.Itoa(base+4) + ", $" + strconv.Itoa(base+5) + ")")
			args = append(args, v.UserID, v.DatasetID, v.Version, v.Item, v.Ts)
		}
		if _, errdb := tx.ExecContext(ctx, sb.String(), args...); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Int("batch_start", start).Msg("failed to append user views")
			return classifyPgError(errdb)
		}
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// ListUserViews returns one keyset page of view log entries with ts >=
// sinceTs, ordered by (ts, id). Pass afterTs = -1 for the first page.
func (um *userStateManager) ListUserViews(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version string, sinceTs, afterTs, afterID int64, limit int) ([]*models.UserView, apperrors.Error) {
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, user_id, dataset_id, version, item, ts
		FROM user_views
		WHERE user_id = $1 AND dataset_id = $2 AND version = $3
		  AND ts >= $4
		  AND (ts > $5 OR (ts = $5 AND id > $6))
		ORDER BY ts, id
		LIMIT $7;
	`
	rows, err := um.conn().QueryContext(ctx, query, userID, datasetID, version, sinceTs, afterTs, afterID, limit)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list user views")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []*models.UserView
	for rows.Next() {
		v := &models.UserView{}
		if err := rows.Scan(&v.ID, &v.UserID, &v.DatasetID, &v.Version, &v.Item, &v.Ts); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan user view row")
			return nil, classifyPgError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning user views")
		return nil, classifyPgError(err)
	}
	return out, nil
}

// LatestUserViewsPerKey derives the current value per key from the
// append-only log: for each distinct value at keyPath, the entry with the
// greatest ts (ties broken by highest id). Entries without the key are
// excluded.
func (um *userStateManager) LatestUserViewsPerKey(ctx context.Context, userID types.UserID, datasetID types.DatasetID, version string, keyPath []string) ([]*models.UserView, apperrors.Error) {
	if len(keyPath) == 0 {
		return nil, dberror.ErrInvalidInput.Msg("key path is required")
	}
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return nil, err
	}

	path := &pgtype.TextArray{}
	if err := path.Set(keyPath); err != nil {
		return nil, dberror.ErrInvalidInput.Msg("invalid key path").Err(err)
	}

	query := `
		SELECT DISTINCT ON (item #>> $4)
		       id, user_id, dataset_id, version, item, ts
		FROM user_views
		WHERE user_id = $1 AND dataset_id = $2 AND version = $3
		  AND item #>> $4 IS NOT NULL
		ORDER BY item #>> $4, ts DESC, id DESC;
	`
	rows, err := um.conn().QueryContext(ctx, query, userID, datasetID, version, path)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to derive latest views per key")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var out []*models.UserView
	for rows.Next() {
		v := &models.UserView{}
		if err := rows.Scan(&v.ID, &v.UserID, &v.DatasetID, &v.Version, &v.Item, &v.Ts); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan user view row")
			return nil, classifyPgError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning latest views per key")
		return nil, classifyPgError(err)
	}
	return out, nil
}

// GetLatestUserViewVersion returns the most recently materialized version in
// a tenant's view log and its newest entry timestamp.
func (um *userStateManager) GetLatestUserViewVersion(ctx context.Context, userID types.UserID, datasetID types.DatasetID) (string, int64, apperrors.Error) {
	if err := ensureProvisioned(ctx, um.conn()); err != nil {
		return "", 0, err
	}
	query := `
		SELECT version, ts
		FROM user_views
		WHERE user_id = $1 AND dataset_id = $2
		ORDER BY ts DESC, id DESC
		LIMIT 1;
	`
	var version string
	var ts int64
	err := um.conn().QueryRowContext(ctx, query, userID, datasetID).Scan(&version, &ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", 0, dberror.ErrNotFound.Msg("no materialized views")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve latest view version")
		return "", 0, classifyPgError(err)
	}
	return version, ts, nil
}
