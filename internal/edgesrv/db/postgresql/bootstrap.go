package postgresql

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
)

// schemaDDL provisions the fixed tables of the store. It is idempotent and
// applied in one transaction; dynamic per-user tables are created later by
// the userdb manager. The readiness marker row is inserted last so its
// presence implies the full schema exists.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS global_mirror_versions (
  id         BIGSERIAL PRIMARY KEY,
  dataset_id VARCHAR(128) NOT NULL,
  version    VARCHAR(128) NOT NULL,
  checksum   VARCHAR(128) NOT NULL,
  ts         BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT global_mirror_versions_dataset_version_key UNIQUE (dataset_id, version)
);

CREATE TABLE IF NOT EXISTS global_rows (
  id         BIGSERIAL PRIMARY KEY,
  dataset_id VARCHAR(128) NOT NULL,
  version    VARCHAR(128) NOT NULL,
  item       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS global_rows_dataset_version_idx
  ON global_rows (dataset_id, version, id);

CREATE TABLE IF NOT EXISTS user_contexts (
  id         BIGSERIAL PRIMARY KEY,
  user_id    VARCHAR(128) NOT NULL,
  dataset_id VARCHAR(128) NOT NULL,
  ctx        JSONB NOT NULL,
  ts         BIGINT NOT NULL,
  CONSTRAINT user_contexts_user_dataset_key UNIQUE (user_id, dataset_id)
);

CREATE TABLE IF NOT EXISTS user_views (
  id         BIGSERIAL PRIMARY KEY,
  user_id    VARCHAR(128) NOT NULL,
  dataset_id VARCHAR(128) NOT NULL,
  version    VARCHAR(128) NOT NULL,
  item       JSONB NOT NULL,
  ts         BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS user_views_user_dataset_version_idx
  ON user_views (user_id, dataset_id, version, ts, id);

CREATE TABLE IF NOT EXISTS userdb_tables (
  id         UUID PRIMARY KEY,
  user_id    VARCHAR(128) NOT NULL,
  table_name VARCHAR(63) NOT NULL,
  phy_table  VARCHAR(63) NOT NULL,
  pk_path    VARCHAR(256) NOT NULL,
  ts_path    VARCHAR(256) NOT NULL DEFAULT '$.updated_at',
  created_at BIGINT NOT NULL,
  CONSTRAINT userdb_tables_user_table_key UNIQUE (user_id, table_name),
  CONSTRAINT userdb_tables_phy_table_key UNIQUE (phy_table)
);

CREATE TABLE IF NOT EXISTS userdb_table_indexes (
  id         UUID PRIMARY KEY,
  user_id    VARCHAR(128) NOT NULL,
  table_name VARCHAR(63) NOT NULL,
  col_name   VARCHAR(63) NOT NULL,
  json_path  VARCHAR(256) NOT NULL,
  col_type   VARCHAR(16) NOT NULL,
  CONSTRAINT userdb_table_indexes_user_table_col_key UNIQUE (user_id, table_name, col_name),
  CONSTRAINT userdb_table_indexes_col_type_check CHECK
    (col_type IN ('string','number','integer','datetime','boolean'))
);

CREATE TABLE IF NOT EXISTS edge_readiness (
  marker         VARCHAR(16) PRIMARY KEY,
  provisioned_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const readinessMarker = "ready"

// provisioned caches a positive readiness probe so steady-state operations
// skip the marker lookup. It is never reset; a dropped schema surfaces as a
// storage error on the next statement instead.
var provisioned atomic.Bool

// Provision applies the fixed schema and inserts the readiness marker. The
// whole DDL runs in one transaction, so a process that observes the marker
// can rely on every fixed table existing.
func (bm *bootstrapManager) Provision(ctx context.Context) (err apperrors.Error) {
	tx, errdb := bm.conn().BeginTx(ctx, nil)
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

	if _, errdb := tx.ExecContext(ctx, schemaDDL); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to apply schema")
		return classifyPgError(errdb)
	}

	query := `
		INSERT INTO edge_readiness (marker)
		VALUES ($1)
		ON CONFLICT (marker) DO NOTHING;
	`
	if _, errdb := tx.ExecContext(ctx, query, readinessMarker); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to insert readiness marker")
		return classifyPgError(errdb)
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	provisioned.Store(true)
	return nil
}

// IsProvisioned reports whether the readiness marker exists.
func (bm *bootstrapManager) IsProvisioned(ctx context.Context) (bool, apperrors.Error) {
	if provisioned.Load() {
		return true, nil
	}
	query := `
		SELECT 1 FROM edge_readiness WHERE marker = $1;
	`
	var one int
	err := bm.conn().QueryRowContext(ctx, query, readinessMarker).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		if errDb := classifyPgError(err); errDb.Is(dberror.ErrNotProvisioned) {
			return false, nil
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to check readiness marker")
		return false, classifyPgError(err)
	}
	provisioned.Store(true)
	return true, nil
}

// ensureProvisioned is the guard at the top of every storage operation. It
// refuses to run against an unprovisioned store and caches the first
// successful probe process-wide.
func ensureProvisioned(ctx context.Context, q querier) apperrors.Error {
	if provisioned.Load() {
		return nil
	}
	query := `
		SELECT 1 FROM edge_readiness WHERE marker = $1;
	`
	var one int
	err := q.QueryRowContext(ctx, query, readinessMarker).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotProvisioned
		}
		if errDb := classifyPgError(err); errDb.Is(dberror.ErrNotProvisioned) {
			return dberror.ErrNotProvisioned
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to check readiness marker")
		return classifyPgError(err)
	}
	provisioned.Store(true)
	return nil
}
