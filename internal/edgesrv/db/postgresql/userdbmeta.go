package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/pkg/types"
)

// Dynamic objects owned by the userdb manager. The document table and one
// auxiliary table per declared index column are created and dropped inside
// the same transaction as the metadata row; Postgres DDL is transactional,
// so metadata and physical objects never diverge.

const auxTableInfix = "__ix_"

// maxIdentLen is the Postgres identifier limit. Names beyond it would be
// silently truncated, which could alias two distinct objects.
const maxIdentLen = 63

// auxTableName returns the auxiliary table name for an index column.
func auxTableName(phyTable, colName string) string {
	return phyTable + auxTableInfix + colName
}

// sanitizeIdent quotes a dynamic identifier for use in DDL/DML text. All
// identifiers are validated upstream; quoting here keeps the DDL safe even
// if a caller bypasses the engine layer.
func sanitizeIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// lookupTable reads a table's metadata row, optionally locking it. FOR SHARE
// lets concurrent document writes proceed in parallel while excluding DDL;
// FOR UPDATE serializes DDL against both.
func lookupTable(ctx context.Context, q querier, userID types.UserID, tableName, lock string) (*models.UserDBTable, apperrors.Error) {
	query := `
		SELECT id, user_id, table_name, phy_table, pk_path, ts_path, created_at
		FROM userdb_tables
		WHERE user_id = $1 AND table_name = $2 ` + lock + `;
	`
	t := &models.UserDBTable{}
	err := q.QueryRowContext(ctx, query, userID, tableName).
		Scan(&t.ID, &t.UserID, &t.TableName, &t.PhyTable, &t.PkPath, &t.TsPath, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("user_id", userID.String()).Str("table", tableName).Msg("table not registered")
			return nil, dberror.ErrNotFound.Msg("table not registered")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve table metadata")
		return nil, classifyPgError(err)
	}
	return t, nil
}

// lookupIndexes reads the declared index columns of a table.
func lookupIndexes(ctx context.Context, q querier, userID types.UserID, tableName string) ([]*models.UserDBTableIndex, apperrors.Error) {
	query := `
		SELECT id, user_id, table_name, col_name, json_path, col_type
		FROM userdb_table_indexes
		WHERE user_id = $1 AND table_name = $2
		ORDER BY col_name;
	`
	rows, err := q.QueryContext(ctx, query, userID, tableName)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list table indexes")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var indexes []*models.UserDBTableIndex
	for rows.Next() {
		idx := &models.UserDBTableIndex{}
		if err := rows.Scan(&idx.ID, &idx.UserID, &idx.TableName, &idx.ColName, &idx.JSONPath, &idx.ColType); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan table index row")
			return nil, classifyPgError(err)
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning table indexes")
		return nil, classifyPgError(err)
	}
	return indexes, nil
}

// CreateUserTable registers a table and creates its document storage in one
// transaction.
func (dm *userDBManager) CreateUserTable(ctx context.Context, table *models.UserDBTable) (err apperrors.Error) {
	if table.UserID.IsNil() || table.TableName == "" || table.PhyTable == "" || table.PkPath == "" {
		return dberror.ErrInvalidInput.Msg("user id, table name, physical table, and pk path are required")
	}
	if table.TsPath == "" {
		table.TsPath = types.DefaultTsPath
	}
	if len(table.PhyTable) > maxIdentLen-len("_ts_idx") {
		return dberror.ErrInvalidInput.Msg("physical table name too long")
	}
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return err
	}

	tx, errdb := dm.conn().BeginTx(ctx, nil)
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
		INSERT INTO userdb_tables (id, user_id, table_name, phy_table, pk_path, ts_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, errdb = tx.ExecContext(ctx, query, table.ID, table.UserID, table.TableName, table.PhyTable, table.PkPath, table.TsPath, table.CreatedAt)
	if errdb != nil {
		if isUniqueViolation(errdb, "userdb_tables_user_table_key") {
			log.Ctx(ctx).Info().Str("user_id", table.UserID.String()).Str("table", table.TableName).Msg("table already registered")
			return dberror.ErrAlreadyExists.Msg("table already registered")
		}
		if isUniqueViolation(errdb, "userdb_tables_phy_table_key") {
			log.Ctx(ctx).Error().Str("phy_table", table.PhyTable).Msg("physical table identifier already in use")
			return dberror.ErrAlreadyExists.Msg("physical table identifier already in use")
		}
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to insert table metadata")
		return classifyPgError(errdb)
	}

	phy := sanitizeIdent(table.PhyTable)
	ddl := `CREATE TABLE IF NOT EXISTS ` + phy + ` (
		pk   TEXT PRIMARY KEY,
		item JSONB NOT NULL,
		ts   BIGINT NOT NULL
	);`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("phy_table", table.PhyTable).Msg("failed to create document table")
		return classifyPgError(errdb)
	}
	ddl = `CREATE INDEX IF NOT EXISTS ` + sanitizeIdent(table.PhyTable+"_ts_idx") + ` ON ` + phy + ` (ts DESC);`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("phy_table", table.PhyTable).Msg("failed to create ts index")
		return classifyPgError(errdb)
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// GetUserTable returns a table's metadata.
func (dm *userDBManager) GetUserTable(ctx context.Context, userID types.UserID, tableName string) (*models.UserDBTable, apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	return lookupTable(ctx, dm.conn(), userID, tableName, "")
}

// ListUserTables returns all tables registered by a tenant.
func (dm *userDBManager) ListUserTables(ctx context.Context, userID types.UserID) ([]*models.UserDBTable, apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	query := `
		SELECT id, user_id, table_name, phy_table, pk_path, ts_path, created_at
		FROM userdb_tables
		WHERE user_id = $1
		ORDER BY table_name;
	`
	rows, err := dm.conn().QueryContext(ctx, query, userID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list tables")
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var tables []*models.UserDBTable
	for rows.Next() {
		t := &models.UserDBTable{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.TableName, &t.PhyTable, &t.PkPath, &t.TsPath, &t.CreatedAt); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan table row")
			return nil, classifyPgError(err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("error after scanning tables")
		return nil, classifyPgError(err)
	}
	return tables, nil
}

// DropUserTable removes the table's metadata, its index metadata, and every
// physical object in one transaction. The storage layer provides no cascade
// across dynamically created tables, so the cascade is explicit here.
func (dm *userDBManager) DropUserTable(ctx context.Context, userID types.UserID, tableName string) (err apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return err
	}

	tx, errdb := dm.conn().BeginTx(ctx, nil)
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

	table, err := lookupTable(ctx, tx, userID, tableName, "FOR UPDATE")
	if err != nil {
		return err
	}
	indexes, err := lookupIndexes(ctx, tx, userID, tableName)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM userdb_table_indexes WHERE user_id = $1 AND table_name = $2;
	`
	if _, errdb := tx.ExecContext(ctx, query, userID, tableName); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to delete index metadata")
		return classifyPgError(errdb)
	}
	query = `
		DELETE FROM userdb_tables WHERE id = $1;
	`
	if _, errdb := tx.ExecContext(ctx, query, table.ID); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to delete table metadata")
		return classifyPgError(errdb)
	}

	for _, idx := range indexes {
		ddl := `DROP TABLE IF EXISTS ` + sanitizeIdent(auxTableName(table.PhyTable, idx.ColName)) + `;`
		if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("col", idx.ColName).Msg("failed to drop auxiliary index table")
			return classifyPgError(errdb)
		}
	}
	ddl := `DROP TABLE IF EXISTS ` + sanitizeIdent(table.PhyTable) + `;`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("phy_table", table.PhyTable).Msg("failed to drop document table")
		return classifyPgError(errdb)
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// CreateTableIndex registers an index column and creates its auxiliary table
// in one transaction. Backfill over existing documents is the engine's
// responsibility and happens after this commits.
func (dm *userDBManager) CreateTableIndex(ctx context.Context, index *models.UserDBTableIndex) (err apperrors.Error) {
	if index.UserID.IsNil() || index.TableName == "" || index.ColName == "" || index.JSONPath == "" {
		return dberror.ErrInvalidInput.Msg("user id, table name, column name, and json path are required")
	}
	if !index.ColType.IsValid() {
		return dberror.ErrInvalidInput.Msg("unsupported column type")
	}
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return err
	}

	tx, errdb := dm.conn().BeginTx(ctx, nil)
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

	table, err := lookupTable(ctx, tx, index.UserID, index.TableName, "FOR UPDATE")
	if err != nil {
		return err
	}

	aux := auxTableName(table.PhyTable, index.ColName)
	if len(aux)+len("_val_idx") > maxIdentLen {
		return dberror.ErrInvalidInput.Msg("column name too long for auxiliary table")
	}

	query := `
		INSERT INTO userdb_table_indexes (id, user_id, table_name, col_name, json_path, col_type)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, errdb = tx.ExecContext(ctx, query, index.ID, index.UserID, index.TableName, index.ColName, index.JSONPath, index.ColType)
	if errdb != nil {
		if isUniqueViolation(errdb, "userdb_table_indexes_user_table_col_key") {
			log.Ctx(ctx).Info().Str("table", index.TableName).Str("col", index.ColName).Msg("index column already declared")
			return dberror.ErrAlreadyExists.Msg("index column already declared")
		}
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to insert index metadata")
		return classifyPgError(errdb)
	}

	ddl := `CREATE TABLE IF NOT EXISTS ` + sanitizeIdent(aux) + ` (
		pk  TEXT PRIMARY KEY,
		val ` + index.ColType.SQLType() + ` NOT NULL
	);`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("aux", aux).Msg("failed to create auxiliary index table")
		return classifyPgError(errdb)
	}
	ddl = `CREATE INDEX IF NOT EXISTS ` + sanitizeIdent(aux+"_val_idx") + ` ON ` + sanitizeIdent(aux) + ` (val);`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("aux", aux).Msg("failed to create value index")
		return classifyPgError(errdb)
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// GetTableIndexes returns the declared index columns of a table.
func (dm *userDBManager) GetTableIndexes(ctx context.Context, userID types.UserID, tableName string) ([]*models.UserDBTableIndex, apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	return lookupIndexes(ctx, dm.conn(), userID, tableName)
}

// DropTableIndex removes an index column's metadata and its auxiliary table
// in one transaction.
func (dm *userDBManager) DropTableIndex(ctx context.Context, userID types.UserID, tableName, colName string) (err apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return err
	}

	tx, errdb := dm.conn().BeginTx(ctx, nil)
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

	table, err := lookupTable(ctx, tx, userID, tableName, "FOR UPDATE")
	if err != nil {
		return err
	}

	query := `
		DELETE FROM userdb_table_indexes
		WHERE user_id = $1 AND table_name = $2 AND col_name = $3
		RETURNING id;
	`
	var deletedID any
	errdb = tx.QueryRowContext(ctx, query, userID, tableName, colName).Scan(&deletedID)
	if errdb != nil {
		if errdb == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("table", tableName).Str("col", colName).Msg("index column not found")
			return dberror.ErrNotFound.Msg("index column not found")
		}
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to delete index metadata")
		return classifyPgError(errdb)
	}

	ddl := `DROP TABLE IF EXISTS ` + sanitizeIdent(auxTableName(table.PhyTable, colName)) + `;`
	if _, errdb := tx.ExecContext(ctx, ddl); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("col", colName).Msg("failed to drop auxiliary index table")
		return classifyPgError(errdb)
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}
