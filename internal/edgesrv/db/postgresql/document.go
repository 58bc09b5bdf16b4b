package postgresql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/pkg/types"
)

// UpsertDocument writes a document and every affected auxiliary index entry
// in one transaction. The write is last-writer-wins on the document's ts: an
// incoming ts not strictly greater than the stored one is rejected with
// ErrStaleWrite and nothing changes. The table's metadata row is locked FOR
// SHARE so concurrent upserts run in parallel while DDL on the same table is
// excluded; the extract callback therefore sees a stable index set.
func (dm *userDBManager) UpsertDocument(ctx context.Context, userID types.UserID, tableName string, doc *models.Document, extract models.ExtractFunc) (err apperrors.Error) {
	if doc == nil || doc.Pk == "" {
		return dberror.ErrInvalidInput.Msg("document with a primary key is required")
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

	table, err := lookupTable(ctx, tx, userID, tableName, "FOR SHARE")
	if err != nil {
		return err
	}
	indexes, err := lookupIndexes(ctx, tx, userID, tableName)
	if err != nil {
		return err
	}

	var entries []models.IndexEntry
	if extract != nil {
		entries, err = extract(doc, indexes)
		if err != nil {
			return err
		}
	}

	if err := upsertDocumentRow(ctx, tx, table.PhyTable, doc); err != nil {
		return err
	}
	if err := replaceIndexEntries(ctx, tx, table.PhyTable, doc.Pk, indexes, entries); err != nil {
		return err
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// upsertDocumentRow performs the conditional write: insert when new, replace
// only when the incoming ts is strictly newer. No returned row means the
// stored document is at least as new.
func upsertDocumentRow(ctx context.Context, tx *sql.Tx, phyTable string, doc *models.Document) apperrors.Error {
	query := `
		INSERT INTO ` + sanitizeIdent(phyTable) + ` AS t (pk, item, ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk)
		DO UPDATE SET item = EXCLUDED.item, ts = EXCLUDED.ts
		WHERE t.ts < EXCLUDED.ts
		RETURNING ts;
	`
	var storedTs int64
	err := tx.QueryRowContext(ctx, query, doc.Pk, doc.Item, doc.Ts).Scan(&storedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("pk", doc.Pk).Int64("ts", doc.Ts).Msg("stale write rejected")
			return dberror.ErrStaleWrite.Msg("a newer document holds this key")
		}
		log.Ctx(ctx).Error().Err(err).Str("pk", doc.Pk).Msg("failed to upsert document")
		return classifyPgError(err)
	}
	return nil
}

// replaceIndexEntries rewrites the key's entry in every auxiliary table so
// the indexes always reflect the stored document. A document without a value
// at an indexed path simply has no entry there.
func replaceIndexEntries(ctx context.Context, tx *sql.Tx, phyTable, pk string, indexes []*models.UserDBTableIndex, entries []models.IndexEntry) apperrors.Error {
	byCol := make(map[string]any, len(entries))
	for _, e := range entries {
		byCol[e.ColName] = e.Val
	}
	for _, idx := range indexes {
		aux := sanitizeIdent(auxTableName(phyTable, idx.ColName))
		if _, errdb := tx.ExecContext(ctx, `DELETE FROM `+aux+` WHERE pk = $1;`, pk); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("col", idx.ColName).Msg("failed to clear index entry")
			return classifyPgError(errdb)
		}
		val, ok := byCol[idx.ColName]
		if !ok {
			continue
		}
		if _, errdb := tx.ExecContext(ctx, `INSERT INTO `+aux+` (pk, val) VALUES ($1, $2);`, pk, val); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("col", idx.ColName).Msg("failed to write index entry")
			return classifyPgError(errdb)
		}
	}
	return nil
}

// UpsertDocuments applies a batch of documents sequentially, each in its own
// transaction. Stale writes are skipped and counted out; any other failure
// stops the batch. Returns the number of documents applied.
func (dm *userDBManager) UpsertDocuments(ctx context.Context, userID types.UserID, tableName string, docs []*models.Document, extract models.ExtractFunc) (int, apperrors.Error) {
	applied := 0
	for _, doc := range docs {
		err := dm.UpsertDocument(ctx, userID, tableName, doc, extract)
		if err != nil {
			if err.Is(dberror.ErrStaleWrite) {
				continue
			}
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// GetDocument returns one document by primary key.
func (dm *userDBManager) GetDocument(ctx context.Context, userID types.UserID, tableName, pk string) (*models.Document, apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	table, err := lookupTable(ctx, dm.conn(), userID, tableName, "")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT pk, item, ts FROM ` + sanitizeIdent(table.PhyTable) + ` WHERE pk = $1;
	`
	doc := &models.Document{}
	errdb := dm.conn().QueryRowContext(ctx, query, pk).Scan(&doc.Pk, &doc.Item, &doc.Ts)
	if errdb != nil {
		if errdb == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("document not found")
		}
		log.Ctx(ctx).Error().Err(errdb).Str("pk", pk).Msg("failed to retrieve document")
		return nil, classifyPgError(errdb)
	}
	return doc, nil
}

// DeleteDocument removes a document and its index entries in one
// transaction.
func (dm *userDBManager) DeleteDocument(ctx context.Context, userID types.UserID, tableName, pk string) (err apperrors.Error) {
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

	table, err := lookupTable(ctx, tx, userID, tableName, "FOR SHARE")
	if err != nil {
		return err
	}
	indexes, err := lookupIndexes(ctx, tx, userID, tableName)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM ` + sanitizeIdent(table.PhyTable) + ` WHERE pk = $1 RETURNING ts;
	`
	var deletedTs int64
	errdb = tx.QueryRowContext(ctx, query, pk).Scan(&deletedTs)
	if errdb != nil {
		if errdb == sql.ErrNoRows {
			log.Ctx(ctx).Info().Str("pk", pk).Msg("document not found")
			return dberror.ErrNotFound.Msg("document not found")
		}
		log.Ctx(ctx).Error().Err(errdb).Str("pk", pk).Msg("failed to delete document")
		return classifyPgError(errdb)
	}

	for _, idx := range indexes {
		aux := sanitizeIdent(auxTableName(table.PhyTable, idx.ColName))
		if _, errdb := tx.ExecContext(ctx, `DELETE FROM `+aux+` WHERE pk = $1;`, pk); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("col", idx.ColName).Msg("failed to delete index entry")
			return classifyPgError(errdb)
		}
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}

// ListDocuments returns one keyset page of documents in pk order.
func (dm *userDBManager) ListDocuments(ctx context.Context, userID types.UserID, tableName, afterPk string, limit int) ([]*models.Document, apperrors.Error) {
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	table, err := lookupTable(ctx, dm.conn(), userID, tableName, "")
	if err != nil {
		return nil, err
	}
	query := `
		SELECT pk, item, ts FROM ` + sanitizeIdent(table.PhyTable) + `
		WHERE pk > $1
		ORDER BY pk
		LIMIT $2;
	`
	rows, errdb := dm.conn().QueryContext(ctx, query, afterPk, limit)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to list documents")
		return nil, classifyPgError(errdb)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		d := &models.Document{}
		if errdb := rows.Scan(&d.Pk, &d.Item, &d.Ts); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to scan document row")
			return nil, classifyPgError(errdb)
		}
		docs = append(docs, d)
	}
	if errdb := rows.Err(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("error after scanning documents")
		return nil, classifyPgError(errdb)
	}
	return docs, nil
}

// indexOps maps predicate operators onto SQL comparison operators. The aux
// tables are btree-indexed on val, so range operators resolve through the
// index.
var indexOps = map[string]string{
	"eq": "=",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

// QueryByIndex resolves matching primary keys through an auxiliary index
// table and returns the corresponding documents in pk order. A non-positive
// limit returns every match.
func (dm *userDBManager) QueryByIndex(ctx context.Context, userID types.UserID, tableName, colName, op string, val any, limit int) ([]*models.Document, apperrors.Error) {
	sqlOp, ok := indexOps[op]
	if !ok {
		return nil, dberror.ErrInvalidInput.Msg("unsupported predicate operator")
	}
	if err := ensureProvisioned(ctx, dm.conn()); err != nil {
		return nil, err
	}
	table, err := lookupTable(ctx, dm.conn(), userID, tableName, "")
	if err != nil {
		return nil, err
	}

	if limit < 0 {
		limit = 0
	}
	aux := sanitizeIdent(auxTableName(table.PhyTable, colName))
	query := `
		SELECT d.pk, d.item, d.ts
		FROM ` + sanitizeIdent(table.PhyTable) + ` d
		JOIN ` + aux + ` i ON i.pk = d.pk
		WHERE i.val ` + sqlOp + ` $1
		ORDER BY d.pk
		LIMIT NULLIF($2, 0);
	`
	rows, errdb := dm.conn().QueryContext(ctx, query, val, limit)
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("col", colName).Msg("failed to query by index")
		return nil, classifyPgError(errdb)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		d := &models.Document{}
		if errdb := rows.Scan(&d.Pk, &d.Item, &d.Ts); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to scan document row")
			return nil, classifyPgError(errdb)
		}
		docs = append(docs, d)
	}
	if errdb := rows.Err(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("error after scanning indexed query")
		return nil, classifyPgError(errdb)
	}
	return docs, nil
}

// UpsertAuxEntries writes one backfill batch into a column's auxiliary
// table. Existing entries are overwritten so a backfill can run while
// upserts maintain the same index.
func (dm *userDBManager) UpsertAuxEntries(ctx context.Context, userID types.UserID, tableName, colName string, entries []models.AuxEntry) (err apperrors.Error) {
	if len(entries) == 0 {
		return nil
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

	table, err := lookupTable(ctx, tx, userID, tableName, "FOR SHARE")
	if err != nil {
		return err
	}
	aux := sanitizeIdent(auxTableName(table.PhyTable, colName))

	for start := 0; start < len(entries); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO " + aux + " (pk, val) VALUES ")
		args := make([]any, 0, len(chunk)*2)
		for i, e := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("($" + strconv.Itoa(i*2+1) + ", $" + strconv.Itoa(i*2+2) + ")")
			args = append(args, e.Pk, e.Val)
		}
		sb.WriteString(" ON CONFLICT (pk) DO UPDATE SET val = EXCLUDED.val")
		if _, errdb := tx.ExecContext(ctx, sb.String(), args...); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("col", colName).Int("batch_start", start).Msg("failed to backfill index entries")
			return classifyPgError(errdb)
		}
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return classifyPgError(errdb)
	}
	return nil
}
