// Package userdb is the per-tenant document table engine: tenants register
// JSON document tables with a primary-key path and a timestamp path, declare
// typed secondary indexes over document paths, and read/write documents with
// last-writer-wins conflict resolution. Each logical table is backed by one
// physical document table plus one auxiliary table per declared index
// column, maintained in the same transaction as every document write.
package userdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/internal/edgesrv/notify"
	"github.com/edgestore/edgestore/internal/edgesrv/validation"
	"github.com/edgestore/edgestore/pkg/types"
)

// CreateTable registers a document table. An empty phyTable derives the
// physical identifier from (user, table); an empty tsPath falls back to the
// default. The registration row and the physical table are created in one
// transaction; a duplicate logical name or physical identifier fails with
// AlreadyExists.
func CreateTable(ctx context.Context, userID types.UserID, tableName, phyTable, pkPath, tsPath string) (*models.UserDBTable, apperrors.Error) {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return nil, dberror.ErrUnauthorized.Msg("table creation requires the writer capability")
	}
	if userID.IsNil() || !validation.ValidateName(userID.String()) {
		return nil, dberror.ErrInvalidInput.Msg("invalid user id")
	}
	if !validation.ValidateIdent(tableName) {
		return nil, dberror.ErrInvalidInput.Msg("invalid table name")
	}
	if !validation.ValidateJSONPath(pkPath) {
		return nil, dberror.ErrInvalidPath.Msg("invalid primary key path")
	}
	if tsPath == "" {
		tsPath = types.DefaultTsPath
	}
	if !validation.ValidateJSONPath(tsPath) {
		return nil, dberror.ErrInvalidPath.Msg("invalid timestamp path")
	}
	if phyTable == "" {
		phyTable = DerivePhyTable(userID, tableName)
	}
	if !validation.ValidateIdent(phyTable) {
		return nil, dberror.ErrInvalidInput.Msg("invalid physical table name")
	}

	table := &models.UserDBTable{
		ID:        uuid.New(),
		UserID:    userID,
		TableName: tableName,
		PhyTable:  phyTable,
		PkPath:    pkPath,
		TsPath:    tsPath,
		CreatedAt: time.Now().Unix(),
	}
	if err := db.DB(ctx).CreateUserTable(ctx, table); err != nil {
		return nil, err
	}
	invalidateMeta(userID, tableName)

	log.Ctx(ctx).Info().
		Str("user", userID.String()).
		Str("table", tableName).
		Str("phy_table", phyTable).
		Msg("registered table")
	return table, nil
}

// CreateIndex declares a typed index column over a document path and
// backfills it from existing documents. The metadata row and the auxiliary
// table commit first; backfill then pages through the documents in separate
// transactions. A document whose extracted value does not match the declared
// type aborts the backfill with InvalidPath — entries written by earlier
// batches and the index metadata stay in place, so a corrected re-run only
// has the tail left to do. Documents without a value at the path produce no
// entry.
func CreateIndex(ctx context.Context, userID types.UserID, tableName, colName, jsonPath string, colType types.ColumnType) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("index creation requires the writer capability")
	}
	if userID.IsNil() {
		return dberror.ErrInvalidInput.Msg("invalid user id")
	}
	if !validation.ValidateIdent(colName) {
		return dberror.ErrInvalidInput.Msg("invalid column name")
	}
	if !validation.ValidateJSONPath(jsonPath) {
		return dberror.ErrInvalidPath.Msg("invalid json path")
	}
	if !colType.IsValid() {
		return dberror.ErrInvalidInput.Msg("invalid column type")
	}

	index := &models.UserDBTableIndex{
		ID:        uuid.New(),
		UserID:    userID,
		TableName: tableName,
		ColName:   colName,
		JSONPath:  jsonPath,
		ColType:   colType,
	}
	if err := db.DB(ctx).CreateTableIndex(ctx, index); err != nil {
		return err
	}
	invalidateMeta(userID, tableName)

	if err := backfillIndex(ctx, userID, tableName, index); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Str("user", userID.String()).
		Str("table", tableName).
		Str("column", colName).
		Msg("created index")
	return nil
}

func backfillIndex(ctx context.Context, userID types.UserID, tableName string, index *models.UserDBTableIndex) apperrors.Error {
	batchSize := config.Config().Engine.BackfillBatchSize
	afterPk := ""
	for {
		docs, err := db.DB(ctx).ListDocuments(ctx, userID, tableName, afterPk, batchSize)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}

		entries := make([]models.AuxEntry, 0, len(docs))
		for _, doc := range docs {
			v := extractPath(doc.Item.Bytes, index.JSONPath)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			val, err := coerceValue(v, index.ColType)
			if err != nil {
				return err.Prefix("backfill stopped at document " + doc.Pk + ": ")
			}
			entries = append(entries, models.AuxEntry{Pk: doc.Pk, Val: val})
		}
		if err := db.DB(ctx).UpsertAuxEntries(ctx, userID, tableName, index.ColName, entries); err != nil {
			return err
		}

		afterPk = docs[len(docs)-1].Pk
		if len(docs) < batchSize {
			return nil
		}
	}
}

// indexExtractor returns the callback that computes auxiliary index entries
// for a document. The storage layer invokes it inside the write transaction
// with the locked index set, so entries always match the indexes in force
// at commit time.
func indexExtractor() models.ExtractFunc {
	return func(doc *models.Document, indexes []*models.UserDBTableIndex) ([]models.IndexEntry, apperrors.Error) {
		entries := make([]models.IndexEntry, 0, len(indexes))
		for _, index := range indexes {
			v := extractPath(doc.Item.Bytes, index.JSONPath)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			val, err := coerceValue(v, index.ColType)
			if err != nil {
				return nil, err.Prefix("column " + index.ColName + ": ")
			}
			entries = append(entries, models.IndexEntry{ColName: index.ColName, Val: val})
		}
		return entries, nil
	}
}

// Upsert writes one document. The primary key and timestamp are extracted
// from the document via the table's registered paths; a missing key rejects
// the write, a missing or malformed timestamp falls back to the wall clock.
// The write wins only if its timestamp is strictly newer than the stored one
// (StaleWrite otherwise), and every declared index is updated in the same
// transaction as the document.
func Upsert(ctx context.Context, userID types.UserID, tableName string, item json.RawMessage) (*models.Document, apperrors.Error) {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return nil, dberror.ErrUnauthorized.Msg("document writes require the writer capability")
	}
	doc, err := buildDocument(ctx, userID, tableName, item)
	if err != nil {
		return nil, err
	}
	if err := db.DB(ctx).UpsertDocument(ctx, userID, tableName, doc, indexExtractor()); err != nil {
		return nil, err
	}

	event := notify.NewEvent(notify.KindDocUpserted)
	event.UserID = userID
	event.Table = tableName
	event.Pk = doc.Pk
	notify.Emit(ctx, event)

	return doc, nil
}

// BatchResult summarizes a batch upsert.
type BatchResult struct {
	Applied int // documents written
	Stale   int // documents skipped by last-writer-wins
}

// UpsertBatch writes documents sequentially. Stale writes are skipped and
// counted; any other failure stops the batch with documents already written
// left in place.
func UpsertBatch(ctx context.Context, userID types.UserID, tableName string, items []json.RawMessage) (*BatchResult, apperrors.Error) {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return nil, dberror.ErrUnauthorized.Msg("document writes require the writer capability")
	}
	docs := make([]*models.Document, 0, len(items))
	for _, item := range items {
		doc, err := buildDocument(ctx, userID, tableName, item)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	applied, err := db.DB(ctx).UpsertDocuments(ctx, userID, tableName, docs, indexExtractor())
	if err != nil {
		return nil, err
	}
	result := &BatchResult{Applied: applied, Stale: len(docs) - applied}

	if applied > 0 {
		event := notify.NewEvent(notify.KindDocUpserted)
		event.UserID = userID
		event.Table = tableName
		event.Count = applied
		notify.Emit(ctx, event)
	}
	return result, nil
}

func buildDocument(ctx context.Context, userID types.UserID, tableName string, item json.RawMessage) (*models.Document, apperrors.Error) {
	if userID.IsNil() || tableName == "" {
		return nil, dberror.ErrInvalidInput.Msg("user id and table name are required")
	}
	if !gjson.ValidBytes(item) || !gjson.ParseBytes(item).IsObject() {
		return nil, dberror.ErrInvalidInput.Msg("document must be a JSON object")
	}

	meta, err := lookupMeta(ctx, userID, tableName)
	if err != nil {
		return nil, err
	}
	pk, err := extractPk(item, meta.table.PkPath)
	if err != nil {
		return nil, err
	}
	ts := extractTs(item, meta.table.TsPath, time.Now().Unix())

	doc := &models.Document{Pk: pk, Ts: ts}
	if errdb := doc.Item.Set([]byte(item)); errdb != nil {
		return nil, dberror.ErrInvalidInput.Msg("invalid document").Err(errdb)
	}
	return doc, nil
}

// Get returns one document by primary key.
func Get(ctx context.Context, userID types.UserID, tableName, pk string) (*models.Document, apperrors.Error) {
	if userID.IsNil() || tableName == "" || pk == "" {
		return nil, dberror.ErrInvalidInput.Msg("user id, table name and pk are required")
	}
	return db.DB(ctx).GetDocument(ctx, userID, tableName, pk)
}

// Delete removes a document and its index entries in one transaction.
func Delete(ctx context.Context, userID types.UserID, tableName, pk string) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("document deletion requires the writer capability")
	}
	if userID.IsNil() || tableName == "" || pk == "" {
		return dberror.ErrInvalidInput.Msg("user id, table name and pk are required")
	}
	if err := db.DB(ctx).DeleteDocument(ctx, userID, tableName, pk); err != nil {
		return err
	}

	event := notify.NewEvent(notify.KindDocDeleted)
	event.UserID = userID
	event.Table = tableName
	event.Pk = pk
	notify.Emit(ctx, event)
	return nil
}

// TableInfo returns the table's registration and declared indexes.
func TableInfo(ctx context.Context, userID types.UserID, tableName string) (*models.UserDBTable, []*models.UserDBTableIndex, apperrors.Error) {
	if userID.IsNil() || tableName == "" {
		return nil, nil, dberror.ErrInvalidInput.Msg("user id and table name are required")
	}
	meta, err := lookupMeta(ctx, userID, tableName)
	if err != nil {
		return nil, nil, err
	}
	return meta.table, meta.indexes, nil
}

// ListTables returns every table the tenant has registered.
func ListTables(ctx context.Context, userID types.UserID) ([]*models.UserDBTable, apperrors.Error) {
	if userID.IsNil() {
		return nil, dberror.ErrInvalidInput.Msg("user id is required")
	}
	return db.DB(ctx).ListUserTables(ctx, userID)
}

// DropIndex removes the index column's metadata and its auxiliary table in
// one transaction.
func DropIndex(ctx context.Context, userID types.UserID, tableName, colName string) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("index drops require the writer capability")
	}
	if userID.IsNil() || tableName == "" || colName == "" {
		return dberror.ErrInvalidInput.Msg("user id, table name and column name are required")
	}
	if err := db.DB(ctx).DropTableIndex(ctx, userID, tableName, colName); err != nil {
		return err
	}
	invalidateMeta(userID, tableName)
	return nil
}

// DropTable removes the table: metadata, every index, every auxiliary table
// and the document table, in one transaction. The drop is terminal; there
// are no tombstones.
func DropTable(ctx context.Context, userID types.UserID, tableName string) apperrors.Error {
	if !edgecommon.RoleFromContext(ctx).CanWrite() {
		return dberror.ErrUnauthorized.Msg("table drops require the writer capability")
	}
	if userID.IsNil() || tableName == "" {
		return dberror.ErrInvalidInput.Msg("user id and table name are required")
	}
	if err := db.DB(ctx).DropUserTable(ctx, userID, tableName); err != nil {
		return err
	}
	invalidateMeta(userID, tableName)

	event := notify.NewEvent(notify.KindTableDropped)
	event.UserID = userID
	event.Table = tableName
	notify.Emit(ctx, event)
	return nil
}
