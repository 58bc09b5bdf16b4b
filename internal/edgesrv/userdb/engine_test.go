package userdb

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/pkg/types"
)

func TestCreateTable(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	table, err := CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "orders")

	assert.Equal(t, "orders", table.TableName)
	assert.Equal(t, DerivePhyTable(userID, "orders"), table.PhyTable)
	assert.Equal(t, "$.id", table.PkPath)
	assert.Equal(t, "$.updated_at", table.TsPath)

	_, err = CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)

	// Omitted ts path falls back to the default.
	table, err = CreateTable(ctx, userID, "returns", "", "$.id", "")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "returns")
	assert.Equal(t, types.DefaultTsPath, table.TsPath)

	tables, err := ListTables(ctx, userID)
	assert.NoError(t, err)
	assert.Len(t, tables, 2)

	got, indexes, err := TableInfo(ctx, userID, "orders")
	assert.NoError(t, err)
	assert.Equal(t, "orders", got.TableName)
	assert.Empty(t, indexes)

	_, _, err = TableInfo(ctx, userID, "missing")
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestCreateTableValidation(t *testing.T) {
	ctx := context.Background()
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "Orders", "", "$.id", "")
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	_, err = CreateTable(ctx, userID, "orders", "", "id", "")
	assert.ErrorIs(t, err, dberror.ErrInvalidPath)

	_, err = CreateTable(ctx, userID, "orders", "", "$.id", "updated_at")
	assert.ErrorIs(t, err, dberror.ErrInvalidPath)

	_, err = CreateTable(ctx, userID, "orders", "Bad-Phy", "$.id", "")
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	_, err = CreateTable(ctx, "", "orders", "", "$.id", "")
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "orders")

	doc, err := Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 5, "status": "open"}`))
	require.NoError(t, err)
	assert.Equal(t, "o1", doc.Pk)
	assert.Equal(t, int64(5), doc.Ts)

	require.NoError(t, CreateIndex(ctx, userID, "orders", "status", "$.status", types.ColumnTypeString))

	res, err := Query(ctx, userID, "orders", "status", Predicate{Op: OpEq, Value: "open"})
	require.NoError(t, err)
	assert.True(t, res.Indexed)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "o1", res.Docs[0].Pk)

	// An older write loses and changes nothing.
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 3, "status": "closed"}`))
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrStaleWrite)

	got, err := Get(ctx, userID, "orders", "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Ts)
	assert.Equal(t, "open", gjson.GetBytes(got.Item.Bytes, "status").Str)

	// Ties lose too: a write must be strictly newer.
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 5, "status": "closed"}`))
	assert.ErrorIs(t, err, dberror.ErrStaleWrite)

	// A newer write replaces the document and its index entries.
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 9, "status": "shipped"}`))
	require.NoError(t, err)

	res, err = Query(ctx, userID, "orders", "status", Predicate{Value: "open"})
	require.NoError(t, err)
	assert.Empty(t, res.Docs)
	res, err = Query(ctx, userID, "orders", "status", Predicate{Value: "shipped"})
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "o1", res.Docs[0].Pk)

	// Documents without a key have no identity to store.
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"updated_at": 1}`))
	assert.ErrorIs(t, err, dberror.ErrInvalidPath)

	_, err = Upsert(ctx, userID, "missing", json.RawMessage(`{"id": "o9"}`))
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestUpsertBatch(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "orders")

	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 5, "status": "open"}`))
	require.NoError(t, err)

	res, err := UpsertBatch(ctx, userID, "orders", []json.RawMessage{
		json.RawMessage(`{"id": "o1", "updated_at": 3, "status": "closed"}`),
		json.RawMessage(`{"id": "o2", "updated_at": 1, "status": "open"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Stale)

	got, err := Get(ctx, userID, "orders", "o1")
	require.NoError(t, err)
	assert.Equal(t, "open", gjson.GetBytes(got.Item.Bytes, "status").Str)
	_, err = Get(ctx, userID, "orders", "o2")
	assert.NoError(t, err)

	// A malformed document rejects the whole batch up front.
	_, err = UpsertBatch(ctx, userID, "orders", []json.RawMessage{
		json.RawMessage(`{"id": "o3", "updated_at": 1}`),
		json.RawMessage(`[1, 2]`),
	})
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
	_, err = Get(ctx, userID, "orders", "o3")
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestCreateIndexBackfill(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "catalog", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "catalog")

	// Fill one full backfill page with well-typed documents and put one
	// mistyped document on the page after it.
	n := config.Config().Engine.BackfillBatchSize
	items := make([]json.RawMessage, 0, n+1)
	for i := 0; i < n; i++ {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"id": "o%04d", "updated_at": 1, "price": %d}`, i, i)))
	}
	items = append(items, json.RawMessage(`{"id": "zzzz", "updated_at": 1, "price": "cheap"}`))
	res, err := UpsertBatch(ctx, userID, "catalog", items)
	require.NoError(t, err)
	require.Equal(t, n+1, res.Applied)

	err = CreateIndex(ctx, userID, "catalog", "price", "$.price", types.ColumnTypeInteger)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidPath)
	assert.Contains(t, err.Error(), "zzzz")

	// The index metadata and the entries of the completed page survive the
	// abort, so the index already serves queries over them.
	_, indexes, err := TableInfo(ctx, userID, "catalog")
	require.NoError(t, err)
	require.Len(t, indexes, 1)

	qres, err := Query(ctx, userID, "catalog", "price", Predicate{Value: 7})
	require.NoError(t, err)
	assert.True(t, qres.Indexed)
	require.Len(t, qres.Docs, 1)
	assert.Equal(t, "o0007", qres.Docs[0].Pk)

	// Removing the offender unblocks a clean re-run.
	require.NoError(t, Delete(ctx, userID, "catalog", "zzzz"))
	require.NoError(t, DropIndex(ctx, userID, "catalog", "price"))
	require.NoError(t, CreateIndex(ctx, userID, "catalog", "price", "$.price", types.ColumnTypeInteger))

	qres, err = Query(ctx, userID, "catalog", "price", Predicate{Op: OpGe, Value: n - 2})
	require.NoError(t, err)
	assert.True(t, qres.Indexed)
	assert.Len(t, qres.Docs, 2)

	// Documents without the indexed field simply have no entry.
	_, err = Upsert(ctx, userID, "catalog", json.RawMessage(`{"id": "o9998", "updated_at": 1}`))
	require.NoError(t, err)
	qres, err = Query(ctx, userID, "catalog", "price", Predicate{Op: OpGe, Value: 0})
	require.NoError(t, err)
	assert.Len(t, qres.Docs, n)
}

func TestIndexScanEquivalence(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "orders")

	_, err = UpsertBatch(ctx, userID, "orders", []json.RawMessage{
		json.RawMessage(`{"id": "a", "updated_at": 1, "status": "open", "qty": 1}`),
		json.RawMessage(`{"id": "b", "updated_at": 1, "status": "closed", "qty": 2}`),
		json.RawMessage(`{"id": "c", "updated_at": 1, "status": "open", "qty": 3}`),
	})
	require.NoError(t, err)

	require.NoError(t, CreateIndex(ctx, userID, "orders", "status", "$.status", types.ColumnTypeString))
	require.NoError(t, CreateIndex(ctx, userID, "orders", "qty", "$.qty", types.ColumnTypeInteger))

	preds := []struct {
		col  string
		pred Predicate
	}{
		{"status", Predicate{Op: OpEq, Value: "open"}},
		{"status", Predicate{Op: OpGt, Value: "closed"}},
		{"qty", Predicate{Op: OpGe, Value: 2}},
		{"qty", Predicate{Op: OpLt, Value: 3}},
		{"qty", Predicate{Op: OpEq, Value: 99}},
	}

	indexed := make([][]string, len(preds))
	for i, p := range preds {
		res, err := Query(ctx, userID, "orders", p.col, p.pred)
		require.NoError(t, err)
		assert.True(t, res.Indexed)
		indexed[i] = docPks(res)
	}

	require.NoError(t, DropIndex(ctx, userID, "orders", "status"))
	require.NoError(t, DropIndex(ctx, userID, "orders", "qty"))

	// The same predicates over the bare documents return the same rows,
	// now at full-scan cost.
	for i, p := range preds {
		res, err := Query(ctx, userID, "orders", p.col, p.pred)
		require.NoError(t, err)
		assert.False(t, res.Indexed)
		assert.Equal(t, 3, res.Scanned)
		assert.Equal(t, indexed[i], docPks(res), "predicate %s %v", p.col, p.pred)
	}

	// Limit short-circuits the scan.
	res, err := Query(ctx, userID, "orders", "status", Predicate{Value: "open", Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	assert.Equal(t, "a", res.Docs[0].Pk)
	assert.Equal(t, 1, res.Scanned)
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	userID := testUserID()

	_, err := Query(ctx, userID, "orders", "", Predicate{Value: "x"})
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	_, err = Query(ctx, userID, "orders", "status", Predicate{Op: "like", Value: "x"})
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	_, err = Query(ctx, userID, "orders", "status", Predicate{Op: OpEq})
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestDropTableCascade(t *testing.T) {
	ctx := newDb(t)
	defer db.DB(ctx).Close(ctx)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "orders", "", "$.id", "$.updated_at")
	require.NoError(t, err)
	require.NoError(t, CreateIndex(ctx, userID, "orders", "status", "$.status", types.ColumnTypeString))
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1", "updated_at": 1, "status": "open"}`))
	require.NoError(t, err)

	require.NoError(t, DropTable(ctx, userID, "orders"))

	_, _, err = TableInfo(ctx, userID, "orders")
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	_, err = Get(ctx, userID, "orders", "o1")
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	err = DropTable(ctx, userID, "orders")
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	// The logical name is free for a fresh registration.
	_, err = CreateTable(ctx, userID, "orders", "", "$.order_id", "")
	require.NoError(t, err)
	defer DropTable(ctx, userID, "orders")
	table, _, err := TableInfo(ctx, userID, "orders")
	require.NoError(t, err)
	assert.Equal(t, "$.order_id", table.PkPath)
}

func TestEngineRequiresWriter(t *testing.T) {
	ctx := edgecommon.SetRoleInContext(context.Background(), types.RoleReader)
	userID := testUserID()

	_, err := CreateTable(ctx, userID, "orders", "", "$.id", "")
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	err = CreateIndex(ctx, userID, "orders", "status", "$.status", types.ColumnTypeString)
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	_, err = Upsert(ctx, userID, "orders", json.RawMessage(`{"id": "o1"}`))
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	_, err = UpsertBatch(ctx, userID, "orders", nil)
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	err = Delete(ctx, userID, "orders", "o1")
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	err = DropIndex(ctx, userID, "orders", "status")
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
	err = DropTable(ctx, userID, "orders")
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)
}

func docPks(r *Result) []string {
	pks := make([]string, 0, len(r.Docs))
	for _, doc := range r.Docs {
		pks = append(pks, doc.Pk)
	}
	return pks
}

func newDb(t *testing.T) context.Context {
	t.Helper()
	ctx := log.Logger.WithContext(context.Background())
	ctx = db.ConnCtx(ctx)
	if db.DB(ctx) == nil {
		t.Fatal("unable to connect to test database")
	}
	if err := db.DB(ctx).Provision(ctx); err != nil {
		t.Fatalf("unable to provision test database: %v", err)
	}
	return ctx
}

func testUserID() types.UserID {
	return types.UserID("u-" + uuid.NewString()[:8])
}
