package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/internal/edgesrv/edgecommon"
	"github.com/edgestore/edgestore/pkg/types"
)

func TestProvisioning(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)

	// On a fresh database every operation refuses to run until the store is
	// provisioned. The probe result is cached process-wide, so the refusal is
	// only observable on the first run against an empty database.
	ok, err := DB(ctx).IsProvisioned(ctx)
	assert.NoError(t, err)
	if !ok {
		_, gerr := DB(ctx).GetMirrorVersion(ctx, "ds-fresh", "v1")
		assert.Error(t, gerr)
		assert.ErrorIs(t, gerr, dberror.ErrNotProvisioned)
	}

	err = DB(ctx).Provision(ctx)
	assert.NoError(t, err)

	// Provisioning is idempotent
	err = DB(ctx).Provision(ctx)
	assert.NoError(t, err)

	ok, err = DB(ctx).IsProvisioned(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPublishMirrorVersion(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	datasetID := testDatasetID()
	version := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   "v1700000000.abcd1234",
		Checksum:  "abcd1234",
		Ts:        1700000000,
	}
	items := []pgtype.JSONB{
		jsonb(t, `{"sku": "a", "price": 10}`),
		jsonb(t, `{"sku": "b", "price": 20}`),
	}

	err := DB(ctx).PublishMirrorVersion(ctx, version, items)
	assert.NoError(t, err)
	assert.NotZero(t, version.ID)

	got, err := DB(ctx).GetMirrorVersion(ctx, datasetID, version.Version)
	assert.NoError(t, err)
	assert.Equal(t, version.Checksum, got.Checksum)
	assert.Equal(t, version.Ts, got.Ts)

	count, err := DB(ctx).CountMirrorRows(ctx, datasetID, version.Version)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Re-publishing the same version with the same checksum is reported as a
	// duplicate and leaves the stored rows untouched.
	retry := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   version.Version,
		Checksum:  version.Checksum,
		Ts:        version.Ts,
	}
	err = DB(ctx).PublishMirrorVersion(ctx, retry, items)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrDuplicateVersion)

	count, err = DB(ctx).CountMirrorRows(ctx, datasetID, version.Version)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// A different checksum for the same version is a conflict.
	conflict := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   version.Version,
		Checksum:  "ffff0000",
		Ts:        version.Ts,
	}
	err = DB(ctx).PublishMirrorVersion(ctx, conflict, items)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrChecksumMismatch)

	got, err = DB(ctx).GetMirrorVersion(ctx, datasetID, version.Version)
	assert.NoError(t, err)
	assert.Equal(t, "abcd1234", got.Checksum)

	// Unknown version
	_, err = DB(ctx).GetMirrorVersion(ctx, datasetID, "v999.00000000")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestGetLatestMirrorVersion(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	datasetID := testDatasetID()

	// No versions yet
	_, err := DB(ctx).GetLatestMirrorVersion(ctx, datasetID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	publishTestVersion(t, ctx, datasetID, "v100.aaaa0000", 100)
	publishTestVersion(t, ctx, datasetID, "v300.bbbb0000", 300)
	publishTestVersion(t, ctx, datasetID, "v200.cccc0000", 200)

	latest, err := DB(ctx).GetLatestMirrorVersion(ctx, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, "v300.bbbb0000", latest.Version)

	// Equal ts: the most recently published version wins.
	publishTestVersion(t, ctx, datasetID, "v300.dddd0000", 300)
	latest, err = DB(ctx).GetLatestMirrorVersion(ctx, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, "v300.dddd0000", latest.Version)

	versions, err := DB(ctx).ListMirrorVersions(ctx, datasetID)
	assert.NoError(t, err)
	assert.Len(t, versions, 4)
	assert.Equal(t, "v300.dddd0000", versions[0].Version)
	assert.Equal(t, "v100.aaaa0000", versions[3].Version)
}

func TestListMirrorRows(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	datasetID := testDatasetID()
	version := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   "v1.aaaa0000",
		Checksum:  "aaaa0000",
		Ts:        1,
	}
	items := make([]pgtype.JSONB, 0, 5)
	for _, sku := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, jsonb(t, `{"sku": "`+sku+`"}`))
	}
	err := DB(ctx).PublishMirrorVersion(ctx, version, items)
	assert.NoError(t, err)

	// Page through with a batch smaller than the row count; rows come back
	// in insertion order.
	var skus []string
	var afterID int64
	for {
		page, err := DB(ctx).ListMirrorRows(ctx, datasetID, version.Version, afterID, 2)
		assert.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			skus = append(skus, gjson.GetBytes(row.Item.Bytes, "sku").Str)
		}
		afterID = page[len(page)-1].ID
		if len(page) < 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, skus)

	// Unknown version yields an empty page
	page, err := DB(ctx).ListMirrorRows(ctx, datasetID, "v2.ffff0000", 0, 10)
	assert.NoError(t, err)
	assert.Empty(t, page)
}

func TestUpsertUserContext(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	datasetID := testDatasetID()

	_, err := DB(ctx).GetUserContext(ctx, userID, datasetID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	uc := &models.UserContext{
		UserID:    userID,
		DatasetID: datasetID,
		Ctx:       jsonb(t, `{"region": "emea"}`),
		Ts:        100,
	}
	err = DB(ctx).UpsertUserContext(ctx, uc)
	assert.NoError(t, err)
	assert.NotZero(t, uc.ID)

	got, err := DB(ctx).GetUserContext(ctx, userID, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), got.Ts)
	assert.Equal(t, "emea", gjson.GetBytes(got.Ctx.Bytes, "region").Str)

	// Replacement is unconditional: an older ts still wins by call order.
	older := &models.UserContext{
		UserID:    userID,
		DatasetID: datasetID,
		Ctx:       jsonb(t, `{"region": "apac"}`),
		Ts:        50,
	}
	err = DB(ctx).UpsertUserContext(ctx, older)
	assert.NoError(t, err)

	got, err = DB(ctx).GetUserContext(ctx, userID, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, int64(50), got.Ts)
	assert.Equal(t, "apac", gjson.GetBytes(got.Ctx.Bytes, "region").Str)
}

func TestUserViewLog(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	datasetID := testDatasetID()
	version := "v1.aaaa0000"

	_, _, err := DB(ctx).GetLatestUserViewVersion(ctx, userID, datasetID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	batch := []*models.UserView{
		{UserID: userID, DatasetID: datasetID, Version: version, Item: jsonb(t, `{"sku": "a", "n": 1}`), Ts: 10},
		{UserID: userID, DatasetID: datasetID, Version: version, Item: jsonb(t, `{"sku": "b", "n": 1}`), Ts: 10},
		{UserID: userID, DatasetID: datasetID, Version: version, Item: jsonb(t, `{"sku": "c", "n": 1}`), Ts: 10},
	}
	err = DB(ctx).AppendUserViews(ctx, batch)
	assert.NoError(t, err)

	// A second materialization appends; the log keeps both runs.
	batch2 := []*models.UserView{
		{UserID: userID, DatasetID: datasetID, Version: version, Item: jsonb(t, `{"sku": "a", "n": 2}`), Ts: 20},
		{UserID: userID, DatasetID: datasetID, Version: version, Item: jsonb(t, `{"sku": "b", "n": 2}`), Ts: 20},
	}
	err = DB(ctx).AppendUserViews(ctx, batch2)
	assert.NoError(t, err)

	// Keyset-page the whole log in (ts, id) order.
	var seen []string
	afterTs, afterID := int64(-1), int64(0)
	for {
		page, err := DB(ctx).ListUserViews(ctx, userID, datasetID, version, 0, afterTs, afterID, 2)
		assert.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, v := range page {
			seen = append(seen, gjson.GetBytes(v.Item.Bytes, "sku").Str)
		}
		last := page[len(page)-1]
		afterTs, afterID = last.Ts, last.ID
		if len(page) < 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b"}, seen)

	// sinceTs restricts to the newer run.
	page, err := DB(ctx).ListUserViews(ctx, userID, datasetID, version, 20, -1, 0, 10)
	assert.NoError(t, err)
	assert.Len(t, page, 2)

	// Latest per key collapses the log to the newest entry per sku.
	latest, err := DB(ctx).LatestUserViewsPerKey(ctx, userID, datasetID, version, []string{"sku"})
	assert.NoError(t, err)
	assert.Len(t, latest, 3)
	byKey := map[string]int64{}
	for _, v := range latest {
		byKey[gjson.GetBytes(v.Item.Bytes, "sku").Str] = gjson.GetBytes(v.Item.Bytes, "n").Int()
	}
	assert.Equal(t, int64(2), byKey["a"])
	assert.Equal(t, int64(2), byKey["b"])
	assert.Equal(t, int64(1), byKey["c"])

	gotVersion, gotTs, err := DB(ctx).GetLatestUserViewVersion(ctx, userID, datasetID)
	assert.NoError(t, err)
	assert.Equal(t, version, gotVersion)
	assert.Equal(t, int64(20), gotTs)

	// Unknown version yields an empty sequence, not an error.
	page, err = DB(ctx).ListUserViews(ctx, userID, datasetID, "v9.ffff0000", 0, -1, 0, 10)
	assert.NoError(t, err)
	assert.Empty(t, page)
}

func TestCreateUserTable(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	table := testTableModel(userID, "orders")

	err := DB(ctx).CreateUserTable(ctx, table)
	assert.NoError(t, err)
	defer DB(ctx).DropUserTable(ctx, userID, table.TableName)

	// Registering the same logical table again fails
	dup := testTableModel(userID, "orders")
	err = DB(ctx).CreateUserTable(ctx, dup)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)

	got, err := DB(ctx).GetUserTable(ctx, userID, "orders")
	assert.NoError(t, err)
	assert.Equal(t, table.PhyTable, got.PhyTable)
	assert.Equal(t, "$.order_id", got.PkPath)

	tables, err := DB(ctx).ListUserTables(ctx, userID)
	assert.NoError(t, err)
	assert.Len(t, tables, 1)

	_, err = DB(ctx).GetUserTable(ctx, userID, "missing")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestUpsertDocument(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	table := testTableModel(userID, "orders")
	err := DB(ctx).CreateUserTable(ctx, table)
	require.NoError(t, err)
	defer DB(ctx).DropUserTable(ctx, userID, table.TableName)

	doc := &models.Document{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "open"}`), Ts: 100}
	err = DB(ctx).UpsertDocument(ctx, userID, "orders", doc, nil)
	assert.NoError(t, err)

	got, err := DB(ctx).GetDocument(ctx, userID, "orders", "o1")
	assert.NoError(t, err)
	assert.Equal(t, int64(100), got.Ts)

	// A newer ts replaces the document
	newer := &models.Document{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "closed"}`), Ts: 200}
	err = DB(ctx).UpsertDocument(ctx, userID, "orders", newer, nil)
	assert.NoError(t, err)

	got, err = DB(ctx).GetDocument(ctx, userID, "orders", "o1")
	assert.NoError(t, err)
	assert.Equal(t, int64(200), got.Ts)
	assert.Equal(t, "closed", gjson.GetBytes(got.Item.Bytes, "status").Str)

	// An older or equal ts is a stale write and changes nothing
	stale := &models.Document{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "reopened"}`), Ts: 200}
	err = DB(ctx).UpsertDocument(ctx, userID, "orders", stale, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrStaleWrite)

	got, err = DB(ctx).GetDocument(ctx, userID, "orders", "o1")
	assert.NoError(t, err)
	assert.Equal(t, "closed", gjson.GetBytes(got.Item.Bytes, "status").Str)

	// Batch: stale documents are skipped, the rest are applied
	docs := []*models.Document{
		{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "late"}`), Ts: 50},
		{Pk: "o2", Item: jsonb(t, `{"order_id": "o2", "status": "open"}`), Ts: 50},
	}
	applied, err := DB(ctx).UpsertDocuments(ctx, userID, "orders", docs, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, applied)

	list, err := DB(ctx).ListDocuments(ctx, userID, "orders", "", 10)
	assert.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "o1", list[0].Pk)

	err = DB(ctx).DeleteDocument(ctx, userID, "orders", "o1")
	assert.NoError(t, err)
	_, err = DB(ctx).GetDocument(ctx, userID, "orders", "o1")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	err = DB(ctx).DeleteDocument(ctx, userID, "orders", "o1")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestTableIndexes(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	table := testTableModel(userID, "orders")
	err := DB(ctx).CreateUserTable(ctx, table)
	require.NoError(t, err)
	defer DB(ctx).DropUserTable(ctx, userID, table.TableName)

	index := &models.UserDBTableIndex{
		ID:        uuid.New(),
		UserID:    userID,
		TableName: "orders",
		ColName:   "status",
		JSONPath:  "$.status",
		ColType:   types.ColumnTypeString,
	}
	err = DB(ctx).CreateTableIndex(ctx, index)
	assert.NoError(t, err)

	err = DB(ctx).CreateTableIndex(ctx, index)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)

	indexes, err := DB(ctx).GetTableIndexes(ctx, userID, "orders")
	assert.NoError(t, err)
	assert.Len(t, indexes, 1)
	assert.Equal(t, types.ColumnTypeString, indexes[0].ColType)

	// Documents written through the extract callback land in the index.
	extract := func(doc *models.Document, indexes []*models.UserDBTableIndex) ([]models.IndexEntry, apperrors.Error) {
		var entries []models.IndexEntry
		for _, idx := range indexes {
			v := gjson.GetBytes(doc.Item.Bytes, strings.TrimPrefix(idx.JSONPath, "$."))
			if !v.Exists() {
				continue
			}
			entries = append(entries, models.IndexEntry{ColName: idx.ColName, Val: v.Str})
		}
		return entries, nil
	}

	docs := []*models.Document{
		{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "open"}`), Ts: 1},
		{Pk: "o2", Item: jsonb(t, `{"order_id": "o2", "status": "closed"}`), Ts: 1},
		{Pk: "o3", Item: jsonb(t, `{"order_id": "o3"}`), Ts: 1},
	}
	applied, err := DB(ctx).UpsertDocuments(ctx, userID, "orders", docs, extract)
	assert.NoError(t, err)
	assert.Equal(t, 3, applied)

	found, err := DB(ctx).QueryByIndex(ctx, userID, "orders", "status", "eq", "open", 10)
	assert.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "o1", found[0].Pk)

	// Replacing a document rewrites its index entry
	updated := &models.Document{Pk: "o1", Item: jsonb(t, `{"order_id": "o1", "status": "closed"}`), Ts: 2}
	err = DB(ctx).UpsertDocument(ctx, userID, "orders", updated, extract)
	assert.NoError(t, err)

	found, err = DB(ctx).QueryByIndex(ctx, userID, "orders", "status", "eq", "closed", 10)
	assert.NoError(t, err)
	assert.Len(t, found, 2)

	// Backfill entries land through the aux upsert path
	err = DB(ctx).UpsertAuxEntries(ctx, userID, "orders", "status", []models.AuxEntry{
		{Pk: "o3", Val: "open"},
	})
	assert.NoError(t, err)
	found, err = DB(ctx).QueryByIndex(ctx, userID, "orders", "status", "eq", "open", 10)
	assert.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "o3", found[0].Pk)

	_, err = DB(ctx).QueryByIndex(ctx, userID, "orders", "status", "like", "open", 10)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	err = DB(ctx).DropTableIndex(ctx, userID, "orders", "status")
	assert.NoError(t, err)
	err = DB(ctx).DropTableIndex(ctx, userID, "orders", "status")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestDropUserTableCascade(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	ctx = newDb(ctx)
	defer DB(ctx).Close(ctx)
	provisionDb(t, ctx)

	userID := testUserID()
	table := testTableModel(userID, "orders")
	err := DB(ctx).CreateUserTable(ctx, table)
	require.NoError(t, err)

	index := &models.UserDBTableIndex{
		ID:        uuid.New(),
		UserID:    userID,
		TableName: "orders",
		ColName:   "status",
		JSONPath:  "$.status",
		ColType:   types.ColumnTypeString,
	}
	err = DB(ctx).CreateTableIndex(ctx, index)
	require.NoError(t, err)

	doc := &models.Document{Pk: "o1", Item: jsonb(t, `{"order_id": "o1"}`), Ts: 1}
	err = DB(ctx).UpsertDocument(ctx, userID, "orders", doc, nil)
	require.NoError(t, err)

	err = DB(ctx).DropUserTable(ctx, userID, "orders")
	assert.NoError(t, err)

	_, err = DB(ctx).GetUserTable(ctx, userID, "orders")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
	indexes, err := DB(ctx).GetTableIndexes(ctx, userID, "orders")
	assert.NoError(t, err)
	assert.Empty(t, indexes)

	err = DB(ctx).DropUserTable(ctx, userID, "orders")
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	// The physical table is gone, so the same logical name can be reused.
	again := testTableModel(userID, "orders")
	err = DB(ctx).CreateUserTable(ctx, again)
	assert.NoError(t, err)
	defer DB(ctx).DropUserTable(ctx, userID, "orders")
}

func TestReaderSessionRejectsWrites(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())

	// Provision through a writer session first
	wctx := newDb(ctx)
	provisionDb(t, wctx)
	DB(wctx).Close(wctx)

	// A reader session makes the whole connection read-only at the engine
	// level; mutations fail regardless of application-side checks.
	rctx := edgecommon.SetRoleInContext(ctx, types.RoleReader)
	rctx = newDb(rctx)
	defer DB(rctx).Close(rctx)

	uc := &models.UserContext{
		UserID:    testUserID(),
		DatasetID: testDatasetID(),
		Ctx:       jsonb(t, `{"region": "emea"}`),
		Ts:        1,
	}
	err := DB(rctx).UpsertUserContext(rctx, uc)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrUnauthorized)

	// Reads still work
	_, err = DB(rctx).GetUserContext(rctx, uc.UserID, uc.DatasetID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func newDb(c ...context.Context) context.Context {
	var ctx context.Context
	if len(c) > 0 {
		ctx = ConnCtx(c[0])
	} else {
		ctx = ConnCtx(log.Logger.WithContext(context.Background()))
	}
	return ctx
}

func provisionDb(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := DB(ctx).Provision(ctx); err != nil {
		t.Fatalf("unable to provision test database: %v", err)
	}
}

func publishTestVersion(t *testing.T, ctx context.Context, datasetID types.DatasetID, version string, ts int64) {
	t.Helper()
	v := &models.GlobalMirrorVersion{
		DatasetID: datasetID,
		Version:   version,
		Checksum:  version[strings.LastIndex(version, ".")+1:],
		Ts:        ts,
	}
	items := []pgtype.JSONB{jsonb(t, `{"sku": "a"}`)}
	if err := DB(ctx).PublishMirrorVersion(ctx, v, items); err != nil {
		t.Fatalf("unable to publish test version %s: %v", version, err)
	}
}

func jsonb(t *testing.T, s string) pgtype.JSONB {
	t.Helper()
	j := pgtype.JSONB{}
	if err := j.Set([]byte(s)); err != nil {
		t.Fatalf("unable to build jsonb value: %v", err)
	}
	return j
}

func testDatasetID() types.DatasetID {
	return types.DatasetID("ds-" + uuid.NewString()[:8])
}

func testUserID() types.UserID {
	return types.UserID("u-" + uuid.NewString()[:8])
}

func testTableModel(userID types.UserID, name string) *models.UserDBTable {
	return &models.UserDBTable{
		ID:        uuid.New(),
		UserID:    userID,
		TableName: name,
		PhyTable:  "udb_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		PkPath:    "$.order_id",
		TsPath:    "$.updated_at",
		CreatedAt: time.Now().Unix(),
	}
}
