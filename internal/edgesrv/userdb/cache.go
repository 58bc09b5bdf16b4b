package userdb

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/pkg/types"
)

// tableMeta is the cached shape of one table: its registration row plus the
// declared indexes. pk_path and ts_path are immutable after registration, so
// read paths may serve them from cache; the index list is invalidated by
// every DDL operation, and write paths re-read it under lock inside their
// transaction regardless.
type tableMeta struct {
	table   *models.UserDBTable
	indexes []*models.UserDBTableIndex
}

// metaCache holds table metadata process-wide, keyed by user/table. ARC
// keeps both recency and frequency, which fits the usual mix of a few hot
// tables and many cold ones.
var metaCache *lru.ARCCache

func init() {
	c, err := lru.NewARC(config.Config().Engine.MetadataCacheSize)
	if err != nil {
		panic("unable to create userdb metadata cache: " + err.Error())
	}
	metaCache = c
}

func metaKey(userID types.UserID, tableName string) string {
	return userID.String() + "/" + tableName
}

// lookupMeta returns the table's metadata, served from cache when possible.
func lookupMeta(ctx context.Context, userID types.UserID, tableName string) (*tableMeta, apperrors.Error) {
	key := metaKey(userID, tableName)
	if v, ok := metaCache.Get(key); ok {
		if meta, ok := v.(*tableMeta); ok {
			return meta, nil
		}
	}

	table, err := db.DB(ctx).GetUserTable(ctx, userID, tableName)
	if err != nil {
		return nil, err
	}
	indexes, err := db.DB(ctx).GetTableIndexes(ctx, userID, tableName)
	if err != nil {
		return nil, err
	}
	meta := &tableMeta{table: table, indexes: indexes}
	metaCache.Add(key, meta)
	return meta, nil
}

// invalidateMeta drops the cache entry; every DDL operation on the table
// calls this after commit.
func invalidateMeta(userID types.UserID, tableName string) {
	metaCache.Remove(metaKey(userID, tableName))
}
