package models

import (
	"github.com/edgestore/edgestore/pkg/types"
	"github.com/jackc/pgtype"
)

/*
  Table "public.user_views"
   Column   |         Type           | Collation | Nullable |      Default
------------+------------------------+-----------+----------+--------------------
 id         | bigint                 |           | not null | nextval(...)
 user_id    | character varying(128) |           | not null |
 dataset_id | character varying(128) |           | not null |
 version    | character varying(128) |           | not null |
 item       | jsonb                  |           | not null |
 ts         | bigint                 |           | not null |
Indexes:
    "user_views_pkey" PRIMARY KEY, btree (id)
    "user_views_user_dataset_version_idx" btree (user_id, dataset_id, version, ts, id)

The table is an append-only log: rows are never updated or deleted by the
engine, and no uniqueness holds across materialization runs. Latest-per-key
is a derived read.
*/

type UserView struct {
	ID        int64           `db:"id"`
	UserID    types.UserID    `db:"user_id"`
	DatasetID types.DatasetID `db:"dataset_id"`
	Version   string          `db:"version"`
	Item      pgtype.JSONB    `db:"item"` // JSONB
	Ts        int64           `db:"ts"`
}
