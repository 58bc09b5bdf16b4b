package models

import (
	"github.com/edgestore/edgestore/pkg/types"
	"github.com/jackc/pgtype"
)

/*
  Table "public.user_contexts"
   Column   |         Type           | Collation | Nullable |      Default
------------+------------------------+-----------+----------+--------------------
 id         | bigint                 |           | not null | nextval(...)
 user_id    | character varying(128) |           | not null |
 dataset_id | character varying(128) |           | not null |
 ctx        | jsonb                  |           | not null |
 ts         | bigint                 |           | not null |
Indexes:
    "user_contexts_pkey" PRIMARY KEY, btree (id)
    "user_contexts_user_dataset_key" UNIQUE, btree (user_id, dataset_id)
*/

type UserContext struct {
	ID        int64           `db:"id"`
	UserID    types.UserID    `db:"user_id"`
	DatasetID types.DatasetID `db:"dataset_id"`
	Ctx       pgtype.JSONB    `db:"ctx"` // JSONB
	Ts        int64           `db:"ts"`
}
