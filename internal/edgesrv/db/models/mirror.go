package models

import (
	"time"

	"github.com/edgestore/edgestore/pkg/types"
	"github.com/jackc/pgtype"
)

/*
  Table "public.global_mirror_versions"
   Column   |           Type           | Collation | Nullable |      Default
------------+--------------------------+-----------+----------+--------------------
 id         | bigint                   |           | not null | nextval(...)
 dataset_id | character varying(128)   |           | not null |
 version    | character varying(128)   |           | not null |
 checksum   | character varying(128)   |           | not null |
 ts         | bigint                   |           | not null |
 created_at | timestamp with time zone |           | not null | now()
Indexes:
    "global_mirror_versions_pkey" PRIMARY KEY, btree (id)
    "global_mirror_versions_dataset_version_key" UNIQUE, btree (dataset_id, version)
*/

type GlobalMirrorVersion struct {
	ID        int64           `db:"id"`
	DatasetID types.DatasetID `db:"dataset_id"`
	Version   string          `db:"version"`
	Checksum  string          `db:"checksum"`
	Ts        int64           `db:"ts"`
	CreatedAt time.Time       `db:"created_at"`
}

/*
  Table "public.global_rows"
   Column   |         Type           | Collation | Nullable |      Default
------------+------------------------+-----------+----------+--------------------
 id         | bigint                 |           | not null | nextval(...)
 dataset_id | character varying(128) |           | not null |
 version    | character varying(128) |           | not null |
 item       | jsonb                  |           | not null |
Indexes:
    "global_rows_pkey" PRIMARY KEY, btree (id)
    "global_rows_dataset_version_idx" btree (dataset_id, version, id)
*/

type GlobalRow struct {
	ID        int64           `db:"id"`
	DatasetID types.DatasetID `db:"dataset_id"`
	Version   string          `db:"version"`
	Item      pgtype.JSONB    `db:"item"` // JSONB
}
