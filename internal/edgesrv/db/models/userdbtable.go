package models

import (
	"github.com/edgestore/edgestore/pkg/types"
	"github.com/google/uuid"
)

/*
  Table "public.userdb_tables"
   Column   |         Type           | Collation | Nullable |     Default
------------+------------------------+-----------+----------+------------------
 id         | uuid                   |           | not null |
 user_id    | character varying(128) |           | not null |
 table_name | character varying(63)  |           | not null |
 phy_table  | character varying(63)  |           | not null |
 pk_path    | character varying(256) |           | not null |
 ts_path    | character varying(256) |           | not null | '$.updated_at'
 created_at | bigint                 |           | not null |
Indexes:
    "userdb_tables_pkey" PRIMARY KEY, btree (id)
    "userdb_tables_user_table_key" UNIQUE, btree (user_id, table_name)
    "userdb_tables_phy_table_key" UNIQUE, btree (phy_table)

phy_table names the physical document table "<phy_table>"(pk, item, ts).
pk_path and ts_path are immutable once the table is registered.
*/

type UserDBTable struct {
	ID        uuid.UUID    `db:"id"`
	UserID    types.UserID `db:"user_id"`
	TableName string       `db:"table_name"`
	PhyTable  string       `db:"phy_table"`
	PkPath    string       `db:"pk_path"`
	TsPath    string       `db:"ts_path"`
	CreatedAt int64        `db:"created_at"`
}

/*
  Table "public.userdb_table_indexes"
   Column   |         Type           | Collation | Nullable | Default
------------+------------------------+-----------+----------+---------
 id         | uuid                   |           | not null |
 user_id    | character varying(128) |           | not null |
 table_name | character varying(63)  |           | not null |
 col_name   | character varying(63)  |           | not null |
 json_path  | character varying(256) |           | not null |
 col_type   | character varying(16)  |           | not null |
Indexes:
    "userdb_table_indexes_pkey" PRIMARY KEY, btree (id)
    "userdb_table_indexes_user_table_col_key" UNIQUE, btree (user_id, table_name, col_name)
Check constraints:
    "userdb_table_indexes_col_type_check" CHECK (col_type IN
        ('string','number','integer','datetime','boolean'))

Each row is backed by an auxiliary table "<phy_table>__ix_<col_name>"(pk, val)
with a btree on (val); entries are maintained in the same transaction as the
document write.
*/

type UserDBTableIndex struct {
	ID        uuid.UUID        `db:"id"`
	UserID    types.UserID     `db:"user_id"`
	TableName string           `db:"table_name"`
	ColName   string           `db:"col_name"`
	JSONPath  string           `db:"json_path"`
	ColType   types.ColumnType `db:"col_type"`
}
