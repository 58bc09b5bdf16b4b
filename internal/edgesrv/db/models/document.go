package models

import (
	"github.com/jackc/pgtype"

	"github.com/edgestore/edgestore/internal/common/apperrors"
)

/*
  Per-table document storage "<phy_table>"
 Column |  Type  | Collation | Nullable | Default
--------+--------+-----------+----------+---------
 pk     | text   |           | not null |
 item   | jsonb  |           | not null |
 ts     | bigint |           | not null |
Indexes:
    "<phy_table>_pkey" PRIMARY KEY, btree (pk)
    "<phy_table>_ts_idx" btree (ts DESC)

Created by table registration, dropped with the table. Writes are
last-writer-wins on ts via a conditional upsert.
*/

type Document struct {
	Pk   string       `db:"pk"`
	Item pgtype.JSONB `db:"item"` // JSONB
	Ts   int64        `db:"ts"`
}

// IndexEntry is one extracted value for a declared index column, destined for
// the column's auxiliary table. Val carries the coerced Go value matching the
// column type (string, float64, int64, time.Time, or bool). A document with
// no value at the indexed path produces no entry.
type IndexEntry struct {
	ColName string
	Val     any
}

// ExtractFunc computes the auxiliary index entries for a document. It is
// invoked inside the upsert transaction, after the table metadata row is
// locked, so the set of indexes it sees cannot change mid-write.
type ExtractFunc func(doc *Document, indexes []*UserDBTableIndex) ([]IndexEntry, apperrors.Error)

// AuxEntry is one (pk, value) pair written to a single column's auxiliary
// table during index backfill.
type AuxEntry struct {
	Pk  string
	Val any
}
