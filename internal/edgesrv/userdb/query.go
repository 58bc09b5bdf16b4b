package userdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/config"
	"github.com/edgestore/edgestore/internal/edgesrv/db"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/internal/edgesrv/db/models"
	"github.com/edgestore/edgestore/pkg/types"
)

// Predicate operators. The auxiliary tables are btree-backed, so range
// operators resolve through the index like equality does.
const (
	OpEq = "eq"
	OpGt = "gt"
	OpGe = "ge"
	OpLt = "lt"
	OpLe = "le"
)

// Predicate filters one column.
type Predicate struct {
	Op    string // empty means OpEq
	Value any
	Limit int // 0 means unlimited
}

// Result carries the matched documents, ordered by primary key, plus cost
// metadata: Indexed reports whether an auxiliary index served the query, and
// Scanned how many documents were examined — on the unindexed path that is
// the whole table up to exhaustion, which is the caller's signal to declare
// an index.
type Result struct {
	Docs    []*models.Document
	Indexed bool
	Scanned int
}

// Query returns the documents whose value for colName satisfies the
// predicate. An indexed column resolves through its auxiliary table; an
// unindexed column falls back to a full scan, extracting colName as a
// document path (a bare field name addresses the top level).
func Query(ctx context.Context, userID types.UserID, tableName, colName string, p Predicate) (*Result, apperrors.Error) {
	if userID.IsNil() || tableName == "" || colName == "" {
		return nil, dberror.ErrInvalidInput.Msg("user id, table name and column name are required")
	}
	op := p.Op
	if op == "" {
		op = OpEq
	}
	switch op {
	case OpEq, OpGt, OpGe, OpLt, OpLe:
	default:
		return nil, dberror.ErrInvalidInput.Msg("unsupported operator " + p.Op)
	}
	if p.Value == nil {
		return nil, dberror.ErrInvalidInput.Msg("predicate value is required")
	}

	meta, err := lookupMeta(ctx, userID, tableName)
	if err != nil {
		return nil, err
	}

	for _, index := range meta.indexes {
		if index.ColName == colName {
			return queryIndexed(ctx, userID, tableName, index, op, p)
		}
	}
	return queryScan(ctx, userID, tableName, colName, op, p)
}

func queryIndexed(ctx context.Context, userID types.UserID, tableName string, index *models.UserDBTableIndex, op string, p Predicate) (*Result, apperrors.Error) {
	val, err := coerceQueryValue(p.Value, index.ColType)
	if err != nil {
		return nil, err
	}
	docs, err := db.DB(ctx).QueryByIndex(ctx, userID, tableName, index.ColName, op, val, p.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Docs: docs, Indexed: true, Scanned: len(docs)}, nil
}

func queryScan(ctx context.Context, userID types.UserID, tableName, colName, op string, p Predicate) (*Result, apperrors.Error) {
	path := colName
	if !strings.HasPrefix(path, "$.") {
		path = "$." + path
	}

	log.Ctx(ctx).Debug().
		Str("user", userID.String()).
		Str("table", tableName).
		Str("column", colName).
		Msg("unindexed query falling back to full scan")

	batchSize := config.Config().Engine.FetchBatchSize
	result := &Result{}
	afterPk := ""
	for {
		docs, err := db.DB(ctx).ListDocuments(ctx, userID, tableName, afterPk, batchSize)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return result, nil
		}
		for _, doc := range docs {
			result.Scanned++
			if matchScan(extractPath(doc.Item.Bytes, path), op, p.Value) {
				result.Docs = append(result.Docs, doc)
				if p.Limit > 0 && len(result.Docs) >= p.Limit {
					return result, nil
				}
			}
		}
		afterPk = docs[len(docs)-1].Pk
		if len(docs) < batchSize {
			return result, nil
		}
	}
}

// coerceQueryValue converts a caller-supplied predicate value into the Go
// value the column's auxiliary table compares against.
func coerceQueryValue(value any, colType types.ColumnType) (any, apperrors.Error) {
	switch colType {
	case types.ColumnTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case types.ColumnTypeNumber:
		if f, ok := asFloat(value); ok {
			return f, nil
		}
	case types.ColumnTypeInteger:
		if i, ok := asInt(value); ok {
			return i, nil
		}
	case types.ColumnTypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case types.ColumnTypeDatetime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, nil
			}
		}
	}
	return nil, dberror.ErrInvalidInput.Msg(fmt.Sprintf("predicate value %v does not match column type %s", value, colType))
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// matchScan compares one extracted document value against the predicate the
// same way the auxiliary table would: values of a different type than the
// predicate never match, mirroring how they would never have an index entry
// of that column type.
func matchScan(v gjson.Result, op string, want any) bool {
	switch want := want.(type) {
	case string:
		if v.Type != gjson.String {
			return false
		}
		return cmpOrder(strings.Compare(v.Str, want), op)
	case bool:
		if v.Type != gjson.True && v.Type != gjson.False {
			return false
		}
		return cmpOrder(cmpBool(v.Bool(), want), op)
	case time.Time:
		if v.Type != gjson.String {
			return false
		}
		t, err := time.Parse(time.RFC3339, v.Str)
		if err != nil {
			return false
		}
		return cmpOrder(cmpTime(t, want), op)
	default:
		f, ok := asFloat(want)
		if !ok {
			return false
		}
		if v.Type != gjson.Number {
			return false
		}
		return cmpOrder(cmpFloat(v.Num, f), op)
	}
}

func cmpOrder(c int, op string) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
