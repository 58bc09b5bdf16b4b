package userdb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/common/apperrors"
	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/pkg/types"
)

// DerivePhyTable builds the deterministic physical identifier for a logical
// table. Logical renames and tenant collisions never touch it, so stored
// documents never relocate.
func DerivePhyTable(userID types.UserID, tableName string) string {
	sum := sha256.Sum256([]byte(userID.String() + ":" + tableName))
	return "udb_" + hex.EncodeToString(sum[:])[:16]
}

// extractPath resolves a "$."-rooted dotted path inside a document. A path
// without the prefix never resolves.
func extractPath(item []byte, path string) gjson.Result {
	if !strings.HasPrefix(path, "$.") {
		return gjson.Result{}
	}
	return gjson.GetBytes(item, path[2:])
}

// extractPk returns the document's primary key as a string. Missing or
// empty keys are rejected: a document without identity cannot be stored.
func extractPk(item []byte, pkPath string) (string, apperrors.Error) {
	v := extractPath(item, pkPath)
	if !v.Exists() || v.Type == gjson.Null {
		return "", dberror.ErrInvalidPath.Msg("missing primary key at " + pkPath)
	}
	pk := v.String()
	if pk == "" {
		return "", dberror.ErrInvalidPath.Msg("empty primary key at " + pkPath)
	}
	return pk, nil
}

// extractTs returns the document's write timestamp. Integer values and
// digit-only strings are taken as epoch seconds; anything else (missing,
// fractional, negative, non-numeric) falls back to now.
func extractTs(item []byte, tsPath string, now int64) int64 {
	v := extractPath(item, tsPath)
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = v.Str
	default:
		return now
	}
	if !digitsOnly(raw) {
		return now
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return now
	}
	return ts
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// coerceValue converts an extracted JSON value into the Go value stored in
// the column's auxiliary table. A value whose JSON type does not fit the
// declared column type is a mismatch, not a silent cast.
func coerceValue(v gjson.Result, colType types.ColumnType) (any, apperrors.Error) {
	switch colType {
	case types.ColumnTypeString:
		if v.Type == gjson.String {
			return v.Str, nil
		}
	case types.ColumnTypeNumber:
		if v.Type == gjson.Number {
			return v.Num, nil
		}
	case types.ColumnTypeInteger:
		if v.Type == gjson.Number && v.Num == math.Trunc(v.Num) && !strings.Contains(v.Raw, ".") {
			return int64(v.Num), nil
		}
	case types.ColumnTypeBoolean:
		if v.Type == gjson.True || v.Type == gjson.False {
			return v.Bool(), nil
		}
	case types.ColumnTypeDatetime:
		if v.Type == gjson.String {
			if t, err := time.Parse(time.RFC3339, v.Str); err == nil {
				return t, nil
			}
		}
		if v.Type == gjson.Number && digitsOnly(v.Raw) {
			return time.Unix(int64(v.Num), 0).UTC(), nil
		}
	}
	return nil, dberror.ErrInvalidPath.Msg(fmt.Sprintf("value %s does not match column type %s", v.Raw, colType))
}
