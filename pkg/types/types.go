package types

// UserID identifies a tenant. Every user-scoped row carries one and all
// access is partitioned by it.
type UserID string

// DatasetID names a globally published dataset.
type DatasetID string

func (u UserID) String() string {
	return string(u)
}

func (u UserID) IsNil() bool {
	return u == ""
}

func (d DatasetID) String() string {
	return string(d)
}

func (d DatasetID) IsNil() bool {
	return d == ""
}

// Role is the capability under which a caller operates. Writers have full
// read/write access; readers are rejected on any mutating operation.
type Role string

const (
	RoleWriter  Role = "writer"
	RoleReader  Role = "reader"
	RoleUnknown Role = "unknown"
)

func (r Role) CanWrite() bool {
	return r == RoleWriter
}

func RoleFromString(s string) Role {
	switch s {
	case string(RoleWriter):
		return RoleWriter
	case string(RoleReader):
		return RoleReader
	default:
		return RoleUnknown
	}
}

// ColumnType is the declared type of a secondary index over a JSON path.
type ColumnType string

const (
	ColumnTypeInvalid  ColumnType = "invalid"
	ColumnTypeString   ColumnType = "string"
	ColumnTypeNumber   ColumnType = "number"
	ColumnTypeInteger  ColumnType = "integer"
	ColumnTypeDatetime ColumnType = "datetime"
	ColumnTypeBoolean  ColumnType = "boolean"
)

func ColumnTypeFromString(s string) ColumnType {
	switch s {
	case string(ColumnTypeString):
		return ColumnTypeString
	case string(ColumnTypeNumber):
		return ColumnTypeNumber
	case string(ColumnTypeInteger):
		return ColumnTypeInteger
	case string(ColumnTypeDatetime):
		return ColumnTypeDatetime
	case string(ColumnTypeBoolean):
		return ColumnTypeBoolean
	default:
		return ColumnTypeInvalid
	}
}

func (t ColumnType) IsValid() bool {
	return t != ColumnTypeInvalid && ColumnTypeFromString(string(t)) == t
}

// SQLType returns the storage column type backing an index of this type.
func (t ColumnType) SQLType() string {
	switch t {
	case ColumnTypeString:
		return "TEXT"
	case ColumnTypeNumber:
		return "DOUBLE PRECISION"
	case ColumnTypeInteger:
		return "BIGINT"
	case ColumnTypeDatetime:
		return "TIMESTAMPTZ"
	case ColumnTypeBoolean:
		return "BOOLEAN"
	default:
		return ""
	}
}

func ColumnTypes() []ColumnType {
	return []ColumnType{
		ColumnTypeString,
		ColumnTypeNumber,
		ColumnTypeInteger,
		ColumnTypeDatetime,
		ColumnTypeBoolean,
	}
}

// DefaultTsPath is the timestamp path assigned to a table when none is
// declared at creation.
const DefaultTsPath = "$.updated_at"

type Nullable interface {
	IsNil() bool
}

var TestContextKey = struct{}{}
