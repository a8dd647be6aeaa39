package sqlengine

// Column describes a column in a query result.
type Column struct {
	Name     string
	TypeOID  int32 // PostgreSQL type OID for wire protocol
	TypeSize int16 // type size in bytes (-1 for variable length)
}

// Result is the outcome of executing a single SQL statement.
type Result struct {
	// Columns is set for SELECT results. nil for non-SELECT.
	Columns []Column

	// Rows holds the result data for SELECT. Each row is a slice of
	// text-encoded values (nil entry means NULL). Outer slice = rows,
	// inner slice = columns.
	Rows [][][]byte

	// Tag is the CommandComplete tag, e.g. "SELECT 2", "INSERT 0 1".
	Tag string
}

// PostgreSQL type OIDs for the supported storage types.
const (
	OIDInt8         int32 = 20  // INT8 / BIGINT
	OIDText         int32 = 25  // TEXT
	OIDBool         int32 = 16  // BOOLEAN
	OIDFloat8       int32 = 701 // FLOAT8 / DOUBLE PRECISION
	OIDTimestampTZ  int32 = 1184 // TIMESTAMPTZ
	OIDUnknown      int32 = 705 // UNKNOWN (used for NULL columns)
)
