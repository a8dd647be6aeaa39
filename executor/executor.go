// Package executor defines the downstream executor contract: the opaque,
// blocking collaborator that the protocol engine hands translated SQL text
// to and that answers with either an update count or a result set. Nothing
// in this package is aware of the PostgreSQL wire format — that is the
// session package's job.
package executor

import (
	"context"
	"strings"
)

// Column describes one column of a result set in the terms the row
// encoder needs: a PostgreSQL type OID and the declared wire type size.
type Column struct {
	Name string
	OID  int32
	Size int16
}

// Result is the outcome of executing one SQL statement against the
// downstream service.
//
// Columns is non-nil for statements that produce a result set; in that
// case Rows holds the row data, already rendered in the downstream
// service's own text form (NativeText). A nil entry in a row means SQL
// NULL. For statements that do not produce a result set, Columns is nil
// and UpdateCount holds the number of rows affected.
type Result struct {
	Columns     []Column
	Rows        [][][]byte
	UpdateCount int64
}

// Executor executes translated SQL text against the downstream service.
// Implementations are expected to be safe for concurrent use across
// sessions; each session is expected to serialize its own calls.
type Executor interface {
	Execute(ctx context.Context, sql string) (*Result, error)
	Close() error
}

// isQueryStatement reports whether sql is expected to produce a result
// set (and so should be run as a read) rather than mutate data (and so
// should be run as a DML update). It looks only at the leading keyword,
// matching how the embedded engine's own parser dispatches statements.
func isQueryStatement(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES":
		return true
	default:
		return false
	}
}
