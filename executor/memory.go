package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pgwireproxy/sqlengine"
	"pgwireproxy/storage"
)

// MemoryExecutor is a downstream Executor backed by an embedded, in-process
// SQL engine rather than a real managed database. It exists so the
// protocol engine can be exercised end-to-end in tests without a live
// backend to dial out to; no command-line flag selects it, and it is not
// a second production target.
type MemoryExecutor struct {
	engine storage.Engine
	sql    *sqlengine.Executor
}

// NewMemoryExecutor opens (or creates) an embedded database rooted at
// dataDir and wraps it as an Executor.
func NewMemoryExecutor(dataDir string, migrate bool) (*MemoryExecutor, error) {
	eng, err := storage.Open(dataDir, migrate)
	if err != nil {
		return nil, fmt.Errorf("open embedded engine: %w", err)
	}
	return &MemoryExecutor{engine: eng, sql: sqlengine.New(eng)}, nil
}

// Execute runs sql against the embedded engine and adapts its result to
// the Executor contract.
func (m *MemoryExecutor) Execute(_ context.Context, sql string) (*Result, error) {
	res, err := m.sql.Execute(sql)
	if err != nil {
		return nil, err
	}

	if res.Columns != nil {
		cols := make([]Column, len(res.Columns))
		for i, c := range res.Columns {
			cols[i] = Column{Name: c.Name, OID: c.TypeOID, Size: c.TypeSize}
		}
		return &Result{Columns: cols, Rows: res.Rows}, nil
	}

	return &Result{UpdateCount: updateCountFromTag(res.Tag)}, nil
}

// Close releases the embedded engine's resources.
func (m *MemoryExecutor) Close() error {
	return m.engine.Close()
}

// updateCountFromTag extracts the affected-row count the embedded engine
// already computed for DML tags ("INSERT 0 5", "UPDATE 3", "DELETE 2").
// DDL and transaction-control tags ("CREATE TABLE", "BEGIN", ...) carry no
// count and yield zero.
func updateCountFromTag(tag string) int64 {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0
	}
	switch fields[0] {
	case "INSERT", "UPDATE", "DELETE":
		return n
	default:
		return 0
	}
}
