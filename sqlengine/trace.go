package sqlengine

import (
	"fmt"
	"time"
)

// Trace captures timing and metadata for a single statement execution.
// Only populated when tracing is enabled (ExecuteTraced).
type Trace struct {
	Total        time.Duration
	Parse        time.Duration // lexer + parser
	Plan         time.Duration // column resolution, filter building, aggregate detection
	Exec         time.Duration // storage engine calls (scan, insert, update, delete)
	Sort         time.Duration // ORDER BY sort, when not satisfied by an index
	JoinLoop     time.Duration // nested-loop join execution
	RowsScanned  int64
	RowsReturned int64
	UsedIndex    bool
	IndexName    string // name of the index used, "PRIMARY" for the primary key
	Table        string
	StmtType     string // "SELECT", "INSERT", etc.
}

// TraceToResult formats a Trace as a result set with columns "step" and "duration".
func TraceToResult(tr *Trace) *Result {
	if tr == nil {
		return &Result{
			Columns: []Column{
				{Name: "message", TypeOID: OIDText, TypeSize: -1},
			},
			Rows: [][][]byte{
				{[]byte("no trace available")},
			},
			Tag: "SELECT 1",
		}
	}

	cols := []Column{
		{Name: "step", TypeOID: OIDText, TypeSize: -1},
		{Name: "duration", TypeOID: OIDText, TypeSize: -1},
	}

	rows := [][][]byte{
		{[]byte("Parse"), []byte(tr.Parse.String())},
		{[]byte("Plan"), []byte(tr.Plan.String())},
		{[]byte("Execute"), []byte(tr.Exec.String())},
		{[]byte("Total"), []byte(tr.Total.String())},
		{[]byte("Statement"), []byte(tr.StmtType)},
	}

	if tr.Table != "" {
		rows = append(rows, [][]byte{[]byte("Table"), []byte(tr.Table)})
	}

	rows = append(rows, [][]byte{[]byte("Rows Scanned"), []byte(fmt.Sprintf("%d", tr.RowsScanned))})
	rows = append(rows, [][]byte{[]byte("Rows Returned"), []byte(fmt.Sprintf("%d", tr.RowsReturned))})

	if tr.IndexName != "" {
		rows = append(rows, [][]byte{[]byte("Index"), []byte(tr.IndexName)})
	}
	if tr.Sort > 0 {
		rows = append(rows, [][]byte{[]byte("Sort"), []byte(tr.Sort.String())})
	}
	if tr.JoinLoop > 0 {
		rows = append(rows, [][]byte{[]byte("Join Loop"), []byte(tr.JoinLoop.String())})
	}

	return &Result{
		Columns: cols,
		Rows:    rows,
		Tag:     fmt.Sprintf("SELECT %d", len(rows)),
	}
}
