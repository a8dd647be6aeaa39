package session

import (
	"regexp"
	"strconv"
	"strings"

	"pgwireproxy/executor"
)

var paramRefPattern = regexp.MustCompile(`\$(\d+)`)

// Statement is a named (or unnamed) prepared SQL template, produced by a
// Parse message. It holds no bound parameter values — that is what a
// Portal adds.
type Statement struct {
	Name         string
	OriginalSQL  string
	RewrittenSQL string
	ParamCount   int
	ParamOIDs    []int32 // zero entry means "unspecified", inferred
	Command      string  // first token of RewrittenSQL, upper-cased
}

// newStatement builds a Statement from a Parse message's already-rewritten
// SQL text. ParamCount is the highest $n reference found in the text, not
// merely the count of distinct references, matching how PostgreSQL itself
// sizes the parameter list.
func newStatement(name, original, rewritten string, declaredOIDs []int32) *Statement {
	paramCount := 0
	for _, m := range paramRefPattern.FindAllStringSubmatch(rewritten, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > paramCount {
			paramCount = n
		}
	}
	oids := make([]int32, paramCount)
	copy(oids, declaredOIDs)

	return &Statement{
		Name:         name,
		OriginalSQL:  original,
		RewrittenSQL: rewritten,
		ParamCount:   paramCount,
		ParamOIDs:    oids,
		Command:      commandToken(rewritten),
	}
}

// commandToken extracts the first whitespace-delimited token of sql,
// upper-cased, used both as the PreparedStatement's command and as the
// fallback CommandComplete tag for statements the downstream executor
// doesn't specially tag.
func commandToken(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// CommandTag forms the CommandComplete tag for this statement's command
// given the number of rows involved, following PostgreSQL's conventions.
func CommandTag(command string, rows int64) string {
	switch command {
	case "SELECT", "FETCH":
		return "SELECT " + strconv.FormatInt(rows, 10)
	case "INSERT":
		return "INSERT 0 " + strconv.FormatInt(rows, 10)
	case "UPDATE":
		return "UPDATE " + strconv.FormatInt(rows, 10)
	case "DELETE":
		return "DELETE " + strconv.FormatInt(rows, 10)
	case "SET", "BEGIN", "COMMIT", "ROLLBACK":
		return command
	default:
		return command
	}
}

// Portal binds a Statement to actual parameter values and desired
// result-format codes. It is what Execute actually runs; it also owns the
// lazy, forward-only cursor over the downstream executor's result set.
type Portal struct {
	Name          string
	Statement     *Statement
	ParamValues   [][]byte
	ParamFormats  []int16
	ResultFormats []int16

	result  *executor.Result // nil until first Execute
	nextRow int              // index of the next row to emit, for resumption
	done    bool             // result set fully drained, or update already reported
}

// newPortal constructs a Portal, validating that the bound parameter count
// matches the statement's declared parameter count.
func newPortal(name string, stmt *Statement, paramFormats []int16, paramValues [][]byte, resultFormats []int16) (*Portal, error) {
	if len(paramValues) != stmt.ParamCount {
		return nil, protocolError("bind: statement %q expects %d parameters, got %d", stmt.Name, stmt.ParamCount, len(paramValues))
	}
	return &Portal{
		Name:          name,
		Statement:     stmt,
		ParamValues:   paramValues,
		ParamFormats:  paramFormats,
		ResultFormats: resultFormats,
	}, nil
}

// bindResult attaches the downstream executor's outcome to the portal the
// first time it is executed. Calling it more than once is a no-op.
func (p *Portal) bindResult(res *executor.Result) {
	if p.result == nil {
		p.result = res
	}
}

// hasResultSet reports whether the bound (and already-executed) portal
// produces rows rather than an update count.
func (p *Portal) hasResultSet() bool {
	return p.result != nil && p.result.Columns != nil
}

// remainingRows returns the slice of not-yet-emitted rows.
func (p *Portal) remainingRows() [][][]byte {
	if p.result == nil {
		return nil
	}
	return p.result.Rows[p.nextRow:]
}

// advance records that n more rows were emitted.
func (p *Portal) advance(n int) {
	p.nextRow += n
}

// exhausted reports whether every row of a bound result set has been
// emitted.
func (p *Portal) exhausted() bool {
	return p.result != nil && p.nextRow >= len(p.result.Rows)
}
