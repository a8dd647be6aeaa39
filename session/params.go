package session

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"pgwireproxy/pgwire"
)

// substituteParams renders sql with every $n placeholder replaced by a SQL
// literal built from the portal's bound parameter values. The embedded
// and Spanner executors both take plain SQL text with no bind-parameter
// API of their own, so parameter binding is done here, once, before the
// statement ever reaches the downstream executor — a deliberate
// simplification documented in DESIGN.md.
func substituteParams(sql string, stmt *Statement, values [][]byte, formats []int16) (string, error) {
	if stmt.ParamCount == 0 {
		return sql, nil
	}
	if len(values) != stmt.ParamCount {
		return "", protocolError("execute: portal expects %d parameters, got %d", stmt.ParamCount, len(values))
	}

	literals := make([]string, stmt.ParamCount)
	for i := 0; i < stmt.ParamCount; i++ {
		format, err := pgwire.ResolveFormatCode(formats, i, stmt.ParamCount)
		if err != nil {
			return "", protocolError("%v", err)
		}
		lit, err := paramLiteral(values[i], format, paramOID(stmt, i))
		if err != nil {
			return "", err
		}
		literals[i] = lit
	}

	var missing error
	out := paramRefPattern.ReplaceAllStringFunc(sql, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		if n < 1 || n > len(literals) {
			missing = protocolError("parameter reference %s out of range", m)
			return m
		}
		return literals[n-1]
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

func paramOID(stmt *Statement, index int) int32 {
	if index < 0 || index >= len(stmt.ParamOIDs) {
		return 0
	}
	return stmt.ParamOIDs[index]
}

// paramLiteral renders one bound parameter value as SQL text, quoting it
// as a string literal unless its declared (or inferred) type is numeric.
func paramLiteral(raw []byte, format int16, oid int32) (string, error) {
	if raw == nil {
		return "NULL", nil
	}

	switch format {
	case pgwire.FormatCodeText:
		text := string(raw)
		if isNumericOID(oid) {
			return text, nil
		}
		if oid == 0 && looksNumeric(text) {
			return text, nil
		}
		return quoteSQLLiteral(text), nil

	case pgwire.FormatCodeBinary:
		switch oid {
		case executorOIDInt8:
			if len(raw) != 8 {
				return "", protocolError("binary int8 parameter must be 8 bytes, got %d", len(raw))
			}
			return strconv.FormatInt(int64(binary.BigEndian.Uint64(raw)), 10), nil
		case executorOIDFloat8:
			if len(raw) != 8 {
				return "", protocolError("binary float8 parameter must be 8 bytes, got %d", len(raw))
			}
			f := math.Float64frombits(binary.BigEndian.Uint64(raw))
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		case executorOIDBool:
			if len(raw) != 1 {
				return "", protocolError("binary bool parameter must be 1 byte, got %d", len(raw))
			}
			if raw[0] != 0 {
				return "TRUE", nil
			}
			return "FALSE", nil
		default:
			return "", unsupportedError("binary parameter format not supported for type oid %d", oid)
		}

	default:
		return "", protocolError("invalid parameter format code %d", format)
	}
}

func isNumericOID(oid int32) bool {
	return oid == executorOIDInt8 || oid == executorOIDFloat8
}

func looksNumeric(text string) bool {
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(text, 64)
	return err == nil
}

func quoteSQLLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
