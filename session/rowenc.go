package session

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"pgwireproxy/executor"
	"pgwireproxy/pgwire"
)

// pgEpoch is the zero point PostgreSQL's binary timestamp format counts
// microseconds from (2000-01-01 00:00:00 UTC), as opposed to the Unix
// epoch.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// nativeTimeLayouts are the text forms the embedded engine and the
// Spanner executor render timestamps in; binary encoding needs to parse
// one of these back into a time.Time.
var nativeTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999Z07:00",
	time.RFC3339Nano,
}

// effectiveFormat resolves the per-column wire format for one result
// column, applying the 0/1/N broadcast rule to resultFormats and the
// force-binary override for an extended-mode Bind with an empty format
// vector. Simple query mode never sets extended, so forceBinary never
// applies there, matching §6's "ignored in simple query mode".
func effectiveFormat(resultFormats []int16, index, numColumns int, sessionDefault pgwire.DataFormat, forceBinary, extended bool) (pgwire.DataFormat, error) {
	if len(resultFormats) == 0 {
		if extended && forceBinary {
			return pgwire.PgBinary, nil
		}
		return sessionDefault, nil
	}
	code, err := pgwire.ResolveFormatCode(resultFormats, index, numColumns)
	if err != nil {
		return 0, protocolError("%v", err)
	}
	if code == pgwire.FormatCodeBinary {
		return pgwire.PgBinary, nil
	}
	return sessionDefault, nil
}

// EncodeRow renders one downstream result row as wire-ready column
// values, resolving each column's effective format independently as
// §4.F requires.
func EncodeRow(cols []executor.Column, row [][]byte, resultFormats []int16, sessionDefault pgwire.DataFormat, forceBinary, extended bool) ([][]byte, error) {
	out := make([][]byte, len(row))
	for i, raw := range row {
		if raw == nil {
			out[i] = nil
			continue
		}
		format, err := effectiveFormat(resultFormats, i, len(cols), sessionDefault, forceBinary, extended)
		if err != nil {
			return nil, err
		}
		v, err := renderColumn(format, cols[i].OID, raw)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// renderColumn renders one column value under format. Both PgText and
// NativeText pass the downstream executor's own text bytes straight
// through: the embedded engine and the Spanner executor both already
// render scalars in PostgreSQL's own text conventions (see
// sqlengine.formatValue and executor.genericValueToText), so there is no
// separate "PostgreSQL text" transform to apply — the distinction the
// spec draws only bites for PgBinary.
func renderColumn(format pgwire.DataFormat, oid int32, native []byte) ([]byte, error) {
	switch format {
	case pgwire.PgText, pgwire.NativeText:
		return native, nil
	case pgwire.PgBinary:
		return renderBinary(oid, native)
	default:
		return native, nil
	}
}

func renderBinary(oid int32, native []byte) ([]byte, error) {
	text := string(native)
	switch oid {
	case executorOIDInt8:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, unsupportedError("binary encode int8: %v", err)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case executorOIDFloat8:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, unsupportedError("binary encode float8: %v", err)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case executorOIDBool:
		if text == "t" {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case executorOIDTimestampTZ:
		t, err := parseNativeTime(text)
		if err != nil {
			return nil, unsupportedError("binary encode timestamptz: %v", err)
		}
		micros := t.Sub(pgEpoch).Microseconds()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(micros))
		return buf, nil
	default:
		// TEXT and UNKNOWN (and anything else we don't special-case):
		// PostgreSQL's binary wire form for text is just its bytes.
		return native, nil
	}
}

func parseNativeTime(text string) (time.Time, error) {
	var lastErr error
	for _, layout := range nativeTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// PostgreSQL type OIDs this encoder knows how to binary-encode, mirrored
// from sqlengine's own OID constants so this package does not need to
// import the embedded engine just for six numbers.
const (
	executorOIDBool        int32 = 16
	executorOIDInt8        int32 = 20
	executorOIDText        int32 = 25
	executorOIDFloat8      int32 = 701
	executorOIDUnknown     int32 = 705
	executorOIDTimestampTZ int32 = 1184
)
