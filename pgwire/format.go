package pgwire

import "fmt"

// DataFormat selects how a single result column is rendered on the wire.
type DataFormat int

const (
	// PgText is the PostgreSQL canonical text representation.
	PgText DataFormat = iota
	// PgBinary is the PostgreSQL binary representation.
	PgBinary
	// NativeText is the downstream executor's own text rendering, passed
	// through byte-for-byte with no reformatting.
	NativeText
)

// Wire format codes as carried in Bind/RowDescription (0 = text, 1 = binary).
const (
	FormatCodeText   int16 = 0
	FormatCodeBinary int16 = 1
)

// ResolveFormatCode applies the 0/1/N broadcast rule shared by Bind's
// parameter formats and result-format codes: an empty vector means "text
// for every column", a single-element vector broadcasts that one code to
// every column, and an N-element vector (N == numColumns) gives one code
// per column. Any other length is a protocol error.
func ResolveFormatCode(codes []int16, index, numColumns int) (int16, error) {
	switch len(codes) {
	case 0:
		return FormatCodeText, nil
	case 1:
		return codes[0], nil
	default:
		if len(codes) != numColumns {
			return 0, fmt.Errorf("format code vector has %d entries, expected 0, 1, or %d", len(codes), numColumns)
		}
		return codes[index], nil
	}
}
