package sqlengine

import (
	"errors"
	"strconv"
	"time"

	"pgwireproxy/storage"
)

// QueryError is an error with a PostgreSQL SQLSTATE code attached, carried
// all the way out to the wire protocol's ErrorResponse message.
type QueryError struct {
	Code    string
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// SQLState implements the interface session.executionError uses to
// recover a specific SQLSTATE code from a downstream executor error.
func (e *QueryError) SQLState() string {
	return e.Code
}

// WrapError maps a storage-layer error to a QueryError with the matching
// SQLSTATE code. Errors that are already a QueryError pass through
// unchanged; anything else falls back to SQLSTATE XX000 (internal_error).
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}

	var tableExists *storage.TableExistsError
	var tableNotFound *storage.TableNotFoundError
	var columnNotFound *storage.ColumnNotFoundError
	var valueCount *storage.ValueCountError
	var uniqueViolation *storage.UniqueViolationError
	var columnExists *storage.ColumnExistsError
	var notNull *storage.NotNullViolationError

	switch {
	case errors.As(err, &tableExists):
		return &QueryError{Code: "42P07", Message: err.Error()} // duplicate_table
	case errors.As(err, &tableNotFound):
		return &QueryError{Code: "42P01", Message: err.Error()} // undefined_table
	case errors.As(err, &columnNotFound):
		return &QueryError{Code: "42703", Message: err.Error()} // undefined_column
	case errors.As(err, &valueCount):
		return &QueryError{Code: "42601", Message: err.Error()} // syntax_error
	case errors.As(err, &uniqueViolation):
		return &QueryError{Code: "23505", Message: err.Error()} // unique_violation
	case errors.As(err, &columnExists):
		return &QueryError{Code: "42701", Message: err.Error()} // duplicate_column
	case errors.As(err, &notNull):
		return &QueryError{Code: "23502", Message: err.Error()} // not_null_violation
	default:
		return &QueryError{Code: "XX000", Message: err.Error()}
	}
}

// castValue converts val to the Go representation of the named SQL type
// ("INTEGER", "TEXT", "BOOLEAN", "FLOAT", "TIMESTAMP"), as used by CAST.
// Unlike coerceLiteral, a failed or unrecognized cast yields NULL rather
// than an error — PostgreSQL's CAST raises at parse time for an unknown
// type, but by the time castValue runs the type name has already been
// validated by the parser, so the only failure mode left is a runtime
// value that cannot be converted.
func castValue(val any, typeName string) any {
	if val == nil {
		return nil
	}
	dt, err := parseDataType(typeName)
	if err != nil {
		return nil
	}
	out, err := coerceLiteral(val, dt)
	if err != nil {
		return nil
	}
	return out
}

// castTypeOID returns the wire-protocol type OID for a CAST target type name.
func castTypeOID(typeName string) int32 {
	dt, err := parseDataType(typeName)
	if err != nil {
		return OIDUnknown
	}
	switch dt {
	case storage.TypeInteger:
		return OIDInt8
	case storage.TypeFloat:
		return OIDFloat8
	case storage.TypeBoolean:
		return OIDBool
	case storage.TypeTimestamp:
		return OIDTimestampTZ
	default:
		return OIDText
	}
}

// castTypeSize returns the wire-protocol type size for a CAST target type name.
func castTypeSize(typeName string) int16 {
	dt, err := parseDataType(typeName)
	if err != nil {
		return -1
	}
	switch dt {
	case storage.TypeInteger:
		return 8
	case storage.TypeFloat:
		return 8
	case storage.TypeBoolean:
		return 1
	case storage.TypeTimestamp:
		return 8
	default:
		return -1
	}
}

// coerceToText renders a storage value as its textual (||-concatenable)
// form. Returns (_, false) for types with no defined text form.
func coerceToText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	case time.Time:
		return val.Format("2006-01-02 15:04:05+00"), true
	default:
		return "", false
	}
}
