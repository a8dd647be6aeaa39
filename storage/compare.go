package storage

import (
	"strings"
	"time"
)

// CompareValues returns -1, 0, or 1 for ordering, or -2 if the values
// are not comparable (e.g. NULL or type mismatch).
func CompareValues(a, b any) int {
	if a == nil || b == nil {
		return -2
	}

	// Numeric values compare across int64/float64 by widening to float64.
	if an, ok := asFloat(a); ok {
		if bn, ok := asFloat(b); ok {
			return sign(an - bn)
		}
		return -2
	}

	switch av := a.(type) {
	case string:
		return compareAgainstString(av, b)
	case bool:
		return compareBools(av, b)
	case time.Time:
		return compareAgainstTime(av, b)
	default:
		return -2
	}
}

// asFloat reports whether v is an int64 or float64 and returns it widened
// to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func sign(d float64) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// compareAgainstString handles a string on the left, allowing comparison
// against another string or a time.Time (the string is parsed as a
// timestamp).
func compareAgainstString(av string, b any) int {
	switch bv := b.(type) {
	case string:
		return sign(float64(strings.Compare(av, bv)))
	case time.Time:
		t, err := ParseTimestamp(av)
		if err != nil {
			return -2
		}
		return CompareValues(t, bv)
	default:
		return -2
	}
}

func compareBools(av bool, b any) int {
	bv, ok := b.(bool)
	if !ok {
		return -2
	}
	switch {
	case av == bv:
		return 0
	case !av && bv:
		return -1
	default:
		return 1
	}
}

// compareAgainstTime handles a time.Time on the left, allowing comparison
// against another time.Time or a string parsed as a timestamp.
func compareAgainstTime(av time.Time, b any) int {
	switch bv := b.(type) {
	case time.Time:
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	case string:
		t, err := ParseTimestamp(bv)
		if err != nil {
			return -2
		}
		return CompareValues(av, t)
	default:
		return -2
	}
}
