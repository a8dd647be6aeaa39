// Package deepsize provides a reflection-based deep memory size calculator.
package deepsize

import (
	"reflect"
	"unsafe"
)

// hmapOverhead approximates the fixed cost of a Go map's internal header,
// independent of its entries.
const hmapOverhead = int64(unsafe.Sizeof(uint64(0))) * 8

// Of returns an estimate of the total memory occupied by v, including
// all reachable heap allocations (strings, slices, pointers, maps, etc.).
// It detects pointer cycles to avoid infinite recursion.
func Of(v any) int64 {
	if v == nil {
		return 0
	}
	seen := make(map[uintptr]bool)
	return measure(reflect.ValueOf(v), seen, true)
}

// measure computes the size of v. When inline is true, the value's own
// inline storage (the size reflect reports for its static type) is
// included; when false, only heap-allocated data reachable from v is
// counted, since the caller's container already accounted for the
// inline portion.
func measure(v reflect.Value, seen map[uintptr]bool, inline bool) int64 {
	if !v.IsValid() {
		return 0
	}

	own := int64(0)
	if inline {
		own = int64(v.Type().Size())
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return own
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return own
		}
		seen[ptr] = true
		if inline {
			return own + measure(v.Elem(), seen, true)
		}
		return int64(v.Elem().Type().Size()) + measure(v.Elem(), seen, false)

	case reflect.String:
		return own + int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return own
		}
		elemSize := int64(v.Type().Elem().Size())
		s := own + int64(v.Cap())*elemSize
		if containsPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += measure(v.Index(i), seen, false)
			}
		}
		return s

	case reflect.Array:
		s := own
		if containsPointers(v.Type().Elem()) {
			for i := 0; i < v.Len(); i++ {
				s += measure(v.Index(i), seen, false)
			}
		}
		return s

	case reflect.Struct:
		s := own
		for i := 0; i < v.NumField(); i++ {
			s += measure(v.Field(i), seen, false)
		}
		return s

	case reflect.Map:
		if v.IsNil() {
			return own
		}
		s := own + hmapOverhead
		iter := v.MapRange()
		for iter.Next() {
			s += measure(iter.Key(), seen, true)
			s += measure(iter.Value(), seen, true)
		}
		return s

	case reflect.Interface:
		if v.IsNil() {
			return own
		}
		if inline {
			return own + measure(v.Elem(), seen, true)
		}
		return measure(v.Elem(), seen, true)

	default:
		// bool, int*, uint*, float*, complex*
		return own
	}
}

// containsPointers reports whether a type might contain heap-allocated data.
func containsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.String,
		reflect.Interface:
		return true
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsPointers(t.Field(i).Type) {
				return true
			}
		}
	case reflect.Array:
		return containsPointers(t.Elem())
	}
	return false
}
