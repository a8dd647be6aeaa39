package session

import (
	"encoding/binary"
	"math"
	"testing"

	"pgwireproxy/executor"
	"pgwireproxy/pgwire"
)

func TestEffectiveFormatEmptyVector(t *testing.T) {
	f, err := effectiveFormat(nil, 0, 1, pgwire.NativeText, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if f != pgwire.NativeText {
		t.Fatalf("format = %v, want NativeText", f)
	}
}

func TestEffectiveFormatForceBinaryOnlyInExtended(t *testing.T) {
	f, err := effectiveFormat(nil, 0, 1, pgwire.PgText, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if f != pgwire.PgBinary {
		t.Fatalf("format = %v, want PgBinary under extended+forceBinary", f)
	}

	f, err = effectiveFormat(nil, 0, 1, pgwire.PgText, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if f != pgwire.PgText {
		t.Fatalf("format = %v, want PgText when not extended (simple query ignores forceBinary)", f)
	}
}

func TestEffectiveFormatExplicitBinaryCode(t *testing.T) {
	f, err := effectiveFormat([]int16{pgwire.FormatCodeBinary}, 0, 2, pgwire.PgText, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if f != pgwire.PgBinary {
		t.Fatalf("format = %v, want PgBinary", f)
	}
}

func TestRenderColumnTextAndNativeTextPassThrough(t *testing.T) {
	for _, format := range []pgwire.DataFormat{pgwire.PgText, pgwire.NativeText} {
		out, err := renderColumn(format, executorOIDText, []byte("hello"))
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "hello" {
			t.Fatalf("format %v: out = %q, want %q", format, out, "hello")
		}
	}
}

func TestRenderBinaryInt8(t *testing.T) {
	out, err := renderBinary(executorOIDInt8, []byte("42"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 8 {
		t.Fatalf("len(out) = %d, want 8", len(out))
	}
	if got := int64(binary.BigEndian.Uint64(out)); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestRenderBinaryFloat8(t *testing.T) {
	out, err := renderBinary(executorOIDFloat8, []byte("3.5"))
	if err != nil {
		t.Fatal(err)
	}
	got := math.Float64frombits(binary.BigEndian.Uint64(out))
	if got != 3.5 {
		t.Fatalf("got %v, want 3.5", got)
	}
}

func TestRenderBinaryBool(t *testing.T) {
	out, err := renderBinary(executorOIDBool, []byte("t"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("out = %v, want [1]", out)
	}
	out, err = renderBinary(executorOIDBool, []byte("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 0 {
		t.Fatalf("out = %v, want [0]", out)
	}
}

func TestRenderBinaryTimestampTZ(t *testing.T) {
	out, err := renderBinary(executorOIDTimestampTZ, []byte("2000-01-01 00:00:01Z"))
	if err != nil {
		t.Fatal(err)
	}
	got := int64(binary.BigEndian.Uint64(out))
	if got != 1_000_000 {
		t.Fatalf("got %d microseconds, want 1000000 (1 second past PG epoch)", got)
	}
}

func TestRenderBinaryUnsupportedInt8(t *testing.T) {
	if _, err := renderBinary(executorOIDInt8, []byte("not-a-number")); err == nil {
		t.Fatal("expected error for non-numeric int8 binary encode")
	}
}

func TestEncodeRowHandlesNull(t *testing.T) {
	cols := []executor.Column{{Name: "v", OID: executorOIDText}}
	out, err := EncodeRow(cols, [][]byte{nil}, nil, pgwire.NativeText, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != nil {
		t.Fatalf("out[0] = %v, want nil", out[0])
	}
}

func TestEncodeRowBinaryPerColumnFormats(t *testing.T) {
	cols := []executor.Column{
		{Name: "a", OID: executorOIDInt8},
		{Name: "b", OID: executorOIDText},
	}
	row := [][]byte{[]byte("7"), []byte("hi")}
	out, err := EncodeRow(cols, row, []int16{pgwire.FormatCodeBinary, pgwire.FormatCodeText}, pgwire.PgText, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0]) != 8 {
		t.Fatalf("column 0 should be 8-byte binary int8, got %d bytes", len(out[0]))
	}
	if string(out[1]) != "hi" {
		t.Fatalf("column 1 = %q, want %q", out[1], "hi")
	}
}
