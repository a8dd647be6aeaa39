package pgwire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildBindPayload(portal, stmt string, formats []int16, values [][]byte, resultFormats []int16) []byte {
	var buf []byte
	buf = append(buf, portal...)
	buf = append(buf, 0)
	buf = append(buf, stmt...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(formats)))
	for _, f := range formats {
		buf = binary.BigEndian.AppendUint16(buf, uint16(f))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(values)))
	for _, v := range values {
		if v == nil {
			buf = binary.BigEndian.AppendUint32(buf, ^uint32(0))
			continue
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(int32(len(v))))
		buf = append(buf, v...)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(resultFormats)))
	for _, f := range resultFormats {
		buf = binary.BigEndian.AppendUint16(buf, uint16(f))
	}
	return buf
}

func TestDecodeParse(t *testing.T) {
	var buf []byte
	buf = append(buf, "stmt1"...)
	buf = append(buf, 0)
	buf = append(buf, "SELECT $1"...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, 23)

	msg, err := DecodeParse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.StatementName != "stmt1" || msg.Query != "SELECT $1" {
		t.Fatalf("got %+v", msg)
	}
	if len(msg.ParamOIDs) != 1 || msg.ParamOIDs[0] != 23 {
		t.Fatalf("param oids = %v", msg.ParamOIDs)
	}
}

func TestDecodeBindWithNull(t *testing.T) {
	payload := buildBindPayload("p1", "s1", []int16{FormatCodeText}, [][]byte{[]byte("42"), nil}, []int16{})

	msg, err := DecodeBind(payload)
	if err != nil {
		t.Fatal(err)
	}
	if msg.PortalName != "p1" || msg.StatementName != "s1" {
		t.Fatalf("got %+v", msg)
	}
	if len(msg.ParamValues) != 2 || string(msg.ParamValues[0]) != "42" || msg.ParamValues[1] != nil {
		t.Fatalf("param values = %v", msg.ParamValues)
	}
	if len(msg.ResultFormats) != 0 {
		t.Fatalf("result formats = %v, want empty", msg.ResultFormats)
	}
}

func TestDecodeDescribeAndClose(t *testing.T) {
	payload := append([]byte{TargetStatement}, append([]byte("stmt1"), 0)...)
	d, err := DecodeDescribe(payload)
	if err != nil {
		t.Fatal(err)
	}
	if d.Target != TargetStatement || d.Name != "stmt1" {
		t.Fatalf("got %+v", d)
	}

	payload = append([]byte{TargetPortal}, append([]byte("p1"), 0)...)
	c, err := DecodeClose(payload)
	if err != nil {
		t.Fatal(err)
	}
	if c.Target != TargetPortal || c.Name != "p1" {
		t.Fatalf("got %+v", c)
	}
}

func TestDecodeExecute(t *testing.T) {
	var buf []byte
	buf = append(buf, "p1"...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, 100)

	msg, err := DecodeExecute(buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.PortalName != "p1" || msg.MaxRows != 100 {
		t.Fatalf("got %+v", msg)
	}
}

func TestResolveFormatCodeBroadcast(t *testing.T) {
	cases := []struct {
		codes []int16
		index int
		n     int
		want  int16
	}{
		{nil, 0, 3, FormatCodeText},
		{[]int16{FormatCodeBinary}, 2, 3, FormatCodeBinary},
		{[]int16{FormatCodeText, FormatCodeBinary, FormatCodeText}, 1, 3, FormatCodeBinary},
	}
	for _, c := range cases {
		got, err := ResolveFormatCode(c.codes, c.index, c.n)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Fatalf("ResolveFormatCode(%v, %d, %d) = %d, want %d", c.codes, c.index, c.n, got, c.want)
		}
	}
}

func TestResolveFormatCodeBadLength(t *testing.T) {
	if _, err := ResolveFormatCode([]int16{0, 1}, 0, 3); err == nil {
		t.Fatal("expected error for mismatched vector length")
	}
}

func TestReaderWriterMessageRoundtrip(t *testing.T) {
	var conn bytes.Buffer
	w := NewWriter(&conn)
	if err := w.WriteCommandComplete("SELECT 1"); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&conn)
	msgType, payload, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgCommandComplete {
		t.Fatalf("msgType = %q, want %q", msgType, MsgCommandComplete)
	}
	tag, _ := readCString(payload)
	if tag != "SELECT 1" {
		t.Fatalf("tag = %q, want %q", tag, "SELECT 1")
	}
}

func TestReadStartupSSLRequest(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(8))
	binary.Write(&buf, binary.BigEndian, SSLRequestCode)

	r := NewReader(&buf)
	_, isSSL, isCancel, err := r.ReadStartup()
	if err != nil {
		t.Fatal(err)
	}
	if !isSSL || isCancel {
		t.Fatalf("isSSL=%v isCancel=%v, want isSSL=true", isSSL, isCancel)
	}
}

func TestReadStartupParameters(t *testing.T) {
	var payload []byte
	payload = binary.BigEndian.AppendUint32(payload, uint32(ProtocolVersion))
	payload = append(payload, "user"...)
	payload = append(payload, 0)
	payload = append(payload, "alice"...)
	payload = append(payload, 0)
	payload = append(payload, 0) // trailing terminator

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(len(payload)+4))
	buf.Write(payload)

	r := NewReader(&buf)
	msg, isSSL, isCancel, err := r.ReadStartup()
	if err != nil {
		t.Fatal(err)
	}
	if isSSL || isCancel {
		t.Fatalf("isSSL=%v isCancel=%v, want both false", isSSL, isCancel)
	}
	if msg.Parameters["user"] != "alice" {
		t.Fatalf("parameters = %v", msg.Parameters)
	}
}
