package pgwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Reader reads PostgreSQL wire protocol messages from a connection.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps an io.Reader for reading PG protocol messages.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadStartup reads the initial untyped message from the client. It
// returns the parsed StartupMessage and whether the message was an SSL or
// cancel request (in which case msg is nil; isCancel distinguishes the
// two). The caller should refuse SSL and call ReadStartup again, or close
// the connection silently on a cancel request.
func (r *Reader) ReadStartup() (msg *StartupMessage, isSSL, isCancel bool, err error) {
	var length int32
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		return nil, false, false, fmt.Errorf("read startup length: %w", err)
	}
	if length < 8 {
		return nil, false, false, fmt.Errorf("startup message too short: %d bytes", length)
	}
	if err := checkMessageSize(length); err != nil {
		return nil, false, false, err
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, false, false, fmt.Errorf("read startup payload: %w", err)
	}

	version := int32(binary.BigEndian.Uint32(payload[:4]))

	if version == SSLRequestCode {
		return nil, true, false, nil
	}
	if version == CancelRequestCode {
		return nil, false, true, nil
	}
	if version != ProtocolVersion {
		return nil, false, false, fmt.Errorf("unsupported protocol version: %d.%d",
			version>>16, version&0xFFFF)
	}

	startup := &StartupMessage{
		ProtocolVersion: version,
		Parameters:      make(map[string]string),
	}
	params := payload[4:]
	for len(params) > 1 {
		key, rest := readCString(params)
		if len(rest) == 0 {
			break
		}
		value, rest := readCString(rest)
		startup.Parameters[key] = value
		params = rest
	}

	return startup, false, false, nil
}

// ReadMessage reads a typed message (1-byte type + int32 length + payload).
func (r *Reader) ReadMessage() (msgType byte, payload []byte, err error) {
	msgType, err = r.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	var length int32
	if err := binary.Read(r.r, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	if length < 4 {
		return 0, nil, fmt.Errorf("message length too short: %d", length)
	}
	if err := checkMessageSize(length); err != nil {
		return 0, nil, err
	}

	payload = make([]byte, length-4)
	if length > 4 {
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// DecodeParse parses the payload of a Parse message.
func DecodeParse(payload []byte) (*ParseMessage, error) {
	name, rest := readCString(payload)
	query, rest := readCString(rest)

	numParams, rest, err := readInt16(rest)
	if err != nil {
		return nil, fmt.Errorf("decode parse: %w", err)
	}
	oids := make([]int32, numParams)
	for i := range oids {
		oids[i], rest, err = readInt32(rest)
		if err != nil {
			return nil, fmt.Errorf("decode parse: param oid %d: %w", i, err)
		}
	}
	return &ParseMessage{StatementName: name, Query: query, ParamOIDs: oids}, nil
}

// DecodeBind parses the payload of a Bind message.
func DecodeBind(payload []byte) (*BindMessage, error) {
	portal, rest := readCString(payload)
	stmt, rest := readCString(rest)

	numFormats, rest, err := readInt16(rest)
	if err != nil {
		return nil, fmt.Errorf("decode bind: %w", err)
	}
	formats := make([]int16, numFormats)
	for i := range formats {
		formats[i], rest, err = readInt16(rest)
		if err != nil {
			return nil, fmt.Errorf("decode bind: param format %d: %w", i, err)
		}
	}

	numValues, rest, err := readInt16(rest)
	if err != nil {
		return nil, fmt.Errorf("decode bind: %w", err)
	}
	values := make([][]byte, numValues)
	for i := range values {
		values[i], rest, err = readBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("decode bind: param value %d: %w", i, err)
		}
	}

	numResultFormats, rest, err := readInt16(rest)
	if err != nil {
		return nil, fmt.Errorf("decode bind: %w", err)
	}
	resultFormats := make([]int16, numResultFormats)
	for i := range resultFormats {
		resultFormats[i], rest, err = readInt16(rest)
		if err != nil {
			return nil, fmt.Errorf("decode bind: result format %d: %w", i, err)
		}
	}

	return &BindMessage{
		PortalName:    portal,
		StatementName: stmt,
		ParamFormats:  formats,
		ParamValues:   values,
		ResultFormats: resultFormats,
	}, nil
}

// DecodeDescribe parses the payload of a Describe message.
func DecodeDescribe(payload []byte) (*DescribeMessage, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("decode describe: empty payload")
	}
	target := payload[0]
	name, _ := readCString(payload[1:])
	return &DescribeMessage{Target: target, Name: name}, nil
}

// DecodeExecute parses the payload of an Execute message.
func DecodeExecute(payload []byte) (*ExecuteMessage, error) {
	name, rest := readCString(payload)
	maxRows, _, err := readInt32(rest)
	if err != nil {
		return nil, fmt.Errorf("decode execute: %w", err)
	}
	return &ExecuteMessage{PortalName: name, MaxRows: maxRows}, nil
}

// DecodeClose parses the payload of a Close message.
func DecodeClose(payload []byte) (*CloseMessage, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("decode close: empty payload")
	}
	target := payload[0]
	name, _ := readCString(payload[1:])
	return &CloseMessage{Target: target, Name: name}, nil
}
