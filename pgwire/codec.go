package pgwire

import (
	"encoding/binary"
	"fmt"
)

// readCString reads a null-terminated string from b, returning the string
// and the remaining bytes after the null terminator.
func readCString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}

// readInt16 reads a big-endian int16 from the front of b and returns the
// value plus the remaining bytes.
func readInt16(b []byte) (int16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, fmt.Errorf("truncated int16")
	}
	return int16(binary.BigEndian.Uint16(b)), b[2:], nil
}

// readInt32 reads a big-endian int32 from the front of b and returns the
// value plus the remaining bytes.
func readInt32(b []byte) (int32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("truncated int32")
	}
	return int32(binary.BigEndian.Uint32(b)), b[4:], nil
}

// readBytes reads a length-prefixed byte blob, where a length of -1 denotes
// SQL NULL (returned as a nil slice, distinct from a present zero-length
// value).
func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readInt32(b)
	if err != nil {
		return nil, nil, err
	}
	if n == -1 {
		return nil, rest, nil
	}
	if n < 0 {
		return nil, nil, fmt.Errorf("negative blob length: %d", n)
	}
	if int(n) > len(rest) {
		return nil, nil, fmt.Errorf("blob length %d exceeds remaining payload", n)
	}
	return rest[:n], rest[n:], nil
}

// checkMessageSize rejects a declared message length that exceeds the
// implementation ceiling before any buffer is allocated for it.
func checkMessageSize(length int32) error {
	if length < 0 {
		return fmt.Errorf("negative message length: %d", length)
	}
	if int64(length) > MaxMessageSize {
		return fmt.Errorf("message length %d exceeds maximum of %d", length, MaxMessageSize)
	}
	return nil
}
