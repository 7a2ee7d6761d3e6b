package buslog

import (
	"errors"
	"fmt"
)

var ErrHexDecode = errors.New("hex decode error")

// DecodeHex converts the Data columns of a module into a packet buffer.
func DecodeHex(m Module) ([]byte, error) {
	return DecodeHexFields(m.DataFields())
}

// DecodeHexFields concatenates the hex text of each field into bytes. Spaces
// are skipped and a pair of hex digits forms one byte, high nibble first. A
// pair may straddle a space or a field boundary.
func DecodeHexFields(fields []string) ([]byte, error) {
	size := 0
	for _, f := range fields {
		size += len(f) / 2
	}
	out := make([]byte, 0, size)
	var cur byte
	half := false
	for li, f := range fields {
		for i := 0; i < len(f); i++ {
			c := f[i]
			if c == ' ' {
				continue
			}
			v, ok := nibble(c)
			if !ok {
				return nil, fmt.Errorf("%w: field %d offset %d: unexpected %q", ErrHexDecode, li, i, c)
			}
			if !half {
				cur = v
				half = true
				continue
			}
			out = append(out, cur<<4|v)
			half = false
		}
	}
	if half {
		return nil, fmt.Errorf("%w: odd number of hex digits", ErrHexDecode)
	}
	return out, nil
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
