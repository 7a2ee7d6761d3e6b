package buslog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLayout   = errors.New("log layout error")
	ErrOverflow = errors.New("log overflow")
)

// IsHeader reports whether line looks like the capture column header.
func IsHeader(line string) bool {
	return strings.Contains(line, HeaderDescription) &&
		strings.Contains(line, HeaderDevice) &&
		strings.Contains(line, HeaderData) &&
		strings.Contains(line, HeaderTime)
}

// ResolveLayout computes the column layout from the header line and the
// dashed separator line beneath it.
func ResolveLayout(header, separator string) (ColumnLayout, error) {
	var layout ColumnLayout
	origin := strings.Index(header, HeaderDevice)
	if origin < 0 {
		return layout, fmt.Errorf("%w: header has no %q column", ErrLayout, HeaderDevice)
	}
	layout.Origin = origin

	cols := []struct {
		name     string
		col      *Column
		find     func(string, string) int
		optional bool
	}{
		{HeaderDevice, &layout.Device, strings.Index, false},
		{HeaderPhase, &layout.Phase, indexToken, true},
		{HeaderData, &layout.Data, strings.Index, false},
		{HeaderDescription, &layout.Description, strings.Index, false},
		{HeaderCmdPhase, &layout.CmdPhase, strings.Index, false},
		{HeaderTime, &layout.Time, strings.Index, false},
		{HeaderLength, &layout.Length, strings.Index, false},
	}
	for _, c := range cols {
		pos := c.find(header, c.name)
		if pos < 0 && c.optional {
			continue
		}
		if pos < 0 {
			return layout, fmt.Errorf("%w: header has no %q column", ErrLayout, c.name)
		}
		width := dashRun(separator, pos)
		if width <= 0 {
			return layout, fmt.Errorf("%w: separator has no dashes under %q at column %d", ErrLayout, c.name, pos)
		}
		*c.col = Column{Offset: pos - origin, Width: width}
	}
	return layout, nil
}

// dashRun counts consecutive '-' characters in s starting at pos.
func dashRun(s string, pos int) int {
	n := 0
	for i := pos; i >= 0 && i < len(s) && s[i] == '-'; i++ {
		n++
	}
	return n
}

// indexToken finds tok as a whitespace-delimited word so that "Phase" does
// not match inside "Cmd.Phase.Ofs(rep)".
func indexToken(s, tok string) int {
	from := 0
	for from <= len(s)-len(tok) {
		i := strings.Index(s[from:], tok)
		if i < 0 {
			return -1
		}
		pos := from + i
		end := pos + len(tok)
		before := pos == 0 || isBlank(s[pos-1])
		after := end == len(s) || isBlank(s[end])
		if before && after {
			return pos
		}
		from = pos + 1
	}
	return -1
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t'
}
