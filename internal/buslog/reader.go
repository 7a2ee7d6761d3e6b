package buslog

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"example.com/u3vlog/internal/common"
)

const (
	DefaultMaxModuleLines = 100000
	DefaultMaxModules     = 100000

	maxLineBytes = 1 << 20
)

// Limits bounds the amount of input a Reader accepts.
type Limits struct {
	MaxModuleLines int
	MaxModules     int
}

// Reader groups the lines of a capture log into modules.
type Reader struct {
	sc     *bufio.Scanner
	limits Limits
	lineNo int

	header    string
	separator string
	layout    ColumnLayout

	pending *LogLine
	key     string
	modules int

	metrics *common.Metrics
}

// NewReader consumes the header and separator lines of r and resolves the
// column layout. Lines preceding the header are ignored.
func NewReader(r io.Reader, limits Limits) (*Reader, error) {
	if limits.MaxModuleLines <= 0 {
		limits.MaxModuleLines = DefaultMaxModuleLines
	}
	if limits.MaxModules <= 0 {
		limits.MaxModules = DefaultMaxModules
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	rd := &Reader{sc: sc, limits: limits}

	for {
		line, ok := rd.readLine()
		if !ok {
			if err := rd.sc.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: no header line with Description, Device, Data and Time", ErrLayout)
		}
		if IsHeader(line) {
			rd.header = line
			break
		}
	}
	sep, ok := rd.readLine()
	if !ok {
		if err := rd.sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: log ends before separator line", ErrLayout)
	}
	rd.separator = sep
	layout, err := ResolveLayout(rd.header, rd.separator)
	if err != nil {
		return nil, err
	}
	rd.layout = layout
	return rd, nil
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
}

// Header returns the raw header line.
func (r *Reader) Header() string { return r.header }

// Separator returns the raw dashed separator line.
func (r *Reader) Separator() string { return r.separator }

// Layout returns the resolved column layout.
func (r *Reader) Layout() ColumnLayout { return r.layout }

func (r *Reader) readLine() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	r.lineNo++
	line := r.sc.Text()
	if r.metrics != nil {
		r.metrics.AddBytes(int64(len(line)) + 1)
		r.metrics.AddLine()
	}
	return strings.TrimRight(line, "\r"), true
}

// nextDataLine returns the next non-blank line split into columns.
func (r *Reader) nextDataLine() (LogLine, bool) {
	for {
		raw, ok := r.readLine()
		if !ok {
			return LogLine{}, false
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return r.layout.Split(raw, r.lineNo), true
	}
}

// Next returns the next module. It returns io.EOF once the log is exhausted
// and an ErrOverflow error when a configured ceiling is exceeded.
func (r *Reader) Next() (Module, error) {
	if r.pending == nil && r.modules == 0 {
		// The first group key comes from the first line carrying a
		// dotted command-phase tag.
		for {
			ln, ok := r.nextDataLine()
			if !ok {
				if err := r.sc.Err(); err != nil {
					return Module{}, err
				}
				return Module{}, io.EOF
			}
			if strings.Contains(ln.CmdPhase, ".") {
				r.pending = &ln
				r.key = ln.GroupKey()
				break
			}
		}
	}
	if r.pending == nil {
		if err := r.sc.Err(); err != nil {
			return Module{}, err
		}
		return Module{}, io.EOF
	}

	r.modules++
	if r.modules > r.limits.MaxModules {
		return Module{}, fmt.Errorf("%w: more than %d modules", ErrOverflow, r.limits.MaxModules)
	}
	mod := Module{Index: r.modules, Key: r.key, Lines: []LogLine{*r.pending}}
	r.pending = nil
	for {
		ln, ok := r.nextDataLine()
		if !ok {
			if err := r.sc.Err(); err != nil {
				return Module{}, err
			}
			break
		}
		key := ln.GroupKey()
		if key != r.key {
			r.pending = &ln
			r.key = key
			break
		}
		if len(mod.Lines) >= r.limits.MaxModuleLines {
			return Module{}, fmt.Errorf("%w: module %d exceeds %d lines", ErrOverflow, mod.Index, r.limits.MaxModuleLines)
		}
		mod.Lines = append(mod.Lines, ln)
	}
	if r.metrics != nil {
		r.metrics.AddModule()
	}
	return mod, nil
}
