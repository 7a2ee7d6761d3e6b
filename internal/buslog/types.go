package buslog

import "strings"

// Column names as they appear in the capture header.
const (
	HeaderDevice      = "Device"
	HeaderPhase       = "Phase"
	HeaderData        = "Data"
	HeaderDescription = "Description"
	HeaderCmdPhase    = "Cmd.Phase.Ofs(rep)"
	HeaderTime        = "Time"
	HeaderLength      = "Length"
)

// Column locates one field within a log line. Offset is relative to the
// Device column.
type Column struct {
	Offset int
	Width  int
}

// ColumnLayout is derived once per log from the header and its dashed
// separator line.
type ColumnLayout struct {
	// Origin is the absolute position of the Device column in the header.
	Origin int

	Device Column
	// Phase has zero width when the header carries no standalone Phase
	// column.
	Phase       Column
	CmdPhase    Column
	Description Column
	Time        Column
	Length      Column
	Data        Column
}

// slice returns the text of col within line. Columns extending past the end
// of a short line yield whatever suffix is present. A zero-width column is
// always empty.
func (l ColumnLayout) slice(line string, col Column) string {
	if col.Width <= 0 {
		return ""
	}
	start := l.Origin + col.Offset
	if start < 0 || start >= len(line) {
		return ""
	}
	end := start + col.Width
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}

// Split slices a raw line into a LogLine.
func (l ColumnLayout) Split(raw string, lineNo int) LogLine {
	return LogLine{
		Raw:         raw,
		LineNo:      lineNo,
		Endpoint:    strings.TrimSpace(l.slice(raw, l.Device)),
		Phase:       l.slice(raw, l.Phase),
		CmdPhase:    l.slice(raw, l.CmdPhase),
		Description: l.slice(raw, l.Description),
		Time:        l.slice(raw, l.Time),
		Length:      l.slice(raw, l.Length),
		Data:        l.slice(raw, l.Data),
	}
}

// LogLine is one captured bus event split into its column values.
type LogLine struct {
	Raw         string
	LineNo      int
	Endpoint    string
	Phase       string
	CmdPhase    string
	Description string
	Time        string
	Length      string
	Data        string
}

// GroupKey returns the command-phase tag up to its first '.'.
func (ll LogLine) GroupKey() string {
	tag := strings.TrimSpace(ll.CmdPhase)
	if i := strings.IndexByte(tag, '.'); i >= 0 {
		return tag[:i]
	}
	return tag
}

// HasSignature reports whether the line's Data column contains the given
// space-separated hex byte sequence, ignoring case.
func (ll LogLine) HasSignature(sig string) bool {
	return strings.Contains(strings.ToLower(ll.Data), strings.ToLower(sig))
}

// Module is one bus transaction: consecutive lines sharing a group key.
type Module struct {
	Index int
	Key   string
	Lines []LogLine
}

// First returns the routing line of the module.
func (m Module) First() LogLine {
	if len(m.Lines) == 0 {
		return LogLine{}
	}
	return m.Lines[0]
}

// DataFields returns the Data column of every line in order.
func (m Module) DataFields() []string {
	out := make([]string, len(m.Lines))
	for i, ln := range m.Lines {
		out[i] = ln.Data
	}
	return out
}
