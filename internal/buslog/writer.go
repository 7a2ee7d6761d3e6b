package buslog

import (
	"fmt"
	"io"
	"strings"
)

const (
	bytesPerLine = 16

	widthDevice      = 6
	widthLength      = 8
	widthPhase       = 5
	widthData        = 50
	widthDescription = 16
	widthCmdPhase    = 18
	widthTime        = 12
)

// Transfer is one bus transaction written by a CaptureWriter.
type Transfer struct {
	Device int
	Port   int
	Phase  string
	Time   string
	Data   []byte
	// Length overrides the Length column; zero means len(Data).
	Length int
}

// CaptureWriter renders transfers in the column format NewReader parses,
// sixteen data bytes per line.
type CaptureWriter struct {
	w   io.Writer
	cmd int
	err error
}

func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{w: w}
}

func (cw *CaptureWriter) printf(format string, args ...interface{}) {
	if cw.err != nil {
		return
	}
	_, cw.err = fmt.Fprintf(cw.w, format, args...)
}

func (cw *CaptureWriter) row(dev, length, phase, data, desc, cmd, ts string) {
	line := fmt.Sprintf("%*s  %*s  %-*s  %-*s  %-*s  %-*s  %s",
		widthDevice, dev, widthLength, length, widthPhase, phase,
		widthData, data, widthDescription, desc, widthCmdPhase, cmd, ts)
	cw.printf("%s\n", strings.TrimRight(line, " "))
}

// WriteHeader writes the column header and the dashed separator.
func (cw *CaptureWriter) WriteHeader() error {
	cw.printf("%-*s  %-*s  %-*s  %-*s  %-*s  %-*s  %s\n",
		widthDevice, HeaderDevice, widthLength, HeaderLength, widthPhase, HeaderPhase,
		widthData, HeaderData, widthDescription, HeaderDescription, widthCmdPhase, HeaderCmdPhase, HeaderTime)
	dashes := []int{widthDevice, widthLength, widthPhase, widthData, widthDescription, widthCmdPhase, widthTime}
	parts := make([]string, len(dashes))
	for i, n := range dashes {
		parts[i] = strings.Repeat("-", n)
	}
	cw.printf("%s\n", strings.Join(parts, "  "))
	return cw.err
}

// WriteTransfer writes t as one module with its own command number.
func (cw *CaptureWriter) WriteTransfer(t Transfer) error {
	cw.cmd++
	length := t.Length
	if length == 0 {
		length = len(t.Data)
	}
	for off := 0; off < len(t.Data) || off == 0; off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(t.Data) {
			end = len(t.Data)
		}
		chunk := t.Data[off:end]
		cmd := fmt.Sprintf("%d.1.%d", cw.cmd, off)
		if off == 0 {
			cw.row(fmt.Sprintf("%d.%d", t.Device, t.Port), fmt.Sprintf("%d", length), t.Phase,
				hexGroups(chunk), printable(chunk), cmd, t.Time)
		} else {
			cw.row("", "", "", hexGroups(chunk), printable(chunk), cmd, "")
		}
		if len(t.Data) == 0 {
			break
		}
	}
	return cw.err
}

// hexGroups renders bytes as lowercase pairs, four to a group.
func hexGroups(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
			if i%4 == 0 {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}

func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x21 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
