package analyzer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/common"
	"example.com/u3vlog/internal/u3v"
)

func capture(t *testing.T, transfers ...buslog.Transfer) string {
	t.Helper()
	var b bytes.Buffer
	cw := buslog.NewCaptureWriter(&b)
	if err := cw.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	for _, tr := range transfers {
		if err := cw.WriteTransfer(tr); err != nil {
			t.Fatalf("WriteTransfer: %v", err)
		}
	}
	return b.String()
}

func payload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 200)
	}
	return out
}

func frameTransfers(dev, port int, block uint64, size int, valid uint64) []buslog.Transfer {
	return []buslog.Transfer{
		{Device: dev, Port: port, Phase: "IN", Time: "2.234", Data: u3v.MarshalImageLeader(u3v.ImageLeader{BlockID: block, SizeX: 64, SizeY: 48})},
		{Device: dev, Port: port, Phase: "IN", Time: "2.240", Data: payload(size)},
		{Device: dev, Port: port, Phase: "IN", Time: "2.250", Data: u3v.MarshalImageTrailer(u3v.ImageTrailer{BlockID: block, ValidPayloadSize: valid, SizeY: 48})},
	}
}

func run(t *testing.T, log string) (*Result, string, string) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	res, err := Analyze(strings.NewReader(log), "capture.txt", common.NewSink(&out), Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res, out.String(), dir
}

func countKind(res *Result, kind string) int {
	n := 0
	for _, d := range res.Diagnostics {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

func TestAnalyzeReadCommand(t *testing.T) {
	log := capture(t, buslog.Transfer{
		Device: 29, Port: 2, Phase: "OUT", Time: "1.001",
		Data: u3v.MarshalReadMemCommand(u3v.FlagRequestAck, 1, 0x10000, 4),
	})
	res, out, _ := run(t, log)
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[0], buslog.HeaderDevice) || !strings.HasPrefix(lines[1], "------") {
		t.Fatalf("header not echoed: %q", lines[:2])
	}
	for _, want := range []string{"#READ CMD:", "CommandID:0x800", "Address:0x10000", "ReadLength:0x4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if res.Summary.Modules != 1 || res.Summary.ControlPackets != 1 || res.Summary.Errors != 0 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	// Two raw lines echoed for the 24-byte U3V module, then text and a blank.
	if !strings.Contains(out, "ReadLength:0x4\n\n") {
		t.Fatalf("decoded line not followed by blank line:\n%s", out)
	}
}

func TestAnalyzeCompleteFrame(t *testing.T) {
	log := capture(t, frameTransfers(29, 3, 1, 3072, 3072)...)
	res, out, dir := run(t, log)
	if res.Summary.Errors != 0 || res.Summary.FramesComplete != 1 || res.Summary.Frames != 1 {
		t.Fatalf("summary = %+v\n%s", res.Summary, out)
	}
	if !strings.Contains(out, "#ImageLeader(29.3): BlockID:0x1") || !strings.Contains(out, "#ImageTrailer(29.3)") {
		t.Fatalf("leader/trailer not decoded:\n%s", out)
	}
	path := filepath.Join(dir, "029", "029_001_234.pgm")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	header := "P5\n64 48\n255\n"
	if string(data[:len(header)]) != header || len(data) != len(header)+3072 {
		t.Fatalf("image has %d bytes, header %q", len(data), data[:len(header)])
	}
	if !bytes.Equal(data[len(header):], payload(3072)) {
		t.Fatalf("image payload differs")
	}
	if got := res.ImagePaths(); len(got) != 1 || got[0] != path {
		t.Fatalf("image paths = %v", got)
	}
	if !res.MakeAcceptance().Summary.Pass {
		t.Fatalf("acceptance failed")
	}
}

func TestAnalyzeIntegrityMismatch(t *testing.T) {
	log := capture(t, frameTransfers(29, 3, 1, 3072, 3073)...)
	res, out, dir := run(t, log)
	if n := countKind(res, KindIntegrity); n != 1 {
		t.Fatalf("integrity errors = %d, want 1\n%s", n, out)
	}
	if res.Summary.Errors != 1 || res.Summary.FramesIncomplete != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	info, err := os.Stat(filepath.Join(dir, "029", "029_001_234.pgm"))
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if info.Size() != int64(len("P5\n64 48\n255\n")+3072) {
		t.Fatalf("image size = %d", info.Size())
	}
	if res.MakeAcceptance().Summary.Pass {
		t.Fatalf("acceptance passed despite integrity error")
	}
	if !strings.Contains(out, "#ERROR(29.3)") {
		t.Fatalf("error not written to sink:\n%s", out)
	}
}

func TestAnalyzeContinuesAfterModuleErrors(t *testing.T) {
	transfers := []buslog.Transfer{
		{Device: 150, Port: 1, Phase: "OUT", Time: "0.001", Data: u3v.MarshalReadMemCommand(0, 1, 0, 4)},
		{Device: 2, Port: 1, Phase: "IN", Time: "0.002", Data: payload(64)},
	}
	transfers = append(transfers, frameTransfers(2, 1, 5, 100, 100)...)
	res, out, _ := run(t, capture(t, transfers...))
	if countKind(res, KindEndpoint) != 1 || countKind(res, KindSequence) != 1 {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	if res.Summary.FramesComplete != 1 {
		t.Fatalf("later frame not reassembled:\n%s", out)
	}
	if res.Diagnostics[0].Endpoint != "150.1" {
		t.Fatalf("endpoint text = %q", res.Diagnostics[0].Endpoint)
	}
}

func TestAnalyzeOpenFrameAtEnd(t *testing.T) {
	tr := frameTransfers(4, 0, 9, 32, 32)
	res, out, _ := run(t, capture(t, tr[:2]...))
	if countKind(res, KindOpenFrame) != 1 || res.Summary.FramesIncomplete != 1 {
		t.Fatalf("open frame not reported: %+v\n%s", res.Summary, out)
	}
	if res.Summary.Errors != 0 || res.Summary.Warnings != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
}

func TestAnalyzeEchoesPlainModuleFirstLine(t *testing.T) {
	log := capture(t, buslog.Transfer{Device: 3, Port: 0, Phase: "OUT", Time: "0.1", Data: payload(48)})
	_, out, _ := run(t, log)
	// header + separator + one echoed line
	if got := strings.Count(out, "\n"); got != 3 {
		t.Fatalf("echoed %d lines:\n%s", got, out)
	}
}

func TestAnalyzeLayoutError(t *testing.T) {
	var out bytes.Buffer
	res, err := Analyze(strings.NewReader("Device  Data\n------  ----\n"), "x.txt", common.NewSink(&out), Options{OutputDir: t.TempDir()})
	if !errors.Is(err, ErrLayout) {
		t.Fatalf("expected ErrLayout, got %v", err)
	}
	if res == nil || res.Summary.Errors != 1 || res.Diagnostics[0].Kind != KindLayout {
		t.Fatalf("layout error not recorded: %+v", res)
	}
}

func TestAnalyzeOverflow(t *testing.T) {
	log := capture(t,
		buslog.Transfer{Device: 1, Port: 0, Phase: "OUT", Time: "0.1", Data: payload(4)},
		buslog.Transfer{Device: 1, Port: 0, Phase: "OUT", Time: "0.2", Data: payload(4)},
	)
	var out bytes.Buffer
	_, err := Analyze(strings.NewReader(log), "x.txt", common.NewSink(&out), Options{
		OutputDir: t.TempDir(),
		Limits:    buslog.Limits{MaxModules: 1},
	})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestAnalyzeFileWritesResult(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "capture.txt")
	if err := os.WriteFile(in, []byte(capture(t, frameTransfers(1, 1, 2, 16, 16)...)), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	resultPath := filepath.Join(dir, "capture_result.txt")
	sink, err := common.CreateFileSink(resultPath, nil)
	if err != nil {
		t.Fatalf("CreateFileSink: %v", err)
	}
	m := common.NewMetrics()
	res, err := AnalyzeFile(in, sink, Options{OutputDir: dir, Metrics: m})
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}
	if res.ResultPath != resultPath {
		t.Fatalf("result path = %q", res.ResultPath)
	}
	data, err := os.ReadFile(resultPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !strings.Contains(string(data), "#ImageTrailer(1.1)") {
		t.Fatalf("result file missing trailer:\n%s", data)
	}
	snap := m.Snapshot()
	if snap.Modules != 3 || snap.Frames != 1 || snap.Bytes != snap.TotalBytes {
		t.Fatalf("metrics = %+v", snap)
	}

	ndjson := filepath.Join(dir, "diagnostics.ndjson")
	if err := res.WriteDiagnosticsNDJSON(ndjson); err != nil {
		t.Fatalf("WriteDiagnosticsNDJSON: %v", err)
	}
	b, err := os.ReadFile(ndjson)
	if err != nil {
		t.Fatalf("read ndjson: %v", err)
	}
	if strings.Count(string(b), "\n") != len(res.Diagnostics) || !strings.Contains(string(b), `"kind":"frame"`) {
		t.Fatalf("unexpected ndjson:\n%s", b)
	}
	for _, kind := range []string{KindLeader, KindTrailer} {
		if countKind(res, kind) != 1 || !strings.Contains(string(b), `"kind":"`+kind+`"`) {
			t.Fatalf("want one %s record:\n%s", kind, b)
		}
	}
	for _, d := range res.Diagnostics {
		if d.Kind == KindTrailer && (d.Severity != INFO || d.BlockID == nil || *d.BlockID != 2 || !strings.Contains(d.Message, "#ImageTrailer(1.1)")) {
			t.Fatalf("trailer diagnostic = %+v", d)
		}
	}
	if rep := res.MakeAcceptance(); !rep.Summary.Pass || rep.Summary.Errors != 0 {
		t.Fatalf("acceptance = %+v", rep.Summary)
	}
}

type logColumn struct {
	name  string
	width int
}

// columnLog renders a capture with the given column order. Each row maps a
// column name to its text.
func columnLog(cols []logColumn, rows []map[string]string) string {
	var hdr, sep strings.Builder
	for i, c := range cols {
		if i > 0 {
			hdr.WriteString("  ")
			sep.WriteString("  ")
		}
		hdr.WriteString(c.name + strings.Repeat(" ", c.width-len(c.name)))
		sep.WriteString(strings.Repeat("-", c.width))
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(hdr.String(), " ") + "\n" + sep.String() + "\n")
	for _, row := range rows {
		var ln strings.Builder
		for i, c := range cols {
			if i > 0 {
				ln.WriteString("  ")
			}
			v := row[c.name]
			ln.WriteString(v + strings.Repeat(" ", c.width-len(v)))
		}
		b.WriteString(strings.TrimRight(ln.String(), " ") + "\n")
	}
	return b.String()
}

var readCmdRows = []map[string]string{
	{"Time": "1.001", "Device": "29.2", "Length": "24", "Phase": "OUT", "Data": "55 33 56 43 00 40 00 08 0c 00 01 00 00 00 01 00", "Cmd.Phase.Ofs(rep)": "1.1.0"},
	{"Data": "00 00 00 00 00 00 04 00", "Cmd.Phase.Ofs(rep)": "1.1.16"},
}

func TestAnalyzeColumnOrder(t *testing.T) {
	tests := []struct {
		name string
		cols []logColumn
	}{
		{
			name: "time before device",
			cols: []logColumn{{"Time", 12}, {"Device", 6}, {"Length", 6}, {"Phase", 5}, {"Data", 47}, {"Description", 11}, {"Cmd.Phase.Ofs(rep)", 18}},
		},
		{
			name: "no phase column",
			cols: []logColumn{{"Description", 11}, {"Device", 6}, {"Length", 6}, {"Data", 47}, {"Cmd.Phase.Ofs(rep)", 18}, {"Time", 12}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, out, _ := run(t, columnLog(tc.cols, readCmdRows))
			if res.Summary.ControlPackets != 1 || res.Summary.Errors != 0 {
				t.Fatalf("summary = %+v\n%s", res.Summary, out)
			}
			for _, want := range []string{"CommandID:0x800", "Address:0x10000", "ReadLength:0x4"} {
				if !strings.Contains(out, want) {
					t.Fatalf("output missing %q:\n%s", want, out)
				}
			}
			if countKind(res, KindControl) != 1 {
				t.Fatalf("control diagnostics = %d", countKind(res, KindControl))
			}
			if got := res.Summary.Endpoints; len(got) != 1 || got[0] != "29.2" {
				t.Fatalf("endpoints = %v", got)
			}
		})
	}
}
