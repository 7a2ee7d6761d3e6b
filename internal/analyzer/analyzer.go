package analyzer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/common"
	"example.com/u3vlog/internal/config"
	"example.com/u3vlog/internal/stream"
	"example.com/u3vlog/internal/u3v"
)

type Options struct {
	OutputDir    string
	Limits       buslog.Limits
	MaxDeviceID  int
	MaxPortID    int
	PreviewBytes int
	Metrics      *common.Metrics
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		OutputDir:    cfg.OutputDir,
		Limits:       buslog.Limits{MaxModuleLines: cfg.MaxModuleLines, MaxModules: cfg.MaxModules},
		MaxDeviceID:  cfg.MaxDeviceID,
		MaxPortID:    cfg.MaxPortID,
		PreviewBytes: cfg.PreviewBytes,
	}
}

// Summary counts what a run saw.
type Summary struct {
	Modules          int      `json:"modules"`
	ControlPackets   int      `json:"controlPackets"`
	Ignored          int      `json:"ignored"`
	Frames           int      `json:"frames"`
	FramesComplete   int      `json:"framesComplete"`
	FramesIncomplete int      `json:"framesIncomplete"`
	Errors           int      `json:"errors"`
	Warnings         int      `json:"warnings"`
	Endpoints        []string `json:"endpoints,omitempty"`
}

type Result struct {
	Input       string
	ResultPath  string
	Summary     Summary
	Frames      []FrameRecord
	Diagnostics []Diagnostic
}

// ImagePaths lists the frame files written during the run.
func (r *Result) ImagePaths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range r.Frames {
		if f.Path == "" || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f.Path)
	}
	return out
}

// PrintSummary writes the end-of-run counters.
func (r *Result) PrintSummary(w io.Writer) {
	s := r.Summary
	fmt.Fprintf(w, "Input: %s\n", r.Input)
	if r.ResultPath != "" {
		fmt.Fprintf(w, "Result: %s\n", r.ResultPath)
	}
	fmt.Fprintf(w, "Modules: %d (control %d, ignored %d)\n", s.Modules, s.ControlPackets, s.Ignored)
	fmt.Fprintf(w, "Frames: %d (complete %d, incomplete %d)\n", s.Frames, s.FramesComplete, s.FramesIncomplete)
	fmt.Fprintf(w, "Errors: %d  Warnings: %d\n", s.Errors, s.Warnings)
}

func (r *Result) add(d Diagnostic) {
	if d.Ts.IsZero() {
		d.Ts = time.Now().UTC()
	}
	d.File = r.Input
	switch d.Severity {
	case ERROR:
		r.Summary.Errors++
	case WARN:
		r.Summary.Warnings++
	}
	r.Diagnostics = append(r.Diagnostics, d)
}

// AnalyzeFile opens path and runs Analyze over it.
func AnalyzeFile(path string, sink *common.Sink, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if opts.Metrics != nil {
		if st, err := f.Stat(); err == nil {
			opts.Metrics.SetTotalBytes(st.Size())
		}
	}
	res, err := Analyze(f, path, sink, opts)
	if res != nil {
		res.ResultPath = sink.Path()
	}
	return res, err
}

// Analyze reads a capture log from r, writes the decoded text to sink and
// reassembles streamed frames below opts.OutputDir. A non-nil error means the
// run was aborted; per-module problems are reported as diagnostics instead.
func Analyze(r io.Reader, name string, sink *common.Sink, opts Options) (*Result, error) {
	res := &Result{Input: name}
	m := opts.Metrics
	if m != nil {
		m.Start()
		defer m.Stop()
	}

	rd, err := buslog.NewReader(r, opts.Limits)
	if err != nil {
		res.add(Diagnostic{Kind: kindOf(err), Severity: ERROR, Message: err.Error()})
		return res, err
	}
	if m != nil {
		m.AddBytes(int64(len(rd.Header()) + len(rd.Separator()) + 2))
		rd.SetMetrics(m)
	}
	sink.Println(rd.Header())
	sink.Println(rd.Separator())

	machine := stream.NewMachine(stream.Options{
		OutputDir:    opts.OutputDir,
		MaxDeviceID:  opts.MaxDeviceID,
		MaxPortID:    opts.MaxPortID,
		PreviewBytes: opts.PreviewBytes,
	})

	for {
		mod, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.add(Diagnostic{Module: res.Summary.Modules + 1, Kind: kindOf(err), Severity: ERROR, Message: err.Error()})
			if m != nil {
				m.IncError()
			}
			sink.Printf("#ERROR: %v\n", err)
			return res, err
		}
		res.Summary.Modules++
		echoModule(sink, mod)
		handleModule(res, sink, machine, mod, m)
	}

	for _, f := range machine.OpenFrames() {
		rec := frameRecord(f)
		res.Frames = append(res.Frames, rec)
		res.Summary.Frames++
		res.Summary.FramesIncomplete++
		block := f.BlockID
		msg := fmt.Sprintf("frame block 0x%x on %s has %d payload bytes and no trailer", f.BlockID, f.Endpoint, f.Bytes)
		res.add(Diagnostic{Endpoint: rec.Endpoint, Kind: KindOpenFrame, Severity: WARN, Message: msg, BlockID: &block})
		sink.Printf("#WARNING(%s): %s\n", rec.Endpoint, msg)
	}
	for _, id := range machine.Endpoints() {
		res.Summary.Endpoints = append(res.Summary.Endpoints, id.String())
	}
	return res, sink.Err()
}

// echoModule copies the raw capture lines of a module to the sink: the
// routing line alone for plain data, every line for U3V records.
func echoModule(sink *common.Sink, mod buslog.Module) {
	if len(mod.Lines) == 0 {
		return
	}
	if !mod.First().HasSignature(u3v.SigAny) {
		sink.Println(mod.First().Raw)
		return
	}
	for _, ln := range mod.Lines {
		sink.Println(ln.Raw)
	}
}

func handleModule(res *Result, sink *common.Sink, machine *stream.Machine, mod buslog.Module, m *common.Metrics) {
	first := mod.First()
	ev, err := machine.Handle(mod)
	ep := ev.Endpoint.String()
	if errors.Is(err, ErrEndpointLookup) {
		ep = first.Endpoint
	}

	switch ev.Kind {
	case stream.EventControl:
		if err == nil {
			res.Summary.ControlPackets++
		}
	case stream.EventIgnored:
		if err == nil {
			res.Summary.Ignored++
		}
	}
	if ev.Text != "" {
		sink.Println(ev.Text)
		sink.Println("")
		if kind := recordKind(ev.Kind); kind != "" && err == nil {
			d := Diagnostic{Module: mod.Index, Line: first.LineNo, Endpoint: ep, Kind: kind, Severity: INFO, Message: ev.Text}
			if ev.Frame != nil {
				block := ev.Frame.BlockID
				d.BlockID = &block
			}
			res.add(d)
		}
	}

	for _, w := range ev.Warnings {
		kind := KindTruncated
		if ev.Kind == stream.EventLeader {
			kind = KindTime
		}
		res.add(Diagnostic{Module: mod.Index, Line: first.LineNo, Endpoint: ep, Kind: kind, Severity: WARN, Message: w})
		sink.Printf("#WARNING(%s): %s\n", ep, w)
	}

	if err != nil {
		d := Diagnostic{Module: mod.Index, Line: first.LineNo, Endpoint: ep, Kind: kindOf(err), Severity: ERROR, Message: err.Error()}
		if ev.Frame != nil {
			block := ev.Frame.BlockID
			d.BlockID = &block
		}
		res.add(d)
		sink.Printf("#ERROR(%s): %v\n", ep, err)
		if m != nil {
			m.IncError()
		}
	}

	if ev.Frame != nil {
		rec := frameRecord(*ev.Frame)
		res.Frames = append(res.Frames, rec)
		res.Summary.Frames++
		if rec.Complete {
			res.Summary.FramesComplete++
			block := rec.BlockID
			res.add(Diagnostic{
				Module:   mod.Index,
				Line:     first.LineNo,
				Endpoint: ep,
				Kind:     KindFrame,
				Severity: INFO,
				Message:  fmt.Sprintf("frame block 0x%x complete: %d bytes written to %s", rec.BlockID, rec.Bytes, rec.Path),
				BlockID:  &block,
			})
		} else {
			res.Summary.FramesIncomplete++
		}
		if m != nil {
			m.AddFrame()
		}
	}
}

// recordKind maps decoded record events to their diagnostic kind.
func recordKind(k stream.EventKind) string {
	switch k {
	case stream.EventControl:
		return KindControl
	case stream.EventLeader:
		return KindLeader
	case stream.EventTrailer:
		return KindTrailer
	}
	return ""
}
