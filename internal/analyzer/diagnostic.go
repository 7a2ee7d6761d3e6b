package analyzer

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"time"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/stream"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// Error kinds surfaced by a run. Layout and overflow errors abort the run,
// the others are reported against a single module.
var (
	ErrLayout         = buslog.ErrLayout
	ErrOverflow       = buslog.ErrOverflow
	ErrHexDecode      = buslog.ErrHexDecode
	ErrEndpointLookup = stream.ErrEndpointLookup
	ErrFrameSequence  = stream.ErrFrameSequence
	ErrFrameIntegrity = stream.ErrFrameIntegrity
	ErrDecode         = stream.ErrDecode
	ErrImageIO        = stream.ErrImageIO
)

// Diagnostic kinds.
const (
	KindLayout    = "layout"
	KindOverflow  = "overflow"
	KindHex       = "hex-decode"
	KindEndpoint  = "endpoint-lookup"
	KindSequence  = "frame-sequence"
	KindIntegrity = "frame-integrity"
	KindDecode    = "decode"
	KindImage     = "image-io"
	KindTruncated = "truncated-capture"
	KindTime      = "time-format"
	KindOpenFrame = "open-frame"
	KindFrame     = "frame"
	KindControl   = "control"
	KindLeader    = "leader"
	KindTrailer   = "trailer"
	KindIO        = "io"
)

func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrLayout):
		return KindLayout
	case errors.Is(err, ErrOverflow):
		return KindOverflow
	case errors.Is(err, ErrHexDecode):
		return KindHex
	case errors.Is(err, ErrEndpointLookup):
		return KindEndpoint
	case errors.Is(err, ErrFrameSequence):
		return KindSequence
	case errors.Is(err, ErrFrameIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrImageIO):
		return KindImage
	}
	return KindIO
}

type Diagnostic struct {
	Ts       time.Time `json:"ts"`
	File     string    `json:"file"`
	Module   int       `json:"module,omitempty"`
	Line     int       `json:"line,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Kind     string    `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	BlockID  *uint64   `json:"blockId,omitempty"`
}

// FrameRecord is the outcome of one leader on one endpoint.
type FrameRecord struct {
	Endpoint string `json:"endpoint"`
	BlockID  uint64 `json:"blockId"`
	SizeX    uint32 `json:"sizeX"`
	SizeY    uint32 `json:"sizeY"`
	Path     string `json:"path"`
	Bytes    uint64 `json:"bytes"`
	Expected uint64 `json:"expected,omitempty"`
	Complete bool   `json:"complete"`
	Reason   string `json:"reason,omitempty"`
}

func frameRecord(f stream.Frame) FrameRecord {
	return FrameRecord{
		Endpoint: f.Endpoint.String(),
		BlockID:  f.BlockID,
		SizeX:    f.SizeX,
		SizeY:    f.SizeY,
		Path:     f.Path,
		Bytes:    f.Bytes,
		Expected: f.Expected,
		Complete: f.Complete,
		Reason:   f.Reason,
	}
}

type AcceptanceReport struct {
	Summary struct {
		Input    string `json:"input"`
		Total    int    `json:"total"`
		Errors   int    `json:"errors"`
		Warnings int    `json:"warnings"`
		Pass     bool   `json:"pass"`
	} `json:"summary"`
	Stats    Summary       `json:"stats"`
	Frames   []FrameRecord `json:"frames,omitempty"`
	Findings []Diagnostic  `json:"findings,omitempty"`
}

// WriteDiagnosticsNDJSON writes one JSON object per diagnostic.
func (r *Result) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, d := range r.Diagnostics {
		if err := enc.Encode(d); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MakeAcceptance summarises the run. It passes when no ERROR diagnostic was
// raised.
func (r *Result) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int
	for _, d := range r.Diagnostics {
		switch d.Severity {
		case ERROR:
			errs++
		case WARN:
			warns++
		}
	}
	rep.Summary.Input = r.Input
	rep.Summary.Total = len(r.Diagnostics)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.Stats = r.Summary
	rep.Frames = r.Frames
	rep.Findings = r.Diagnostics
	return rep
}
