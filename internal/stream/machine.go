package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/u3v"
)

var (
	ErrDecode         = errors.New("packet decode error")
	ErrFrameSequence  = errors.New("frame sequence error")
	ErrFrameIntegrity = errors.New("frame integrity error")
	ErrImageIO        = errors.New("image file error")
)

// EventKind classifies how a module was handled.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventControl
	EventLeader
	EventPayload
	EventTrailer
)

func (k EventKind) String() string {
	switch k {
	case EventControl:
		return "control"
	case EventLeader:
		return "leader"
	case EventPayload:
		return "payload"
	case EventTrailer:
		return "trailer"
	default:
		return "ignored"
	}
}

// Frame summarises one leader-to-trailer block on an endpoint.
type Frame struct {
	Endpoint EndpointID
	BlockID  uint64
	SizeX    uint32
	SizeY    uint32
	Path     string
	Bytes    uint64
	Expected uint64
	Complete bool
	Reason   string
}

// Event is the outcome of one module. Text holds the decoded diagnostic line,
// Frame is set when the module closed or abandoned a frame.
type Event struct {
	Kind     EventKind
	Endpoint EndpointID
	Text     string
	Warnings []string
	Frame    *Frame
}

type Options struct {
	OutputDir    string
	MaxDeviceID  int
	MaxPortID    int
	PreviewBytes int
}

// Machine routes modules by endpoint and drives each endpoint's
// leader/payload/trailer sequence.
type Machine struct {
	opts   Options
	states *table
}

func NewMachine(opts Options) *Machine {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.MaxDeviceID <= 0 {
		opts.MaxDeviceID = DefaultMaxDeviceID
	}
	if opts.MaxPortID <= 0 {
		opts.MaxPortID = DefaultMaxPortID
	}
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = u3v.DefaultPreviewBytes
	}
	return &Machine{opts: opts, states: newTable()}
}

// State returns a copy of an endpoint's state.
func (m *Machine) State(id EndpointID) (EndpointState, bool) {
	st, ok := m.states.states[id]
	if !ok {
		return EndpointState{}, false
	}
	return *st, true
}

// Endpoints lists every endpoint seen so far, ordered by device then port.
func (m *Machine) Endpoints() []EndpointID {
	return m.states.ids()
}

// OpenFrames returns frames still waiting for their trailer.
func (m *Machine) OpenFrames() []Frame {
	var out []Frame
	for _, id := range m.states.ids() {
		st := m.states.states[id]
		if st.Phase == AwaitingLeader {
			continue
		}
		out = append(out, Frame{
			Endpoint: id,
			BlockID:  st.BlockID,
			SizeX:    st.SizeX,
			SizeY:    st.SizeY,
			Path:     st.ImagePath,
			Bytes:    st.PayloadSum,
			Reason:   "log ended before trailer",
		})
	}
	return out
}

// Handle processes one module. The returned event may carry decoded text
// even when err is non-nil.
func (m *Machine) Handle(mod buslog.Module) (Event, error) {
	first := mod.First()
	id, err := ParseEndpoint(first.Endpoint, m.opts.MaxDeviceID, m.opts.MaxPortID)
	if err != nil {
		return Event{}, err
	}
	st := m.states.lookup(id)
	ev := Event{Endpoint: id}

	switch st.Phase {
	case AwaitingLeader:
		switch {
		case first.HasSignature(u3v.SigControl):
			return m.control(ev, mod)
		case first.HasSignature(u3v.SigLeader):
			return m.leader(ev, st, mod)
		case strings.Contains(first.Phase, "IN"):
			return ev, fmt.Errorf("%w: residual frame data on %s without leader", ErrFrameSequence, id)
		}
		return ev, nil

	case LeaderSeen:
		if first.HasSignature(u3v.SigAny) {
			ev.Frame = m.abandon(id, st, "missing payload")
			return ev, fmt.Errorf("%w: missing payload on %s block 0x%x", ErrFrameSequence, id, ev.Frame.BlockID)
		}
		return m.payload(ev, id, st, mod)

	case PayloadActive:
		switch {
		case first.HasSignature(u3v.SigTrailer):
			return m.trailer(ev, id, st, mod)
		case first.HasSignature(u3v.SigAny):
			ev.Frame = m.abandon(id, st, "missing trailer")
			return ev, fmt.Errorf("%w: missing trailer on %s block 0x%x, residual frame", ErrFrameSequence, id, ev.Frame.BlockID)
		}
		return m.payload(ev, id, st, mod)
	}
	return ev, fmt.Errorf("%w: endpoint %s in unknown phase %v", ErrFrameSequence, id, st.Phase)
}

func (m *Machine) control(ev Event, mod buslog.Module) (Event, error) {
	ev.Kind = EventControl
	buf, err := buslog.DecodeHex(mod)
	if err != nil {
		return ev, err
	}
	line, ok, err := u3v.DescribeControl(buf, m.opts.PreviewBytes)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !ok {
		ev.Kind = EventIgnored
		return ev, nil
	}
	ev.Text = line
	return ev, nil
}

func (m *Machine) leader(ev Event, st *EndpointState, mod buslog.Module) (Event, error) {
	ev.Kind = EventLeader
	buf, err := buslog.DecodeHex(mod)
	if err != nil {
		return ev, err
	}
	l, err := u3v.ParseImageLeader(buf)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	ev.Text = u3v.FormatLeader(ev.Endpoint.String(), l)

	ms, ok := Millis(mod.First().Time)
	if !ok {
		ev.Warnings = append(ev.Warnings, fmt.Sprintf("time %q has no millisecond part, using 000", strings.TrimSpace(mod.First().Time)))
	}
	path := ImagePath(m.opts.OutputDir, ev.Endpoint.Device, l.BlockID, ms)
	if err := createImage(path, l.SizeX, l.SizeY); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrImageIO, err)
	}
	st.Phase = LeaderSeen
	st.ImagePath = path
	st.BlockID = l.BlockID
	st.PayloadSum = 0
	st.SizeX = l.SizeX
	st.SizeY = l.SizeY
	return ev, nil
}

func (m *Machine) payload(ev Event, id EndpointID, st *EndpointState, mod buslog.Module) (Event, error) {
	ev.Kind = EventPayload
	buf, err := buslog.DecodeHex(mod)
	if err != nil {
		ev.Frame = m.abandon(id, st, "undecodable payload")
		return ev, err
	}
	if declared, err := strconv.Atoi(strings.TrimSpace(mod.First().Length)); err == nil {
		switch {
		case declared < len(buf):
			buf = buf[:declared]
		case declared > len(buf):
			ev.Warnings = append(ev.Warnings, fmt.Sprintf("payload on %s declares %d bytes but capture holds %d", id, declared, len(buf)))
		}
	}
	n, err := appendImage(st.ImagePath, buf)
	st.PayloadSum += uint64(n)
	if err != nil {
		ev.Frame = m.abandon(id, st, "image write failed")
		return ev, fmt.Errorf("%w: %v", ErrImageIO, err)
	}
	st.Phase = PayloadActive
	return ev, nil
}

func (m *Machine) trailer(ev Event, id EndpointID, st *EndpointState, mod buslog.Module) (Event, error) {
	ev.Kind = EventTrailer
	buf, err := buslog.DecodeHex(mod)
	if err != nil {
		ev.Frame = m.abandon(id, st, "undecodable trailer")
		return ev, err
	}
	t, err := u3v.ParseImageTrailer(buf)
	if err != nil {
		ev.Frame = m.abandon(id, st, "undecodable trailer")
		return ev, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	ev.Text = u3v.FormatTrailer(id.String(), t)

	frame := m.snapshot(id, st)
	frame.Expected = t.ValidPayloadSize
	st.reset()

	var problems []string
	if frame.BlockID != t.BlockID {
		problems = append(problems, fmt.Sprintf("leader block 0x%x does not match trailer block 0x%x", frame.BlockID, t.BlockID))
	}
	if frame.Bytes != t.ValidPayloadSize {
		problems = append(problems, fmt.Sprintf("payload total %d does not match trailer valid payload size %d", frame.Bytes, t.ValidPayloadSize))
	}
	if len(problems) > 0 {
		frame.Reason = strings.Join(problems, "; ")
		ev.Frame = &frame
		return ev, fmt.Errorf("%w: %s: %s", ErrFrameIntegrity, id, frame.Reason)
	}
	frame.Complete = true
	ev.Frame = &frame
	return ev, nil
}

func (m *Machine) snapshot(id EndpointID, st *EndpointState) Frame {
	return Frame{
		Endpoint: id,
		BlockID:  st.BlockID,
		SizeX:    st.SizeX,
		SizeY:    st.SizeY,
		Path:     st.ImagePath,
		Bytes:    st.PayloadSum,
	}
}

// abandon records the frame in flight as incomplete and returns the
// endpoint to AwaitingLeader.
func (m *Machine) abandon(id EndpointID, st *EndpointState, reason string) *Frame {
	f := m.snapshot(id, st)
	f.Reason = reason
	st.reset()
	return &f
}
