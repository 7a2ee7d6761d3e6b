package stream

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrEndpointLookup = errors.New("endpoint lookup error")

const (
	DefaultMaxDeviceID = 99
	DefaultMaxPortID   = 4
)

// EndpointID identifies one device/port pair of the capture.
type EndpointID struct {
	Device int
	Port   int
}

func (id EndpointID) String() string {
	return fmt.Sprintf("%d.%d", id.Device, id.Port)
}

// ParseEndpoint parses "<device>.<port>" and validates both parts against
// the inclusive ceilings.
func ParseEndpoint(text string, maxDevice, maxPort int) (EndpointID, error) {
	text = strings.TrimSpace(text)
	dot := strings.IndexByte(text, '.')
	if dot < 0 {
		return EndpointID{}, fmt.Errorf("%w: %q has no '.' separator", ErrEndpointLookup, text)
	}
	dev, err := strconv.Atoi(strings.TrimSpace(text[:dot]))
	if err != nil {
		return EndpointID{}, fmt.Errorf("%w: bad device in %q", ErrEndpointLookup, text)
	}
	port, err := strconv.Atoi(strings.TrimSpace(text[dot+1:]))
	if err != nil {
		return EndpointID{}, fmt.Errorf("%w: bad port in %q", ErrEndpointLookup, text)
	}
	if dev < 0 || dev > maxDevice {
		return EndpointID{}, fmt.Errorf("%w: device %d outside 0..%d", ErrEndpointLookup, dev, maxDevice)
	}
	if port < 0 || port > maxPort {
		return EndpointID{}, fmt.Errorf("%w: port %d outside 0..%d", ErrEndpointLookup, port, maxPort)
	}
	return EndpointID{Device: dev, Port: port}, nil
}

// Phase is the streaming position of an endpoint.
type Phase int

const (
	AwaitingLeader Phase = iota
	LeaderSeen
	PayloadActive
)

func (p Phase) String() string {
	switch p {
	case AwaitingLeader:
		return "AwaitingLeader"
	case LeaderSeen:
		return "LeaderSeen"
	case PayloadActive:
		return "PayloadActive"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// EndpointState tracks the frame in flight on one endpoint.
type EndpointState struct {
	Phase      Phase
	ImagePath  string
	BlockID    uint64
	PayloadSum uint64
	SizeX      uint32
	SizeY      uint32
}

func (s *EndpointState) reset() {
	s.Phase = AwaitingLeader
	s.PayloadSum = 0
}

// table maps endpoints to their state, creating entries on first use.
type table struct {
	states map[EndpointID]*EndpointState
}

func newTable() *table {
	return &table{states: make(map[EndpointID]*EndpointState)}
}

func (t *table) lookup(id EndpointID) *EndpointState {
	st, ok := t.states[id]
	if !ok {
		st = &EndpointState{Phase: AwaitingLeader}
		t.states[id] = st
	}
	return st
}

func (t *table) ids() []EndpointID {
	out := make([]EndpointID, 0, len(t.states))
	for id := range t.states {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Port < out[j].Port
	})
	return out
}
