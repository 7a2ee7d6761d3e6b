package stream

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"example.com/u3vlog/internal/buslog"
	"example.com/u3vlog/internal/u3v"
)

func hexText(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

func module(ep, phase, ts string, data []byte) buslog.Module {
	mod := buslog.Module{Key: "1"}
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		ln := buslog.LogLine{Data: hexText(data[off:end])}
		if off == 0 {
			ln.Endpoint = ep
			ln.Phase = phase
			ln.Time = ts
			ln.Length = strconv.Itoa(len(data))
		}
		mod.Lines = append(mod.Lines, ln)
	}
	return mod
}

func payloadBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 200)
	}
	return out
}

func leaderModule(ep string, block uint64, x, y uint32) buslog.Module {
	return module(ep, "IN", "1.234", u3v.MarshalImageLeader(u3v.ImageLeader{BlockID: block, SizeX: x, SizeY: y}))
}

func trailerModule(ep string, block, valid uint64) buslog.Module {
	return module(ep, "IN", "1.300", u3v.MarshalImageTrailer(u3v.ImageTrailer{BlockID: block, ValidPayloadSize: valid, SizeY: 48}))
}

func mustHandle(t *testing.T, m *Machine, mod buslog.Module) Event {
	t.Helper()
	ev, err := m.Handle(mod)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return ev
}

func TestMachineCompleteFrame(t *testing.T) {
	dir := t.TempDir()
	m := NewMachine(Options{OutputDir: dir})
	ep := "29.2"

	ev := mustHandle(t, m, module(ep, "OUT", "1.000", u3v.MarshalReadMemCommand(u3v.FlagRequestAck, 1, 0x10000, 4)))
	if ev.Kind != EventControl {
		t.Fatalf("control kind = %v", ev.Kind)
	}
	if !strings.Contains(ev.Text, "CommandID:0x800") || !strings.Contains(ev.Text, "Address:0x10000") || !strings.Contains(ev.Text, "ReadLength:0x4") {
		t.Fatalf("unexpected control text %q", ev.Text)
	}

	ev = mustHandle(t, m, leaderModule(ep, 1, 64, 48))
	if ev.Kind != EventLeader || !strings.HasPrefix(ev.Text, "#ImageLeader(29.2)") {
		t.Fatalf("unexpected leader event %+v", ev)
	}
	id := EndpointID{Device: 29, Port: 2}
	if st, _ := m.State(id); st.Phase != LeaderSeen {
		t.Fatalf("phase after leader = %v", st.Phase)
	}

	payload := payloadBytes(3072)
	mustHandle(t, m, module(ep, "IN", "1.250", payload[:1024]))
	mustHandle(t, m, module(ep, "IN", "1.260", payload[1024:]))
	if st, _ := m.State(id); st.Phase != PayloadActive || st.PayloadSum != 3072 {
		t.Fatalf("state after payload = %+v", st)
	}
	if open := m.OpenFrames(); len(open) != 1 {
		t.Fatalf("open frames = %d, want 1", len(open))
	}

	ev = mustHandle(t, m, trailerModule(ep, 1, 3072))
	if ev.Frame == nil || !ev.Frame.Complete || ev.Frame.Bytes != 3072 {
		t.Fatalf("unexpected frame %+v", ev.Frame)
	}
	if st, _ := m.State(id); st.Phase != AwaitingLeader || st.PayloadSum != 0 {
		t.Fatalf("state after trailer = %+v", st)
	}

	want := filepath.Join(dir, "029", "029_001_234.pgm")
	if ev.Frame.Path != want {
		t.Fatalf("path = %q, want %q", ev.Frame.Path, want)
	}
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	header := []byte("P5\n64 48\n255\n")
	if !bytes.HasPrefix(got, header) {
		t.Fatalf("image header = %q", got[:len(header)])
	}
	if !bytes.Equal(got[len(header):], payload) {
		t.Fatalf("image payload differs: %d bytes", len(got)-len(header))
	}
}

func TestMachineIntegrityMismatch(t *testing.T) {
	dir := t.TempDir()
	m := NewMachine(Options{OutputDir: dir})
	ep := "3.1"
	mustHandle(t, m, leaderModule(ep, 1, 64, 48))
	mustHandle(t, m, module(ep, "IN", "1.250", payloadBytes(3072)))

	ev, err := m.Handle(trailerModule(ep, 1, 3073))
	if !errors.Is(err, ErrFrameIntegrity) {
		t.Fatalf("expected ErrFrameIntegrity, got %v", err)
	}
	if ev.Frame == nil || ev.Frame.Complete || ev.Frame.Expected != 3073 {
		t.Fatalf("unexpected frame %+v", ev.Frame)
	}
	if st, _ := m.State(EndpointID{Device: 3, Port: 1}); st.Phase != AwaitingLeader {
		t.Fatalf("phase = %v, want AwaitingLeader", st.Phase)
	}
	info, err := os.Stat(ev.Frame.Path)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if want := int64(len("P5\n64 48\n255\n") + 3072); info.Size() != want {
		t.Fatalf("image size = %d, want %d", info.Size(), want)
	}
}

func TestMachineBlockMismatch(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	mustHandle(t, m, leaderModule("1.0", 7, 4, 4))
	mustHandle(t, m, module("1.0", "IN", "0.1", payloadBytes(16)))
	_, err := m.Handle(trailerModule("1.0", 8, 16))
	if !errors.Is(err, ErrFrameIntegrity) {
		t.Fatalf("expected ErrFrameIntegrity, got %v", err)
	}
	if !strings.Contains(err.Error(), "block 0x7") {
		t.Fatalf("error does not name leader block: %v", err)
	}
}

func TestMachineSequenceErrors(t *testing.T) {
	tests := []struct {
		name    string
		modules func(ep string) []buslog.Module
		reason  string
	}{
		{
			name: "leader instead of trailer",
			modules: func(ep string) []buslog.Module {
				return []buslog.Module{
					leaderModule(ep, 1, 4, 4),
					module(ep, "IN", "0.1", payloadBytes(16)),
					leaderModule(ep, 2, 4, 4),
				}
			},
			reason: "missing trailer",
		},
		{
			name: "trailer right after leader",
			modules: func(ep string) []buslog.Module {
				return []buslog.Module{
					leaderModule(ep, 1, 4, 4),
					trailerModule(ep, 1, 0),
				}
			},
			reason: "missing payload",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(Options{OutputDir: t.TempDir()})
			mods := tc.modules("5.0")
			for _, mod := range mods[:len(mods)-1] {
				mustHandle(t, m, mod)
			}
			ev, err := m.Handle(mods[len(mods)-1])
			if !errors.Is(err, ErrFrameSequence) {
				t.Fatalf("expected ErrFrameSequence, got %v", err)
			}
			if ev.Frame == nil || ev.Frame.Complete || ev.Frame.Reason != tc.reason {
				t.Fatalf("unexpected frame %+v", ev.Frame)
			}
			if st, _ := m.State(EndpointID{Device: 5}); st.Phase != AwaitingLeader {
				t.Fatalf("phase = %v, want AwaitingLeader", st.Phase)
			}
			// The endpoint accepts a fresh frame afterwards.
			mustHandle(t, m, leaderModule("5.0", 9, 4, 4))
		})
	}
}

func TestMachineResidualFrame(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	_, err := m.Handle(module("2.1", "IN", "0.1", payloadBytes(32)))
	if !errors.Is(err, ErrFrameSequence) {
		t.Fatalf("expected ErrFrameSequence, got %v", err)
	}
	ev, err := m.Handle(module("2.1", "OUT", "0.1", payloadBytes(32)))
	if err != nil {
		t.Fatalf("OUT data without leader: %v", err)
	}
	if ev.Kind != EventIgnored {
		t.Fatalf("kind = %v, want ignored", ev.Kind)
	}
}

func TestMachineEndpointsAreIndependent(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	mustHandle(t, m, leaderModule("1.1", 1, 4, 4))
	mustHandle(t, m, leaderModule("1.2", 1, 4, 4))
	mustHandle(t, m, module("1.1", "IN", "0.1", payloadBytes(16)))
	mustHandle(t, m, module("1.2", "IN", "0.1", payloadBytes(8)))
	if ev := mustHandle(t, m, trailerModule("1.2", 1, 8)); ev.Frame == nil || !ev.Frame.Complete {
		t.Fatalf("frame on 1.2 not complete: %+v", ev.Frame)
	}
	if ev := mustHandle(t, m, trailerModule("1.1", 1, 16)); ev.Frame == nil || !ev.Frame.Complete {
		t.Fatalf("frame on 1.1 not complete: %+v", ev.Frame)
	}
	ids := m.Endpoints()
	if len(ids) != 2 || ids[0].Port != 1 || ids[1].Port != 2 {
		t.Fatalf("endpoints = %v", ids)
	}
}

func TestMachinePayloadLengthColumn(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	mustHandle(t, m, leaderModule("4.0", 1, 4, 4))

	short := module("4.0", "IN", "0.1", payloadBytes(32))
	short.Lines[0].Length = "20"
	mustHandle(t, m, short)
	if st, _ := m.State(EndpointID{Device: 4}); st.PayloadSum != 20 {
		t.Fatalf("sum = %d, want 20", st.PayloadSum)
	}

	long := module("4.0", "IN", "0.1", payloadBytes(16))
	long.Lines[0].Length = "512"
	ev := mustHandle(t, m, long)
	if len(ev.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one truncation warning", ev.Warnings)
	}
	if st, _ := m.State(EndpointID{Device: 4}); st.PayloadSum != 36 {
		t.Fatalf("sum = %d, want 36", st.PayloadSum)
	}
}

func TestMachineBadPayloadHex(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	mustHandle(t, m, leaderModule("6.0", 1, 4, 4))
	bad := module("6.0", "IN", "0.1", payloadBytes(16))
	bad.Lines[0].Data = "zz 01"
	ev, err := m.Handle(bad)
	if !errors.Is(err, buslog.ErrHexDecode) {
		t.Fatalf("expected ErrHexDecode, got %v", err)
	}
	if ev.Frame == nil || ev.Frame.Complete {
		t.Fatalf("expected abandoned frame, got %+v", ev.Frame)
	}
	if st, _ := m.State(EndpointID{Device: 6}); st.Phase != AwaitingLeader {
		t.Fatalf("phase = %v, want AwaitingLeader", st.Phase)
	}
}

func TestMachineLeaderTimeWithoutMillis(t *testing.T) {
	dir := t.TempDir()
	m := NewMachine(Options{OutputDir: dir})
	mod := leaderModule("7.0", 2, 4, 4)
	mod.Lines[0].Time = "12"
	ev := mustHandle(t, m, mod)
	if len(ev.Warnings) != 1 {
		t.Fatalf("warnings = %v", ev.Warnings)
	}
	if st, _ := m.State(EndpointID{Device: 7}); st.ImagePath != filepath.Join(dir, "007", "007_002_000.pgm") {
		t.Fatalf("image path = %q", st.ImagePath)
	}
}

func TestMachineUnknownCommandIgnored(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	buf := u3v.MarshalWriteMemAcknowledge(0, 1, 4)
	buf[6], buf[7] = 0x05, 0x08 // pending ack
	ev := mustHandle(t, m, module("1.0", "IN", "0.1", buf))
	if ev.Kind != EventIgnored || ev.Text != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestMachineShortControlPacket(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	buf := u3v.MarshalReadMemCommand(0, 1, 0x10, 4)[:16]
	_, err := m.Handle(module("1.0", "OUT", "0.1", buf))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestMachineSignatureOutsidePrefixIgnored(t *testing.T) {
	m := NewMachine(Options{OutputDir: t.TempDir()})
	buf := append([]byte{0xde, 0xad, 0xbe, 0xef}, u3v.MarshalReadMemCommand(0, 1, 0x10, 4)...)
	ev := mustHandle(t, m, module("1.0", "IN", "0.1", buf))
	if ev.Kind != EventIgnored || ev.Text != "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if st, _ := m.State(EndpointID{Device: 1}); st.Phase != AwaitingLeader {
		t.Fatalf("phase = %v", st.Phase)
	}
}
