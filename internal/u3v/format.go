package u3v

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DescribeControl decodes a control packet and renders it as one diagnostic
// line. Packets without the U3VC prefix and unknown command ids yield
// ok=false and no error.
func DescribeControl(buf []byte, preview int) (line string, ok bool, err error) {
	id, err := CommandID(buf)
	if errors.Is(err, ErrNotControl) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	switch id {
	case ReadMemCmd:
		p, err := ParseReadMemCommand(buf)
		if err != nil {
			return "", false, err
		}
		return FormatReadMemCommand(p), true, nil
	case ReadMemAck:
		p, err := ParseReadMemAcknowledge(buf)
		if err != nil {
			return "", false, err
		}
		return FormatReadMemAcknowledge(p, preview), true, nil
	case WriteMemCmd:
		p, err := ParseWriteMemCommand(buf)
		if err != nil {
			return "", false, err
		}
		return FormatWriteMemCommand(p, preview), true, nil
	case WriteMemAck:
		p, err := ParseWriteMemAcknowledge(buf)
		if err != nil {
			return "", false, err
		}
		return FormatWriteMemAcknowledge(p), true, nil
	}
	return "", false, nil
}

func FormatReadMemCommand(p ReadMemCommand) string {
	return fmt.Sprintf("#READ CMD:  PREFIX:0x%x Flags:0x%x CommandID:0x%x RequestID:0x%x Address:0x%x ReadLength:0x%x",
		p.Prefix, p.CCD.Flags, p.CCD.CommandID, p.CCD.RequestID, p.Address, p.ReadLength)
}

func FormatReadMemAcknowledge(p ReadMemAcknowledge, preview int) string {
	return fmt.Sprintf("#READ ACK:  PREFIX:0x%x Status:0x%x CommandID:0x%x RequestID:0x%x SCDLength:0x%x SCDData:%s",
		p.Prefix, p.CCD.Status, p.CCD.CommandID, p.CCD.RequestID, p.CCD.Length,
		FormatValue(p.Data, int(p.CCD.Length), preview))
}

func FormatWriteMemCommand(p WriteMemCommand, preview int) string {
	return fmt.Sprintf("#WRITE CMD:  PREFIX:0x%x Flags:0x%x CommandID:0x%x RequestID:0x%x Address:0x%x SCDData:%s",
		p.Prefix, p.CCD.Flags, p.CCD.CommandID, p.CCD.RequestID, p.Address,
		FormatValue(p.Data, int(p.CCD.Length)-8, preview))
}

func FormatWriteMemAcknowledge(p WriteMemAcknowledge) string {
	return fmt.Sprintf("#WRITE ACK:  PREFIX:0x%x Status:0x%x CommandID:0x%x RequestID:0x%x SCDLength:0x%x WriteLength:0x%x",
		p.Prefix, p.CCD.Status, p.CCD.CommandID, p.CCD.RequestID, p.CCD.Length, p.BytesWritten)
}

// FormatLeader renders a leader record for the endpoint label ep.
func FormatLeader(ep string, l ImageLeader) string {
	return fmt.Sprintf("#ImageLeader(%s): BlockID:0x%x PayloadType:0x%x Timestamp:0x%x PixelFormat:0x%x SizeX:0x%x SizeY:0x%x OffsetX:0x%x OffsetY:0x%x",
		ep, l.BlockID, l.PayloadType, l.Timestamp, l.PixelFormat, l.SizeX, l.SizeY, l.OffsetX, l.OffsetY)
}

// FormatTrailer renders a trailer record for the endpoint label ep.
func FormatTrailer(ep string, t ImageTrailer) string {
	return fmt.Sprintf("#ImageTrailer(%s): TrailerSize:0x%x BlockID:0x%x Status:0x%x ValidPayloadSize:0x%x SizeY:0x%x",
		ep, t.TrailerSize, t.BlockID, t.Status, t.ValidPayloadSize, t.SizeY)
}

// FormatValue renders register data. Exactly 8 declared bytes print as the
// high and low 32-bit halves of a little-endian integer, exactly 4 as one
// value, anything else as up to preview hex pairs.
func FormatValue(data []byte, declared, preview int) string {
	if preview <= 0 {
		preview = DefaultPreviewBytes
	}
	switch {
	case declared == 8 && len(data) >= 8:
		v := binary.LittleEndian.Uint64(data[:8])
		return fmt.Sprintf("0x%x 0x%x", v>>32, v&0xFFFFFFFF)
	case declared == 4 && len(data) >= 4:
		return fmt.Sprintf("0x%x", binary.LittleEndian.Uint32(data[:4]))
	}
	var b strings.Builder
	b.WriteString("0x")
	for i, c := range data {
		if i >= preview {
			b.WriteString("......")
			break
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
