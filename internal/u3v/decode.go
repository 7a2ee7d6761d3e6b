package u3v

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotControl = errors.New("packet prefix is not U3VC")
	ErrBadMagic   = errors.New("unexpected stream record magic")
)

func need(what string, buf []byte, n int) error {
	if len(buf) < n {
		return fmt.Errorf("%s: need %d bytes, have %d: %w", what, n, len(buf), io.ErrUnexpectedEOF)
	}
	return nil
}

// ParsePrefix returns the packet-type discriminant.
func ParsePrefix(buf []byte) (uint32, error) {
	if err := need("prefix", buf, prefixSize); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[0:4]), nil
}

// ParseCommandCCD reads the CCD following the prefix of a command packet.
func ParseCommandCCD(buf []byte) (CommandCCD, error) {
	var ccd CommandCCD
	if err := need("command ccd", buf, controlHdrSize); err != nil {
		return ccd, err
	}
	ccd.Flags = binary.LittleEndian.Uint16(buf[4:6])
	ccd.CommandID = binary.LittleEndian.Uint16(buf[6:8])
	ccd.Length = binary.LittleEndian.Uint16(buf[8:10])
	ccd.RequestID = binary.LittleEndian.Uint16(buf[10:12])
	return ccd, nil
}

// ParseAckCCD reads the CCD following the prefix of an acknowledgement.
func ParseAckCCD(buf []byte) (AckCCD, error) {
	var ccd AckCCD
	if err := need("ack ccd", buf, controlHdrSize); err != nil {
		return ccd, err
	}
	ccd.Status = binary.LittleEndian.Uint16(buf[4:6])
	ccd.CommandID = binary.LittleEndian.Uint16(buf[6:8])
	ccd.Length = binary.LittleEndian.Uint16(buf[8:10])
	ccd.RequestID = binary.LittleEndian.Uint16(buf[10:12])
	return ccd, nil
}

// CommandID returns the command id of a control packet after checking its
// prefix.
func CommandID(buf []byte) (uint16, error) {
	prefix, err := ParsePrefix(buf)
	if err != nil {
		return 0, err
	}
	if prefix != PrefixCommand {
		return 0, fmt.Errorf("%w: 0x%08x", ErrNotControl, prefix)
	}
	if err := need("ccd", buf, controlHdrSize); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[6:8]), nil
}

func ParseReadMemCommand(buf []byte) (ReadMemCommand, error) {
	var p ReadMemCommand
	if err := need("read mem cmd", buf, readMemCmdSize); err != nil {
		return p, err
	}
	ccd, err := ParseCommandCCD(buf)
	if err != nil {
		return p, err
	}
	p.Prefix = binary.LittleEndian.Uint32(buf[0:4])
	p.CCD = ccd
	p.Address = binary.LittleEndian.Uint64(buf[12:20])
	p.Reserved = binary.LittleEndian.Uint16(buf[20:22])
	p.ReadLength = binary.LittleEndian.Uint16(buf[22:24])
	return p, nil
}

// ParseReadMemAcknowledge keeps at most CCD.Length data bytes; a capture
// that holds fewer yields the bytes present.
func ParseReadMemAcknowledge(buf []byte) (ReadMemAcknowledge, error) {
	var p ReadMemAcknowledge
	ccd, err := ParseAckCCD(buf)
	if err != nil {
		return p, err
	}
	p.Prefix = binary.LittleEndian.Uint32(buf[0:4])
	p.CCD = ccd
	p.Data = clip(buf, controlHdrSize, int(ccd.Length))
	return p, nil
}

// ParseWriteMemCommand splits the SCD into the register address and the
// CCD.Length-8 bytes of write data.
func ParseWriteMemCommand(buf []byte) (WriteMemCommand, error) {
	var p WriteMemCommand
	if err := need("write mem cmd", buf, writeMemCmdMin); err != nil {
		return p, err
	}
	ccd, err := ParseCommandCCD(buf)
	if err != nil {
		return p, err
	}
	p.Prefix = binary.LittleEndian.Uint32(buf[0:4])
	p.CCD = ccd
	p.Address = binary.LittleEndian.Uint64(buf[12:20])
	p.Data = clip(buf, writeMemCmdMin, int(ccd.Length)-8)
	return p, nil
}

func ParseWriteMemAcknowledge(buf []byte) (WriteMemAcknowledge, error) {
	var p WriteMemAcknowledge
	if err := need("write mem ack", buf, writeMemAckSize); err != nil {
		return p, err
	}
	ccd, err := ParseAckCCD(buf)
	if err != nil {
		return p, err
	}
	p.Prefix = binary.LittleEndian.Uint32(buf[0:4])
	p.CCD = ccd
	p.Reserved = binary.LittleEndian.Uint16(buf[12:14])
	p.BytesWritten = binary.LittleEndian.Uint16(buf[14:16])
	return p, nil
}

func ParseImageLeader(buf []byte) (ImageLeader, error) {
	var l ImageLeader
	if err := need("image leader", buf, ImageLeaderSize); err != nil {
		return l, err
	}
	l.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if l.Magic != MagicLeader {
		return l, fmt.Errorf("%w: leader 0x%08x", ErrBadMagic, l.Magic)
	}
	l.Reserved1 = binary.LittleEndian.Uint16(buf[4:6])
	l.LeaderSize = binary.LittleEndian.Uint16(buf[6:8])
	l.BlockID = binary.LittleEndian.Uint64(buf[8:16])
	l.Reserved2 = binary.LittleEndian.Uint16(buf[16:18])
	l.PayloadType = binary.LittleEndian.Uint16(buf[18:20])
	l.Timestamp = binary.LittleEndian.Uint64(buf[20:28])
	l.PixelFormat = binary.LittleEndian.Uint32(buf[28:32])
	l.SizeX = binary.LittleEndian.Uint32(buf[32:36])
	l.SizeY = binary.LittleEndian.Uint32(buf[36:40])
	l.OffsetX = binary.LittleEndian.Uint32(buf[40:44])
	l.OffsetY = binary.LittleEndian.Uint32(buf[44:48])
	l.PaddingX = binary.LittleEndian.Uint16(buf[48:50])
	l.Reserved3 = binary.LittleEndian.Uint16(buf[50:52])
	return l, nil
}

func ParseImageTrailer(buf []byte) (ImageTrailer, error) {
	var t ImageTrailer
	if err := need("image trailer", buf, ImageTrailerSize); err != nil {
		return t, err
	}
	t.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if t.Magic != MagicTrailer {
		return t, fmt.Errorf("%w: trailer 0x%08x", ErrBadMagic, t.Magic)
	}
	t.Reserved1 = binary.LittleEndian.Uint16(buf[4:6])
	t.TrailerSize = binary.LittleEndian.Uint16(buf[6:8])
	t.BlockID = binary.LittleEndian.Uint64(buf[8:16])
	t.Status = binary.LittleEndian.Uint16(buf[16:18])
	t.Reserved2 = binary.LittleEndian.Uint16(buf[18:20])
	t.ValidPayloadSize = binary.LittleEndian.Uint64(buf[20:28])
	t.SizeY = binary.LittleEndian.Uint32(buf[28:32])
	return t, nil
}

// clip returns up to n bytes of buf starting at off.
func clip(buf []byte, off, n int) []byte {
	if n <= 0 || off >= len(buf) {
		return []byte{}
	}
	end := off + n
	if end > len(buf) {
		end = len(buf)
	}
	return buf[off:end]
}
