package u3v

import "encoding/binary"

func putControlHeader(buf []byte, prefix uint32, first, id, length, reqID uint16) {
	binary.LittleEndian.PutUint32(buf[0:4], prefix)
	binary.LittleEndian.PutUint16(buf[4:6], first)
	binary.LittleEndian.PutUint16(buf[6:8], id)
	binary.LittleEndian.PutUint16(buf[8:10], length)
	binary.LittleEndian.PutUint16(buf[10:12], reqID)
}

// MarshalReadMemCommand builds a 24-byte read-memory command.
func MarshalReadMemCommand(flags, reqID uint16, addr uint64, readLen uint16) []byte {
	buf := make([]byte, readMemCmdSize)
	putControlHeader(buf, PrefixCommand, flags, ReadMemCmd, 12, reqID)
	binary.LittleEndian.PutUint64(buf[12:20], addr)
	binary.LittleEndian.PutUint16(buf[22:24], readLen)
	return buf
}

// MarshalReadMemAcknowledge builds a read-memory acknowledgement carrying data.
func MarshalReadMemAcknowledge(status, reqID uint16, data []byte) []byte {
	buf := make([]byte, controlHdrSize+len(data))
	putControlHeader(buf, PrefixCommand, status, ReadMemAck, uint16(len(data)), reqID)
	copy(buf[controlHdrSize:], data)
	return buf
}

// MarshalWriteMemCommand builds a write-memory command for data at addr.
func MarshalWriteMemCommand(flags, reqID uint16, addr uint64, data []byte) []byte {
	buf := make([]byte, writeMemCmdMin+len(data))
	putControlHeader(buf, PrefixCommand, flags, WriteMemCmd, uint16(8+len(data)), reqID)
	binary.LittleEndian.PutUint64(buf[12:20], addr)
	copy(buf[writeMemCmdMin:], data)
	return buf
}

// MarshalWriteMemAcknowledge builds a 16-byte write-memory acknowledgement.
func MarshalWriteMemAcknowledge(status, reqID, written uint16) []byte {
	buf := make([]byte, writeMemAckSize)
	putControlHeader(buf, PrefixCommand, status, WriteMemAck, 4, reqID)
	binary.LittleEndian.PutUint16(buf[14:16], written)
	return buf
}

func MarshalImageLeader(l ImageLeader) []byte {
	buf := make([]byte, ImageLeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicLeader)
	size := l.LeaderSize
	if size == 0 {
		size = ImageLeaderSize
	}
	binary.LittleEndian.PutUint16(buf[6:8], size)
	binary.LittleEndian.PutUint64(buf[8:16], l.BlockID)
	binary.LittleEndian.PutUint16(buf[18:20], l.PayloadType)
	binary.LittleEndian.PutUint64(buf[20:28], l.Timestamp)
	binary.LittleEndian.PutUint32(buf[28:32], l.PixelFormat)
	binary.LittleEndian.PutUint32(buf[32:36], l.SizeX)
	binary.LittleEndian.PutUint32(buf[36:40], l.SizeY)
	binary.LittleEndian.PutUint32(buf[40:44], l.OffsetX)
	binary.LittleEndian.PutUint32(buf[44:48], l.OffsetY)
	binary.LittleEndian.PutUint16(buf[48:50], l.PaddingX)
	return buf
}

func MarshalImageTrailer(t ImageTrailer) []byte {
	buf := make([]byte, ImageTrailerSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicTrailer)
	size := t.TrailerSize
	if size == 0 {
		size = ImageTrailerSize
	}
	binary.LittleEndian.PutUint16(buf[6:8], size)
	binary.LittleEndian.PutUint64(buf[8:16], t.BlockID)
	binary.LittleEndian.PutUint16(buf[16:18], t.Status)
	binary.LittleEndian.PutUint64(buf[20:28], t.ValidPayloadSize)
	binary.LittleEndian.PutUint32(buf[28:32], t.SizeY)
	return buf
}
