package u3v

// Packet prefixes, read little-endian from the first four bytes.
const (
	PrefixCommand uint32 = 0x43563355 // "U3VC"
	PrefixEvent   uint32 = 0x45563355 // "U3VE"
	MagicLeader   uint32 = 0x4C563355 // "U3VL"
	MagicTrailer  uint32 = 0x54563355 // "U3VT"
)

// Command ids carried in the CCD.
const (
	ReadMemCmd  uint16 = 0x0800
	ReadMemAck  uint16 = 0x0801
	WriteMemCmd uint16 = 0x0802
	WriteMemAck uint16 = 0x0803
	PendingAck  uint16 = 0x0805
	EventCmd    uint16 = 0x0C00
)

// Command flags.
const (
	FlagRequestNoAck uint16 = 0x0000
	FlagRequestAck   uint16 = 0x4000
)

// Hex signatures as they appear in a capture's Data column.
const (
	SigAny     = "55 33 56"
	SigControl = "55 33 56 43"
	SigLeader  = "55 33 56 4c"
	SigTrailer = "55 33 56 54"
)

const (
	prefixSize       = 4
	ccdSize          = 8
	controlHdrSize   = prefixSize + ccdSize
	readMemCmdSize   = controlHdrSize + 12
	writeMemCmdMin   = controlHdrSize + 8
	writeMemAckSize  = controlHdrSize + 4
	ImageLeaderSize  = 52
	ImageTrailerSize = 32

	// DefaultPreviewBytes bounds how many raw data bytes are printed for
	// reads and writes that are not 4 or 8 bytes long.
	DefaultPreviewBytes = 16
)

// CommandCCD is the common descriptor of a command packet.
type CommandCCD struct {
	Flags     uint16
	CommandID uint16
	Length    uint16
	RequestID uint16
}

// AckCCD is the common descriptor of an acknowledgement packet.
type AckCCD struct {
	Status    uint16
	CommandID uint16
	Length    uint16
	RequestID uint16
}

type ReadMemCommand struct {
	Prefix     uint32
	CCD        CommandCCD
	Address    uint64
	Reserved   uint16
	ReadLength uint16
}

type ReadMemAcknowledge struct {
	Prefix uint32
	CCD    AckCCD
	Data   []byte
}

type WriteMemCommand struct {
	Prefix  uint32
	CCD     CommandCCD
	Address uint64
	Data    []byte
}

type WriteMemAcknowledge struct {
	Prefix       uint32
	CCD          AckCCD
	Reserved     uint16
	BytesWritten uint16
}

// ImageLeader opens one streamed image block.
type ImageLeader struct {
	Magic       uint32
	Reserved1   uint16
	LeaderSize  uint16
	BlockID     uint64
	Reserved2   uint16
	PayloadType uint16
	Timestamp   uint64
	PixelFormat uint32
	SizeX       uint32
	SizeY       uint32
	OffsetX     uint32
	OffsetY     uint32
	PaddingX    uint16
	Reserved3   uint16
}

// ImageTrailer closes one streamed image block.
type ImageTrailer struct {
	Magic            uint32
	Reserved1        uint16
	TrailerSize      uint16
	BlockID          uint64
	Status           uint16
	Reserved2        uint16
	ValidPayloadSize uint64
	SizeY            uint32
}
