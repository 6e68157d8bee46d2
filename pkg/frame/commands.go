package frame

import (
	"encoding/binary"

	"github.com/nullwick/flashboot/pkg/bootstatus"
)

// Command is the tagged-union interface implemented by every decodable
// command body. ID reports which constructor produced the value so a
// dispatcher can type-switch without a second lookup.
type Command interface {
	ID() CommandID
}

// GotoAddr is the GOTO_ADDR body: a single target address.
type GotoAddr struct {
	Address uint32
}

func (GotoAddr) ID() CommandID { return CmdGotoAddr }

// MemWrite is the MEM_WRITE body: the address the following DATA_PACKET
// stream writes to.
type MemWrite struct {
	StartAddress uint32
}

func (MemWrite) ID() CommandID { return CmdMemWrite }

// MemRead is the MEM_READ body: the address and length to stream back.
type MemRead struct {
	StartAddress uint32
	Length       uint32
}

func (MemRead) ID() CommandID { return CmdMemRead }

// Version is the (bodyless) VERSION command.
type Version struct{}

func (Version) ID() CommandID { return CmdVersion }

// FlashErase is the FLASH_ERASE body.
type FlashErase struct {
	PageAddress uint32
	PageCount   uint32
}

func (FlashErase) ID() CommandID { return CmdFlashErase }

// EnterCmdMode is the ENTER_CMD_MODE body.
type EnterCmdMode struct {
	Key uint32
}

func (EnterCmdMode) ID() CommandID { return CmdEnterCmdMode }

// JumpToApp is the JUMP_TO_APP body.
type JumpToApp struct {
	Key uint32
}

func (JumpToApp) ID() CommandID { return CmdJumpToApp }

// DataPacket is a single streamed data block used by both MEM_WRITE (host
// to device) and MEM_READ (device to host).
type DataPacket struct {
	DataLen   uint32
	NextLen   uint32
	EndFlag   bool
	DataBlock [1024]byte
}

func (DataPacket) ID() CommandID { return CmdDataPacket }

// Decode parses a fully-received frame (header + body) into its tagged
// Command. buf must contain exactly header.PayloadSize bytes
// (the header followed by the body); the header is re-parsed from it.
func Decode(buf []byte) (Command, error) {
	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := ValidatePayloadSize(hdr.CmdID, hdr.PayloadSize, uint32(len(buf))); err != nil {
		// A frame that arrived shorter than its own declared
		// payload_size is also a length violation, not just one that
		// is merely under the protocol minimum for its id.
		if uint32(len(buf)) < hdr.PayloadSize {
			return nil, bootstatus.New(bootstatus.StatusInvalidLength, "frame shorter than declared payload_size")
		}
		return nil, err
	}
	body := buf[HeaderSize:hdr.PayloadSize]

	switch hdr.CmdID {
	case CmdGotoAddr:
		return GotoAddr{Address: binary.LittleEndian.Uint32(body[0:4])}, nil
	case CmdMemWrite:
		return MemWrite{StartAddress: binary.LittleEndian.Uint32(body[0:4])}, nil
	case CmdMemRead:
		return MemRead{
			StartAddress: binary.LittleEndian.Uint32(body[0:4]),
			Length:       binary.LittleEndian.Uint32(body[4:8]),
		}, nil
	case CmdVersion:
		return Version{}, nil
	case CmdFlashErase:
		return FlashErase{
			PageAddress: binary.LittleEndian.Uint32(body[0:4]),
			PageCount:   binary.LittleEndian.Uint32(body[4:8]),
		}, nil
	case CmdEnterCmdMode:
		return EnterCmdMode{Key: binary.LittleEndian.Uint32(body[0:4])}, nil
	case CmdJumpToApp:
		return JumpToApp{Key: binary.LittleEndian.Uint32(body[0:4])}, nil
	case CmdDataPacket:
		var dp DataPacket
		dp.DataLen = binary.LittleEndian.Uint32(body[0:4])
		dp.NextLen = binary.LittleEndian.Uint32(body[4:8])
		dp.EndFlag = body[8] != 0
		copy(dp.DataBlock[:], body[9:9+1024])
		return dp, nil
	default:
		return nil, bootstatus.New(bootstatus.StatusInvalidCmd, "unknown command id")
	}
}

// MarshalDataPacket serializes a DATA_PACKET frame (header + body) into a
// freshly allocated buffer, computing payload_size and crc32.
func MarshalDataPacket(dp DataPacket, crcOf func([]byte) uint32) []byte {
	payloadSize := HeaderSize + DataPacketMinSize
	buf := make([]byte, payloadSize)
	Header{PayloadSize: uint32(payloadSize), CmdID: CmdDataPacket}.Marshal(buf)
	body := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(body[0:4], dp.DataLen)
	binary.LittleEndian.PutUint32(body[4:8], dp.NextLen)
	if dp.EndFlag {
		body[8] = 1
	}
	copy(body[9:9+1024], dp.DataBlock[:])
	binary.LittleEndian.PutUint32(buf[5:9], crcOf(buf))
	return buf
}

// MarshalSimple serializes any fixed-shape command body (everything but
// DATA_PACKET, which has a dedicated marshaler above) into a freshly
// allocated frame, computing payload_size and crc32.
func MarshalSimple(cmd Command, crcOf func([]byte) uint32) []byte {
	var body []byte
	switch v := cmd.(type) {
	case GotoAddr:
		body = make([]byte, 4)
		binary.LittleEndian.PutUint32(body, v.Address)
	case MemWrite:
		body = make([]byte, 4)
		binary.LittleEndian.PutUint32(body, v.StartAddress)
	case MemRead:
		body = make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], v.StartAddress)
		binary.LittleEndian.PutUint32(body[4:8], v.Length)
	case Version:
		body = nil
	case FlashErase:
		body = make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], v.PageAddress)
		binary.LittleEndian.PutUint32(body[4:8], v.PageCount)
	case EnterCmdMode:
		body = make([]byte, 4)
		binary.LittleEndian.PutUint32(body, v.Key)
	case JumpToApp:
		body = make([]byte, 4)
		binary.LittleEndian.PutUint32(body, v.Key)
	default:
		body = nil
	}
	payloadSize := HeaderSize + len(body)
	buf := make([]byte, payloadSize)
	Header{PayloadSize: uint32(payloadSize), CmdID: cmd.ID()}.Marshal(buf)
	copy(buf[HeaderSize:], body)
	binary.LittleEndian.PutUint32(buf[5:9], crcOf(buf))
	return buf
}
