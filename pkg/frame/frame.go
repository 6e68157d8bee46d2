// Package frame implements the command frame codec: the fixed
// 9-byte header, the per-command body layouts, and the tagged-union
// Command decoder. All multi-byte fields are little-endian; encoding and
// decoding work directly on byte slices, never on pointer-cast structs.
package frame

import (
	"encoding/binary"

	"github.com/nullwick/flashboot/pkg/bootstatus"
)

// CommandID identifies a frame's command.
type CommandID uint8

// Command ids.
const (
	CmdGotoAddr      CommandID = 0x01
	CmdMemWrite      CommandID = 0x02
	CmdMemRead       CommandID = 0x03
	CmdVersion       CommandID = 0x04
	CmdFlashErase    CommandID = 0x05
	CmdAck           CommandID = 0x06
	CmdEnterCmdMode  CommandID = 0x07
	CmdJumpToApp     CommandID = 0x08
	CmdDataPacket    CommandID = 0x09
	CmdResponse      CommandID = 0xFF
)

func (c CommandID) String() string {
	switch c {
	case CmdGotoAddr:
		return "GOTO_ADDR"
	case CmdMemWrite:
		return "MEM_WRITE"
	case CmdMemRead:
		return "MEM_READ"
	case CmdVersion:
		return "VERSION"
	case CmdFlashErase:
		return "FLASH_ERASE"
	case CmdAck:
		return "ACK"
	case CmdEnterCmdMode:
		return "ENTER_CMD_MODE"
	case CmdJumpToApp:
		return "JUMP_TO_APP"
	case CmdDataPacket:
		return "DATA_PACKET"
	case CmdResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// HeaderSize is the fixed command header size in bytes.
const HeaderSize = 9

// MinFrameSize is the smallest payload_size ever legal: the header alone.
const MinFrameSize = HeaderSize

// Header is the 9-byte frame header.
type Header struct {
	PayloadSize uint32
	CmdID       CommandID
	CRC32       uint32
}

// Marshal writes the header into the first HeaderSize bytes of buf.
func (h Header) Marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.PayloadSize)
	buf[4] = byte(h.CmdID)
	binary.LittleEndian.PutUint32(buf[5:9], h.CRC32)
}

// ParseHeader reads a Header from the first HeaderSize bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, bootstatus.New(bootstatus.StatusProtocol, "header shorter than 9 bytes")
	}
	return Header{
		PayloadSize: binary.LittleEndian.Uint32(buf[0:4]),
		CmdID:       CommandID(buf[4]),
		CRC32:       binary.LittleEndian.Uint32(buf[5:9]),
	}, nil
}

// minBodySize is the minimum body length (excluding the header) for each
// command id that carries a body.
var minBodySize = map[CommandID]uint32{
	CmdGotoAddr:     4,
	CmdMemWrite:     4,
	CmdMemRead:      8,
	CmdVersion:      0,
	CmdFlashErase:   8,
	CmdEnterCmdMode: 4,
	CmdJumpToApp:    4,
	CmdDataPacket:   DataPacketMinSize,
}

// DataPacketMinSize is the size of a DATA_PACKET body: data_len(4) +
// next_len(4) + end_flag(1) + data_block(1024).
const DataPacketMinSize = 4 + 4 + 1 + 1024

// ValidatePayloadSize checks payload_size against the id's minimum body
// size and the configured maximum buffer.
func ValidatePayloadSize(id CommandID, payloadSize, maxBufferSize uint32) error {
	min, known := minBodySize[id]
	if !known {
		return bootstatus.New(bootstatus.StatusInvalidCmd, "unknown command id")
	}
	if payloadSize < HeaderSize+min {
		return bootstatus.New(bootstatus.StatusInvalidLength, "payload_size below minimum for command")
	}
	if payloadSize > maxBufferSize {
		return bootstatus.New(bootstatus.StatusInvalidLength, "payload_size exceeds max buffer size")
	}
	return nil
}
