package frame

import "encoding/binary"

// Ack is the 3-byte ACK frame (no CRC): (cmd_id_echoed, ack_value,
// nack_field).
type Ack struct {
	CmdIDEchoed CommandID
	AckValue    uint8
	NACKField   uint8
}

// AckSize is the wire size of an ACK frame.
const AckSize = 3

// Success reports whether this ACK represents success: ack_value==1 and
// nack_field==0.
func (a Ack) Success() bool {
	return a.AckValue == 1 && a.NACKField == 0
}

// Marshal serializes the ACK into a freshly allocated 3-byte buffer.
func (a Ack) Marshal() []byte {
	return []byte{byte(a.CmdIDEchoed), a.AckValue, a.NACKField}
}

// ParseAck parses a 3-byte ACK frame.
func ParseAck(buf []byte) (Ack, bool) {
	if len(buf) < AckSize {
		return Ack{}, false
	}
	return Ack{
		CmdIDEchoed: CommandID(buf[0]),
		AckValue:    buf[1],
		NACKField:   buf[2],
	}, true
}

// MarshalResponse serializes a RESPONSE frame (header with cmd_id=0xFF,
// followed by data) with a computed crc32.
func MarshalResponse(data []byte, crcOf func([]byte) uint32) []byte {
	payloadSize := HeaderSize + len(data)
	buf := make([]byte, payloadSize)
	Header{PayloadSize: uint32(payloadSize), CmdID: CmdResponse}.Marshal(buf)
	copy(buf[HeaderSize:], data)
	binary.LittleEndian.PutUint32(buf[5:9], crcOf(buf))
	return buf
}
