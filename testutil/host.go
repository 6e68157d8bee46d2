// Package testutil provides a scripted host tool for exercising the
// bootloader core over an in-process loopback, plus skip helpers for tests
// that need real hardware present.
package testutil

import (
	"fmt"
	"time"

	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/crc"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/simlink"
)

// Host drives the host side of the wire protocol against a device running
// on the other end of a simlink.Loopback. It is deliberately strict: every
// receive has a timeout and every ACK is parsed, so a test fails fast when
// the device misbehaves instead of hanging.
type Host struct {
	Link    *simlink.Loopback
	Timeout time.Duration
}

// NewHost creates a Host over lb with the given per-operation timeout.
func NewHost(lb *simlink.Loopback, timeout time.Duration) *Host {
	return &Host{Link: lb, Timeout: timeout}
}

// Sync performs the session handshake: send the sync byte, wait for the
// device's echo.
func (h *Host) Sync(syncByte byte) error {
	if err := h.Link.HostSend([]byte{syncByte}, h.Timeout); err != nil {
		return err
	}
	echo, err := h.Link.HostReceive(1, h.Timeout)
	if err != nil {
		return fmt.Errorf("no sync echo: %w", err)
	}
	if echo[0] != syncByte {
		return fmt.Errorf("sync echo = %#02x, want %#02x", echo[0], syncByte)
	}
	return nil
}

// SendCommand serializes cmd (with a valid crc32) and sends it.
func (h *Host) SendCommand(cmd frame.Command) error {
	return h.Link.HostSend(frame.MarshalSimple(cmd, crc.OfFrame), h.Timeout)
}

// SendCorrupted serializes cmd, flips one bit outside the crc32 field, and
// sends it.
func (h *Host) SendCorrupted(cmd frame.Command) error {
	raw := frame.MarshalSimple(cmd, crc.OfFrame)
	raw[0] ^= 0x80
	return h.Link.HostSend(raw, h.Timeout)
}

// SendDataPacket serializes and sends one DATA_PACKET carrying data. If
// corrupt is set, the packet's first body byte (the low byte of data_len) is
// flipped after the crc32 is computed so the device sees a crc mismatch.
func (h *Host) SendDataPacket(data []byte, nextLen uint32, end, corrupt bool) error {
	var dp frame.DataPacket
	dp.DataLen = uint32(len(data))
	dp.NextLen = nextLen
	dp.EndFlag = end
	copy(dp.DataBlock[:], data)
	raw := frame.MarshalDataPacket(dp, crc.OfFrame)
	if corrupt {
		raw[frame.HeaderSize] ^= 0xFF
	}
	return h.Link.HostSend(raw, h.Timeout)
}

// ReadAck reads and parses one 3-byte ACK.
func (h *Host) ReadAck() (frame.Ack, error) {
	buf, err := h.Link.HostReceive(frame.AckSize, h.Timeout)
	if err != nil {
		return frame.Ack{}, err
	}
	ack, ok := frame.ParseAck(buf)
	if !ok {
		return frame.Ack{}, fmt.Errorf("short ack: %v", buf)
	}
	return ack, nil
}

// SendAck sends a host-side ACK, as the host tool does between streamed
// MEM_READ packets.
func (h *Host) SendAck(success bool) error {
	ack := frame.Ack{CmdIDEchoed: frame.CmdAck, AckValue: 0}
	if success {
		ack.AckValue = 1
	}
	return h.Link.HostSend(ack.Marshal(), h.Timeout)
}

// ReadFrame reads one header-prefixed frame (RESPONSE or DATA_PACKET) and
// returns its raw bytes, verifying the crc32 on the way.
func (h *Host) ReadFrame() ([]byte, error) {
	hdrBytes, err := h.Link.HostReceive(frame.HeaderSize, h.Timeout)
	if err != nil {
		return nil, err
	}
	hdr, err := frame.ParseHeader(hdrBytes)
	if err != nil {
		return nil, err
	}
	if hdr.PayloadSize < frame.HeaderSize {
		return nil, fmt.Errorf("frame payload_size %d below header size", hdr.PayloadSize)
	}
	body, err := h.Link.HostReceive(int(hdr.PayloadSize)-frame.HeaderSize, h.Timeout)
	if err != nil {
		return nil, err
	}
	raw := append(hdrBytes, body...)
	if got := crc.OfFrame(raw); got != hdr.CRC32 {
		return nil, fmt.Errorf("frame crc = %#08x, want %#08x", got, hdr.CRC32)
	}
	return raw, nil
}

// ReadDataPacket reads one DATA_PACKET frame and returns its decoded form.
func (h *Host) ReadDataPacket() (frame.DataPacket, error) {
	raw, err := h.ReadFrame()
	if err != nil {
		return frame.DataPacket{}, err
	}
	cmd, err := frame.Decode(raw)
	if err != nil {
		return frame.DataPacket{}, err
	}
	dp, ok := cmd.(frame.DataPacket)
	if !ok {
		return frame.DataPacket{}, fmt.Errorf("expected DATA_PACKET, got %s", cmd.ID())
	}
	return dp, nil
}

// WriteImage runs a full MEM_WRITE session: the command, then the data
// split into 1024-byte packets, checking every ACK. It returns the number
// of packets sent.
func (h *Host) WriteImage(start uint32, data []byte) (int, error) {
	if err := h.SendCommand(frame.MemWrite{StartAddress: start}); err != nil {
		return 0, err
	}
	ack, err := h.ReadAck()
	if err != nil {
		return 0, err
	}
	if !ack.Success() {
		return 0, fmt.Errorf("MEM_WRITE rejected: nack=%#02x", ack.NACKField)
	}

	packets := 0
	for off := 0; off < len(data); off += bootctx.DataBlockSize {
		chunk := data[off:]
		if len(chunk) > bootctx.DataBlockSize {
			chunk = chunk[:bootctx.DataBlockSize]
		}
		end := off+len(chunk) >= len(data)
		nextLen := uint32(0)
		if !end {
			remaining := len(data) - off - len(chunk)
			if remaining > bootctx.DataBlockSize {
				nextLen = bootctx.DataBlockSize
			} else {
				nextLen = uint32(remaining)
			}
		}
		if err := h.SendDataPacket(chunk, nextLen, end, false); err != nil {
			return packets, err
		}
		packets++
		ack, err := h.ReadAck()
		if err != nil {
			return packets, err
		}
		if !ack.Success() {
			return packets, fmt.Errorf("packet %d rejected: nack=%#02x", packets, ack.NACKField)
		}
	}
	return packets, nil
}

// ReadImage runs a full MEM_READ session and returns the bytes streamed
// back, ACKing every packet.
func (h *Host) ReadImage(start, length uint32) ([]byte, error) {
	if err := h.SendCommand(frame.MemRead{StartAddress: start, Length: length}); err != nil {
		return nil, err
	}
	ack, err := h.ReadAck()
	if err != nil {
		return nil, err
	}
	if !ack.Success() {
		return nil, fmt.Errorf("MEM_READ rejected: nack=%#02x", ack.NACKField)
	}

	out := make([]byte, 0, length)
	for {
		dp, err := h.ReadDataPacket()
		if err != nil {
			return out, err
		}
		out = append(out, dp.DataBlock[:dp.DataLen]...)
		if err := h.SendAck(true); err != nil {
			return out, err
		}
		if dp.EndFlag {
			return out, nil
		}
	}
}
