package handler

import (
	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/crc"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/region"
)

func (h *Handlers) handleMemWrite(cmd frame.MemWrite) {
	if region.Contains(h.Ctx.Config.Boot, cmd.StartAddress) || !region.Contains(h.Ctx.Config.Flash, cmd.StartAddress) {
		h.nack(frame.CmdMemWrite, bootstatus.StatusInvalidAddress, "start address outside flash or inside bootloader region")
		return
	}
	h.ack(frame.CmdMemWrite)

	address := cmd.StartAddress
	retries := 0

	for {
		raw, err := h.receiveFrame()
		if err != nil {
			h.nack(frame.CmdDataPacket, bootstatus.StatusOf(err), err.Error())
			return
		}

		hdr, err := frame.ParseHeader(raw)
		if err != nil || hdr.CmdID != frame.CmdDataPacket {
			h.nack(frame.CmdDataPacket, bootstatus.StatusInvalidCmd, "expected DATA_PACKET")
			return
		}

		if crc.OfFrame(raw) != hdr.CRC32 {
			h.nackBits(frame.CmdDataPacket,
				bootstatus.StatusInvalidData.NACKBit()|bootstatus.StatusInvalidCRC.NACKBit(),
				"data packet crc mismatch")
			retries++
			// MaxRetries counts consecutive failures; the counter
			// resets on every clean packet.
			if retries > h.Ctx.Config.MaxRetries {
				return
			}
			continue
		}

		dp, err := frame.Decode(raw)
		if err != nil {
			h.nack(frame.CmdDataPacket, bootstatus.StatusInvalidCmd, "malformed data packet")
			return
		}
		packet := dp.(frame.DataPacket)

		// Reject on block-overlap with the bootloader region, not a
		// single-address inside-range test: a write starting just
		// below the region must not run into it.
		if region.Overlaps(h.Ctx.Config.Boot, address, packet.DataLen) {
			h.nack(frame.CmdDataPacket, bootstatus.StatusInvalidAddress, "write target overlaps bootloader region")
			return
		}

		if err := h.Flash.Write(address, packet.DataBlock[:packet.DataLen]); err != nil {
			h.nack(frame.CmdDataPacket, bootstatus.StatusOperationFailure, err.Error())
			return
		}
		address += packet.DataLen
		retries = 0
		h.ack(frame.CmdDataPacket)

		if packet.EndFlag {
			return
		}
	}
}

// receiveFrame polls the 9-byte header, then the remaining payload_size-9
// bytes, into h.Ctx.Buffer, and returns the slice actually used.
func (h *Handlers) receiveFrame() ([]byte, error) {
	hdr, err := h.Link.ReceiveHeader()
	if err != nil {
		return nil, err
	}
	if err := frame.ValidatePayloadSize(hdr.CmdID, hdr.PayloadSize, uint32(len(h.Ctx.Buffer))); err != nil {
		return nil, err
	}
	buf := h.Ctx.Buffer[:hdr.PayloadSize]
	hdr.Marshal(buf)
	if hdr.PayloadSize > frame.HeaderSize {
		if err := h.Link.ReceiveInto(buf, frame.HeaderSize, int(hdr.PayloadSize)-frame.HeaderSize); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
