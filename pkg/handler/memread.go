package handler

import (
	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/crc"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/region"
)

func (h *Handlers) handleMemRead(cmd frame.MemRead) {
	if err := region.ReadAllowed(h.Ctx.Config.Boot, h.Ctx.Config.Flash, cmd.StartAddress, cmd.Length); err != nil {
		h.nack(frame.CmdMemRead, bootstatus.StatusOf(err), err.Error())
		return
	}
	h.ack(frame.CmdMemRead)

	blocks := int(cmd.Length / bootctx.DataBlockSize)
	remainder := cmd.Length % bootctx.DataBlockSize
	address := cmd.StartAddress

	for i := 0; i < blocks; i++ {
		last := remainder == 0 && i == blocks-1
		nextLen := uint32(bootctx.DataBlockSize)
		if i == blocks-1 {
			nextLen = remainder
		}
		buf, err := h.readPacket(address, bootctx.DataBlockSize, nextLen, last)
		if err != nil {
			h.nack(frame.CmdDataPacket, bootstatus.StatusOperationFailure, err.Error())
			return
		}
		if sendErr := h.Link.SendPacket(buf); sendErr != nil {
			return
		}
		// Full blocks abort outright if the host's ACK doesn't show up.
		if ok, _ := h.Link.ReceiveAck(); !ok {
			return
		}
		address += bootctx.DataBlockSize
	}

	if remainder == 0 {
		return
	}
	buf, err := h.readPacket(address, remainder, 0, true)
	if err != nil {
		h.nack(frame.CmdDataPacket, bootstatus.StatusOperationFailure, err.Error())
		return
	}
	// The final (remainder) packet is resent until the host ACKs it.
	for {
		if err := h.Link.SendPacket(buf); err != nil {
			return
		}
		if ok, _ := h.Link.ReceiveAck(); ok {
			return
		}
	}
}

// readPacket reads length bytes from flash at address and serializes them
// into a DATA_PACKET frame. nextLen announces the size of the packet that
// follows this one, 0 when end is set.
func (h *Handlers) readPacket(address, length, nextLen uint32, end bool) ([]byte, error) {
	var dp frame.DataPacket
	dp.DataLen = length
	dp.EndFlag = end
	if !end {
		dp.NextLen = nextLen
	}
	if err := h.Flash.ReadAt(address, dp.DataBlock[:length]); err != nil {
		return nil, err
	}
	return frame.MarshalDataPacket(dp, crc.OfFrame), nil
}
