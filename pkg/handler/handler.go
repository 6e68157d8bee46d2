// Package handler implements the per-command handlers: CRC and
// address validation, ACK production, and the flash operations each
// command drives.
package handler

import (
	"log"

	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/crc"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/link"
	"github.com/nullwick/flashboot/pkg/region"
)

// Flash is the external flash primitive collaborator.
type Flash interface {
	Erase(pageAddress, pageCount uint32) error
	Write(address uint32, data []byte) error
	// ReadAt copies len(dst) bytes starting at address into dst.
	ReadAt(address uint32, dst []byte) error
	// ReadWord reads a little-endian 32-bit word, used by pkg/launch's
	// image validator ahead of a jump.
	ReadWord(address uint32) (uint32, error)
}

// Handlers holds the collaborators every command handler needs.
type Handlers struct {
	Ctx   *bootctx.Context
	Link  *link.Adapter
	Flash Flash
}

// New creates a Handlers bound to the given context, transport, and flash.
func New(ctx *bootctx.Context, l *link.Adapter, fl Flash) *Handlers {
	return &Handlers{Ctx: ctx, Link: l, Flash: fl}
}

// Handle verifies the CRC of a fully-received frame, decodes it, and
// dispatches to the matching handler. raw must be exactly
// header.PayloadSize bytes (the frame as received off the wire). It
// returns the next Mode the caller's state machine should move to, or the
// current mode unchanged if the command does not affect it.
func (h *Handlers) Handle(raw []byte) bootctx.Mode {
	hdr, err := frame.ParseHeader(raw)
	if err != nil {
		log.Printf("[handler] malformed header: %v", err)
		return h.Ctx.Mode()
	}

	if crc.OfFrame(raw) != hdr.CRC32 {
		h.nack(hdr.CmdID, bootstatus.StatusInvalidCRC, "crc mismatch")
		return h.Ctx.Mode()
	}

	cmd, err := frame.Decode(raw)
	if err != nil {
		log.Printf("[handler] decode failed for cmd_id=0x%02x: %v", hdr.CmdID, err)
		// An unknown command id is NACKed rather than silently
		// dropped, so the host tool has something to resync on.
		h.nack(hdr.CmdID, bootstatus.StatusInvalidCmd, "unknown or malformed command")
		return h.Ctx.Mode()
	}

	switch v := cmd.(type) {
	case frame.GotoAddr:
		h.handleGotoAddr(v)
	case frame.MemWrite:
		h.handleMemWrite(v)
	case frame.MemRead:
		h.handleMemRead(v)
	case frame.Version:
		h.handleVersion()
	case frame.FlashErase:
		h.handleFlashErase(v)
	case frame.EnterCmdMode:
		return h.handleEnterCmdMode(v)
	case frame.JumpToApp:
		return h.handleJumpToApp(v)
	default:
		h.nack(hdr.CmdID, bootstatus.StatusInvalidCmd, "unhandled command variant")
	}
	return h.Ctx.Mode()
}

// ack sends a success ACK for cmd_id.
func (h *Handlers) ack(cmd frame.CommandID) {
	if err := h.Link.SendAck(frame.Ack{CmdIDEchoed: cmd, AckValue: 1, NACKField: 0}); err != nil {
		log.Printf("[handler] send ack failed: %v", err)
	}
}

// nack sends a failure ACK for cmd_id with the NACK bit for status set, and
// logs the reason.
func (h *Handlers) nack(cmd frame.CommandID, status bootstatus.Status, reason string) {
	log.Printf("[handler] %s: %s NACK (%s)", cmd, status, reason)
	if err := h.Link.SendAck(frame.Ack{CmdIDEchoed: cmd, AckValue: 0, NACKField: status.NACKBit()}); err != nil {
		log.Printf("[handler] send nack failed: %v", err)
	}
}

// nackBits sends a failure ACK with an already-combined NACK bitfield (used
// when more than one bit applies, e.g. INVALID_DATA|INVALID_CRC).
func (h *Handlers) nackBits(cmd frame.CommandID, bits uint8, reason string) {
	log.Printf("[handler] %s: NACK bits=0x%02x (%s)", cmd, bits, reason)
	if err := h.Link.SendAck(frame.Ack{CmdIDEchoed: cmd, AckValue: 0, NACKField: bits}); err != nil {
		log.Printf("[handler] send nack failed: %v", err)
	}
}

func (h *Handlers) handleGotoAddr(cmd frame.GotoAddr) {
	h.ack(frame.CmdGotoAddr)
	if region.Contains(h.Ctx.Config.Boot, cmd.Address) {
		h.nack(frame.CmdGotoAddr, bootstatus.StatusInvalidAddress, "target inside bootloader region")
		return
	}
	h.Ctx.CurrentAddress = cmd.Address
}

func (h *Handlers) handleVersion() {
	h.ack(frame.CmdVersion)
	resp := frame.MarshalResponse([]byte{h.Ctx.Config.Version}, crc.OfFrame)
	if err := h.Link.SendResponse(resp); err != nil {
		log.Printf("[handler] VERSION: send response failed: %v", err)
	}
}

func (h *Handlers) handleFlashErase(cmd frame.FlashErase) {
	length := cmd.PageCount * h.Ctx.Config.PageSize
	if err := region.EraseWriteAllowed(h.Ctx.Config.Boot, h.Ctx.Config.Flash, cmd.PageAddress, length); err != nil {
		h.nack(frame.CmdFlashErase, bootstatus.StatusOf(err), err.Error())
		return
	}
	h.ack(frame.CmdFlashErase)

	if err := h.Flash.Erase(cmd.PageAddress, cmd.PageCount); err != nil {
		h.nack(frame.CmdFlashErase, bootstatus.StatusOperationFailure, err.Error())
		return
	}
	h.ack(frame.CmdFlashErase)
}

func (h *Handlers) handleEnterCmdMode(cmd frame.EnterCmdMode) bootctx.Mode {
	if cmd.Key == h.Ctx.Config.EnterCmdModeKey {
		h.ack(frame.CmdEnterCmdMode)
		return bootctx.ModeCommandMode
	}
	h.nack(frame.CmdEnterCmdMode, bootstatus.StatusInvalidKey, "wrong key")
	h.Ctx.SetMode(bootctx.ModeDefault)
	return bootctx.ModeDefault
}

func (h *Handlers) handleJumpToApp(cmd frame.JumpToApp) bootctx.Mode {
	if cmd.Key == h.Ctx.Config.JumpToAppKey {
		h.ack(frame.CmdJumpToApp)
		h.Ctx.SetMode(bootctx.ModeDefault)
		return bootctx.ModeDefault
	}
	h.nack(frame.CmdJumpToApp, bootstatus.StatusInvalidKey, "wrong key")
	return bootctx.ModeCommandMode
}
