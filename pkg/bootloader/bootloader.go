// Package bootloader implements the state machine: the top-level
// Init -> ReceiveCommand -> CommandMode -> Default loop that ties the
// transport, the handlers, and the image launcher together.
package bootloader

import (
	"context"
	"log"
	"time"

	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/handler"
	"github.com/nullwick/flashboot/pkg/launch"
	"github.com/nullwick/flashboot/pkg/link"
)

// Hardware is the external collaborator for the platform's ambient init
// sequence, the boot-time button check, and busy-wait delay.
type Hardware interface {
	InitLEDs() error
	InitButton() error
	InitComm() error
	SetLED(on bool) error
	// ButtonPressed reports whether the boot-mode button is held at Init.
	ButtonPressed() (bool, error)
	Delay(d time.Duration)
}

// Timer is the external timer service collaborator: a single pending
// timeout, armed and disarmed by the state machine.
type Timer interface {
	SetTimeout(d time.Duration, onExpire func())
	DisableTimeout()
}

// Machine holds every collaborator the state machine needs and runs the
// boot/sync/dispatch loop.
type Machine struct {
	Ctx      *bootctx.Context
	HW       Hardware
	Link     *link.Adapter
	Handlers *handler.Handlers
	Timer    Timer
	Flash    handler.Flash
	Platform launch.Platform
	AppStart uint32
}

// New creates a Machine over the given collaborators.
func New(ctx *bootctx.Context, hw Hardware, l *link.Adapter, h *handler.Handlers, tm Timer, fl handler.Flash, plat launch.Platform, appStart uint32) *Machine {
	return &Machine{Ctx: ctx, HW: hw, Link: l, Handlers: h, Timer: tm, Flash: fl, Platform: plat, AppStart: appStart}
}

// Run drives the state machine until it jumps to the application, the
// caller cancels ctx, or an unrecoverable hardware init error occurs. A
// successful jump returns nil; the real reset handler never returns, but a
// host Platform fake does, so Run reports the jump as a clean exit.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.HW.InitLEDs(); err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "init leds", err)
	}
	m.flashLED(5, 50*time.Millisecond)
	if err := m.HW.InitButton(); err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "init button", err)
	}
	m.flashLED(5, 50*time.Millisecond)
	if err := m.HW.InitComm(); err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "init comm", err)
	}
	m.flashLED(5, 50*time.Millisecond)
	pressed, err := m.HW.ButtonPressed()
	if err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "read boot button", err)
	}
	if pressed {
		m.Ctx.SetMode(bootctx.ModeDefault)
	} else {
		m.Ctx.SetMode(bootctx.ModeReceiveCommand)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch m.Ctx.Mode() {
		case bootctx.ModeReceiveCommand:
			m.Ctx.SetMode(m.receiveCommandState(ctx))
		case bootctx.ModeCommandMode:
			m.Ctx.SetMode(m.commandModeState(ctx))
		case bootctx.ModeDefault:
			if err := launch.Launch(m.Flash, m.Platform, m.AppStart); err != nil {
				log.Printf("[bootloader] %v, remaining in command mode", err)
				m.Ctx.SetMode(bootctx.ModeCommandMode)
				continue
			}
			return nil
		}
	}
}

// flashLED blinks the indicator LED, the only user-visible sign of life
// before the link comes up.
func (m *Machine) flashLED(flashes int, interval time.Duration) {
	for i := 0; i < flashes; i++ {
		if err := m.HW.SetLED(true); err != nil {
			return
		}
		m.HW.Delay(interval)
		m.HW.SetLED(false)
		m.HW.Delay(interval)
	}
}

// receiveCommandState registers the sync-byte interrupt callback and arms
// the coarse command-arrival timeout, busy-waits for the interrupt to move
// the mode out of ReceiveCommand, then poll-receives and dispatches the
// first command of the session. If the coarse timeout fires at any point,
// including while waiting for the header, it exits to Default.
func (m *Machine) receiveCommandState(ctx context.Context) bootctx.Mode {
	m.Timer.SetTimeout(commandTimeout(m.Ctx.Config), func() {
		m.Ctx.SetMode(bootctx.ModeDefault)
	})
	m.Link.RegisterSync(func() {
		if err := m.Link.EchoSync(); err != nil {
			log.Printf("[bootloader] echo sync failed: %v", err)
			return
		}
		m.Ctx.SetMode(bootctx.ModeCommandMode)
	})

	for m.Ctx.Mode() == bootctx.ModeReceiveCommand {
		select {
		case <-ctx.Done():
			m.Link.DisableSync()
			m.Timer.DisableTimeout()
			return bootctx.ModeDefault
		default:
		}
	}
	m.Link.DisableSync()

	if m.Ctx.Mode() == bootctx.ModeDefault {
		m.Timer.DisableTimeout()
		return bootctx.ModeDefault
	}

	for {
		if m.Ctx.Mode() == bootctx.ModeDefault {
			return bootctx.ModeDefault
		}
		select {
		case <-ctx.Done():
			m.Timer.DisableTimeout()
			return bootctx.ModeDefault
		default:
		}

		hdr, err := m.Link.ReceiveHeader()
		if err != nil {
			// Per-receive timeout with nothing on the wire yet; keep
			// polling until the coarse timer flips mode to Default.
			continue
		}
		m.Timer.DisableTimeout()
		return m.receiveAndDispatch(hdr, bootctx.ModeCommandMode)
	}
}

// commandModeState services one command per call: wait for the next
// header+body and dispatch it. It runs under no coarse timeout of its own
//; only a handler setting
// the mode, or ctx cancellation, ends the CommandMode session.
func (m *Machine) commandModeState(ctx context.Context) bootctx.Mode {
	for {
		select {
		case <-ctx.Done():
			return bootctx.ModeDefault
		default:
		}

		hdr, err := m.Link.ReceiveHeader()
		if err != nil {
			continue
		}
		return m.receiveAndDispatch(hdr, bootctx.ModeCommandMode)
	}
}

// receiveAndDispatch validates payload_size, poll-receives the remaining
// body bytes, and dispatches the assembled frame. onInvalid is returned
// when the frame must be rejected without having been fully received (its
// declared size can't safely be trusted).
func (m *Machine) receiveAndDispatch(hdr frame.Header, onInvalid bootctx.Mode) bootctx.Mode {
	if err := frame.ValidatePayloadSize(hdr.CmdID, hdr.PayloadSize, uint32(len(m.Ctx.Buffer))); err != nil {
		log.Printf("[bootloader] rejecting frame: %v", err)
		ack := frame.Ack{CmdIDEchoed: hdr.CmdID, AckValue: 0, NACKField: bootstatus.StatusOf(err).NACKBit()}
		if sendErr := m.Link.SendAck(ack); sendErr != nil {
			log.Printf("[bootloader] send nack failed: %v", sendErr)
		}
		return onInvalid
	}

	buf := m.Ctx.Buffer[:hdr.PayloadSize]
	hdr.Marshal(buf)
	if hdr.PayloadSize > frame.HeaderSize {
		if err := m.Link.ReceiveInto(buf, frame.HeaderSize, int(hdr.PayloadSize)-frame.HeaderSize); err != nil {
			log.Printf("[bootloader] receive body failed: %v", err)
			return onInvalid
		}
	}
	return m.Handlers.Handle(buf)
}

func commandTimeout(cfg bootctx.Config) time.Duration {
	return time.Duration(cfg.CommandTimeoutMs) * time.Millisecond
}
