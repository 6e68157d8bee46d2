package bootctx

import "sync/atomic"

// Mode is the bootloader's top-level run mode.
type Mode int32

const (
	// ModeReceiveCommand is the state while waiting for the sync handshake
	// and the first command of a session.
	ModeReceiveCommand Mode = iota
	// ModeCommandMode is the state while servicing commands.
	ModeCommandMode
	// ModeDefault means "leave command mode" — either to attempt to boot
	// the application, or (if no valid image exists) to fall back to
	// command mode so the device stays reachable over the link.
	ModeDefault
)

func (m Mode) String() string {
	switch m {
	case ModeReceiveCommand:
		return "ReceiveCommand"
	case ModeCommandMode:
		return "CommandMode"
	case ModeDefault:
		return "Default"
	default:
		return "Unknown"
	}
}

// Context is the process-wide singleton shared by the state machine and
// every command handler. Mode is published through an atomic so the
// receive-interrupt callback (running on the one interrupt source) and the
// main loop's busy-wait observe it consistently without a lock.
type Context struct {
	Config Config

	// CurrentAddress is the working address set by GOTO_ADDR and advanced
	// by MEM_WRITE.
	CurrentAddress uint32

	// Buffer is the command receive buffer, sized to the worst-case frame
	// (header + one DATA_PACKET's data + its streaming metadata).
	Buffer []byte

	mode atomic.Int32
}

// New creates a Context for the given configuration, zero-initialized
// except for the receive buffer's capacity.
func New(cfg Config) *Context {
	c := &Context{
		Config: cfg,
		Buffer: make([]byte, cfg.MaxBufferSize),
	}
	c.mode.Store(int32(ModeReceiveCommand))
	return c
}

// Mode returns the current mode.
func (c *Context) Mode() Mode {
	return Mode(c.mode.Load())
}

// SetMode publishes a new mode. This is the only field the interrupt
// callback path is permitted to write.
func (c *Context) SetMode(m Mode) {
	c.mode.Store(int32(m))
}
