// Package link implements the transport adapter: the thin wrapper
// over the external byte-serial collaborator that sends ACKs, responses,
// packets and the one-shot sync echo, and receives headers, frame bodies and
// per-packet ACKs.
package link

import (
	"time"

	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/frame"
)

// Physical is the external byte-serial collaborator, out of scope for
// this module's core and supplied by the platform.
type Physical interface {
	// Send writes len(buf) bytes, blocking up to timeout.
	Send(buf []byte, timeout time.Duration) error
	// Receive reads exactly len(buf) bytes into buf, blocking up to
	// timeout.
	Receive(buf []byte, timeout time.Duration) error
	// ReceiveInterrupt registers a one-shot callback invoked with the
	// next received byte, then returns immediately.
	ReceiveInterrupt(callback func(b byte))
	// DisableInterrupt cancels a pending ReceiveInterrupt registration.
	DisableInterrupt()
}

// Adapter wraps a Physical with the configured timeouts and the frame-level
// send/receive operations handlers and the state machine use.
type Adapter struct {
	phy            Physical
	sendTimeout    time.Duration
	receiveTimeout time.Duration
	syncByte       byte
}

// New creates an Adapter over phy with the given timeouts and sync byte.
func New(phy Physical, sendTimeout, receiveTimeout time.Duration, syncByte byte) *Adapter {
	return &Adapter{phy: phy, sendTimeout: sendTimeout, receiveTimeout: receiveTimeout, syncByte: syncByte}
}

// wrapTransportErr classifies a Physical failure as StatusTransport.
func wrapTransportErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return bootstatus.Wrap(bootstatus.StatusTransport, context, err)
}

// SendAck emits the 3-byte ACK frame.
func (a *Adapter) SendAck(ack frame.Ack) error {
	return wrapTransportErr("send ack", a.phy.Send(ack.Marshal(), a.sendTimeout))
}

// SendResponse emits a header-prefixed RESPONSE frame (already serialized
// by the caller via frame.MarshalResponse).
func (a *Adapter) SendResponse(resp []byte) error {
	return wrapTransportErr("send response", a.phy.Send(resp, a.sendTimeout))
}

// SendPacket emits a header-prefixed DATA_PACKET frame (already serialized
// by the caller via frame.MarshalDataPacket).
func (a *Adapter) SendPacket(pkt []byte) error {
	return wrapTransportErr("send packet", a.phy.Send(pkt, a.sendTimeout))
}

// ReceiveAck reads a 3-byte ACK within the receive timeout, returning
// success only if ack_value==1 (cmd_id_echoed names whichever command the
// peer is acknowledging, e.g. DATA_PACKET during a MEM_READ stream, and is
// not itself checked here).
func (a *Adapter) ReceiveAck() (bool, error) {
	buf := make([]byte, frame.AckSize)
	if err := a.phy.Receive(buf, a.receiveTimeout); err != nil {
		return false, wrapTransportErr("receive ack", err)
	}
	ack, ok := frame.ParseAck(buf)
	if !ok {
		return false, nil
	}
	return ack.Success(), nil
}

// ReceiveHeader polls for the 9-byte header within the per-receive timeout.
func (a *Adapter) ReceiveHeader() (frame.Header, error) {
	buf := make([]byte, frame.HeaderSize)
	if err := a.phy.Receive(buf, a.receiveTimeout); err != nil {
		return frame.Header{}, wrapTransportErr("receive header", err)
	}
	return frame.ParseHeader(buf)
}

// ReceiveInto reads n more bytes into buf[offset:offset+n] within the
// per-receive timeout.
func (a *Adapter) ReceiveInto(buf []byte, offset, n int) error {
	return wrapTransportErr("receive body", a.phy.Receive(buf[offset:offset+n], a.receiveTimeout))
}

// RegisterSync arms the sync-byte interrupt callback: when the host's sync
// byte arrives, onSync is invoked. A stray non-sync byte re-arms the
// one-shot registration so the handshake survives line noise.
func (a *Adapter) RegisterSync(onSync func()) {
	var cb func(b byte)
	cb = func(b byte) {
		if b == a.syncByte {
			onSync()
			return
		}
		a.phy.ReceiveInterrupt(cb)
	}
	a.phy.ReceiveInterrupt(cb)
}

// DisableSync cancels a pending RegisterSync registration.
func (a *Adapter) DisableSync() {
	a.phy.DisableInterrupt()
}

// EchoSync writes the sync byte back to the host, completing the
// handshake: "the host sends 0xA5, the device echoes 0xA5."
func (a *Adapter) EchoSync() error {
	return wrapTransportErr("echo sync", a.phy.Send([]byte{a.syncByte}, a.sendTimeout))
}
