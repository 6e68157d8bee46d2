// Package simlink provides an in-process loopback implementing
// link.Physical, pairing a simulated host tool with the bootloader core for
// host-side tests and cmd/bootsim, without any real byte-serial hardware.
package simlink

import (
	"fmt"
	"sync"
	"time"
)

// Loopback is a byte-pipe pair: one direction carries host-to-device bytes,
// the other device-to-host. DeviceSide returns the link.Physical the
// bootloader core runs against; the Host* methods act as the test's
// simulated host tool.
type Loopback struct {
	toDevice chan byte
	toHost   chan byte

	mu       sync.Mutex
	cancelCh chan struct{}
}

// New creates a Loopback with the given channel buffer depth (bytes
// in flight before Send/HostSend blocks).
func New(bufferDepth int) *Loopback {
	return &Loopback{
		toDevice: make(chan byte, bufferDepth),
		toHost:   make(chan byte, bufferDepth),
	}
}

// DeviceSide returns the link.Physical the bootloader core should run
// against.
func (l *Loopback) DeviceSide() *devicePhysical {
	return &devicePhysical{l: l}
}

// HostSend writes buf to the device, one byte at a time, as a real UART
// would deliver it.
func (l *Loopback) HostSend(buf []byte, timeout time.Duration) error {
	deadline := time.After(timeout)
	for _, b := range buf {
		select {
		case l.toDevice <- b:
		case <-deadline:
			return fmt.Errorf("simlink: host send timed out")
		}
	}
	return nil
}

// HostReceive reads exactly n bytes sent by the device.
func (l *Loopback) HostReceive(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	deadline := time.After(timeout)
	for i := range buf {
		select {
		case b := <-l.toHost:
			buf[i] = b
		case <-deadline:
			return nil, fmt.Errorf("simlink: host receive timed out after %d/%d bytes", i, n)
		}
	}
	return buf, nil
}

// devicePhysical is the link.Physical implementation backed by a Loopback.
type devicePhysical struct {
	l *Loopback
}

func (d *devicePhysical) Send(buf []byte, timeout time.Duration) error {
	deadline := time.After(timeout)
	for _, b := range buf {
		select {
		case d.l.toHost <- b:
		case <-deadline:
			return fmt.Errorf("simlink: device send timed out")
		}
	}
	return nil
}

func (d *devicePhysical) Receive(buf []byte, timeout time.Duration) error {
	deadline := time.After(timeout)
	for i := range buf {
		select {
		case b := <-d.l.toDevice:
			buf[i] = b
		case <-deadline:
			return fmt.Errorf("simlink: device receive timed out after %d/%d bytes", i, len(buf))
		}
	}
	return nil
}

// ReceiveInterrupt registers a one-shot callback fired with the next byte
// the host sends. It runs the wait in its own goroutine, as the real
// interrupt source would fire asynchronously to the main loop.
func (d *devicePhysical) ReceiveInterrupt(callback func(b byte)) {
	d.l.mu.Lock()
	cancel := make(chan struct{})
	d.l.cancelCh = cancel
	d.l.mu.Unlock()

	go func() {
		select {
		case b := <-d.l.toDevice:
			callback(b)
		case <-cancel:
		}
	}()
}

func (d *devicePhysical) DisableInterrupt() {
	d.l.mu.Lock()
	defer d.l.mu.Unlock()
	if d.l.cancelCh != nil {
		close(d.l.cancelCh)
		d.l.cancelCh = nil
	}
}
