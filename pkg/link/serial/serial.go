// Package serial realizes link.Physical over a real UART, for running the
// bootloader core against actual hardware from a host machine. A dedicated
// read loop drains the port into a byte channel so that both the blocking
// Receive path and the one-shot ReceiveInterrupt path see bytes in arrival
// order.
package serial

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"

	"github.com/nullwick/flashboot/pkg/bootstatus"
)

// readPollInterval bounds how long the read loop blocks inside the port
// driver before re-checking for shutdown.
const readPollInterval = 100 * time.Millisecond

// Port is a UART-backed link.Physical.
type Port struct {
	port serial.Port
	path string

	rx   chan byte
	stop chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	cancelIRQ chan struct{}
}

// Open opens the serial device at path with the given baud rate (8N1) and
// starts the read loop. The device node is probed for read/write access
// first so a missing or locked port fails with a clear error instead of a
// driver-dependent one.
func Open(path string, baudRate int) (*Port, error) {
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return nil, bootstatus.Wrap(bootstatus.StatusTransport,
			fmt.Sprintf("serial device %s not accessible", path), err)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, bootstatus.Wrap(bootstatus.StatusTransport,
			fmt.Sprintf("open serial device %s", path), err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		port.Close()
		return nil, bootstatus.Wrap(bootstatus.StatusTransport, "set read timeout", err)
	}

	p := &Port{
		port: port,
		path: path,
		rx:   make(chan byte, 4096),
		stop: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.readLoop()
	return p, nil
}

// readLoop drains the port one read at a time into the rx channel until
// Close is called.
func (p *Port) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		n, err := p.port.Read(buf)
		if err != nil {
			// A closed or unplugged port ends the loop; Receive
			// callers then time out on the empty channel.
			return
		}
		for _, b := range buf[:n] {
			select {
			case p.rx <- b:
			case <-p.stop:
				return
			}
		}
	}
}

// Send writes len(buf) bytes, blocking up to timeout.
func (p *Port) Send(buf []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := p.port.Write(buf)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return bootstatus.Wrap(bootstatus.StatusTransport, "serial write", err)
		}
		return nil
	case <-time.After(timeout):
		return bootstatus.New(bootstatus.StatusTransport,
			fmt.Sprintf("serial write to %s timed out after %v", p.path, timeout))
	}
}

// Receive reads exactly len(buf) bytes, blocking up to timeout.
func (p *Port) Receive(buf []byte, timeout time.Duration) error {
	deadline := time.After(timeout)
	for i := range buf {
		select {
		case b := <-p.rx:
			buf[i] = b
		case <-deadline:
			return bootstatus.New(bootstatus.StatusTransport,
				fmt.Sprintf("serial read timed out after %d/%d bytes", i, len(buf)))
		}
	}
	return nil
}

// ReceiveInterrupt registers a one-shot callback fired with the next
// received byte, replacing any pending registration.
func (p *Port) ReceiveInterrupt(callback func(b byte)) {
	p.mu.Lock()
	if p.cancelIRQ != nil {
		close(p.cancelIRQ)
	}
	cancel := make(chan struct{})
	p.cancelIRQ = cancel
	p.mu.Unlock()

	go func() {
		select {
		case b := <-p.rx:
			callback(b)
		case <-cancel:
		}
	}()
}

// DisableInterrupt cancels a pending ReceiveInterrupt registration.
func (p *Port) DisableInterrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelIRQ != nil {
		close(p.cancelIRQ)
		p.cancelIRQ = nil
	}
}

// Close stops the read loop and closes the port.
func (p *Port) Close() error {
	close(p.stop)
	err := p.port.Close()
	p.wg.Wait()
	if err != nil {
		return bootstatus.Wrap(bootstatus.StatusTransport, "close serial port", err)
	}
	return nil
}
