package link

import (
	"errors"
	"testing"
	"time"

	"github.com/nullwick/flashboot/pkg/frame"
)

// fakePhysical is a minimal in-memory Physical for exercising Adapter
// without any real byte-serial link.
type fakePhysical struct {
	sent      [][]byte
	toReceive [][]byte
	recvErr   error
	sendErr   error
	interrupt func(byte)
}

func (f *fakePhysical) Send(buf []byte, timeout time.Duration) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := append([]byte(nil), buf...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakePhysical) Receive(buf []byte, timeout time.Duration) error {
	if f.recvErr != nil {
		return f.recvErr
	}
	if len(f.toReceive) == 0 {
		return errors.New("no more data queued")
	}
	next := f.toReceive[0]
	f.toReceive = f.toReceive[1:]
	copy(buf, next)
	return nil
}

func (f *fakePhysical) ReceiveInterrupt(callback func(b byte)) {
	f.interrupt = callback
}

func (f *fakePhysical) DisableInterrupt() {
	f.interrupt = nil
}

func TestSendAck(t *testing.T) {
	phy := &fakePhysical{}
	a := New(phy, time.Second, time.Second, 0xA5)
	ack := frame.Ack{CmdIDEchoed: frame.CmdVersion, AckValue: 1, NACKField: 0}
	if err := a.SendAck(ack); err != nil {
		t.Fatalf("SendAck: %v", err)
	}
	if len(phy.sent) != 1 || len(phy.sent[0]) != frame.AckSize {
		t.Fatalf("expected one 3-byte send, got %v", phy.sent)
	}
}

func TestSendAckTransportError(t *testing.T) {
	phy := &fakePhysical{sendErr: errors.New("line down")}
	a := New(phy, time.Second, time.Second, 0xA5)
	err := a.SendAck(frame.Ack{})
	if err == nil {
		t.Fatal("expected a transport error")
	}
}

func TestReceiveAckSuccess(t *testing.T) {
	phy := &fakePhysical{toReceive: [][]byte{{byte(frame.CmdAck), 1, 0}}}
	a := New(phy, time.Second, time.Second, 0xA5)
	ok, err := a.ReceiveAck()
	if err != nil {
		t.Fatalf("ReceiveAck: %v", err)
	}
	if !ok {
		t.Error("expected success")
	}
}

func TestReceiveAckFailureValue(t *testing.T) {
	phy := &fakePhysical{toReceive: [][]byte{{byte(frame.CmdAck), 0, 0x04}}}
	a := New(phy, time.Second, time.Second, 0xA5)
	ok, err := a.ReceiveAck()
	if err != nil {
		t.Fatalf("ReceiveAck: %v", err)
	}
	if ok {
		t.Error("expected failure for ack_value=0")
	}
}

func TestReceiveHeaderParsesFields(t *testing.T) {
	hdr := frame.Header{PayloadSize: 13, CmdID: frame.CmdGotoAddr, CRC32: 0xAABBCCDD}
	buf := make([]byte, frame.HeaderSize)
	hdr.Marshal(buf)
	phy := &fakePhysical{toReceive: [][]byte{buf}}
	a := New(phy, time.Second, time.Second, 0xA5)

	got, err := a.ReceiveHeader()
	if err != nil {
		t.Fatalf("ReceiveHeader: %v", err)
	}
	if got != hdr {
		t.Errorf("ReceiveHeader() = %+v, want %+v", got, hdr)
	}
}

func TestRegisterSyncFiresOnlyOnSyncByte(t *testing.T) {
	phy := &fakePhysical{}
	a := New(phy, time.Second, time.Second, 0xA5)

	fired := false
	a.RegisterSync(func() { fired = true })
	if phy.interrupt == nil {
		t.Fatal("expected ReceiveInterrupt to be registered")
	}

	phy.interrupt(0x00)
	if fired {
		t.Fatal("non-sync byte must not fire onSync")
	}
	phy.interrupt(0xA5)
	if !fired {
		t.Fatal("sync byte must fire onSync")
	}
}

func TestDisableSyncClearsCallback(t *testing.T) {
	phy := &fakePhysical{}
	a := New(phy, time.Second, time.Second, 0xA5)
	a.RegisterSync(func() {})
	a.DisableSync()
	if phy.interrupt != nil {
		t.Error("expected DisableSync to clear the registered callback")
	}
}

func TestEchoSync(t *testing.T) {
	phy := &fakePhysical{}
	a := New(phy, time.Second, time.Second, 0xA5)
	if err := a.EchoSync(); err != nil {
		t.Fatalf("EchoSync: %v", err)
	}
	if len(phy.sent) != 1 || phy.sent[0][0] != 0xA5 {
		t.Errorf("expected sync byte echoed, got %v", phy.sent)
	}
}
