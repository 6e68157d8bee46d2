// Package integration exercises a complete firmware-update session against
// the full machine: sync, erase, stream an image in, read it back, and hand
// control to it, all over the in-process loopback.
package integration

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/bootloader"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/handler"
	"github.com/nullwick/flashboot/pkg/link"
	"github.com/nullwick/flashboot/pkg/region"
	"github.com/nullwick/flashboot/pkg/simflash"
	"github.com/nullwick/flashboot/pkg/simhw"
	"github.com/nullwick/flashboot/pkg/simlink"
	"github.com/nullwick/flashboot/pkg/simtimer"
	"github.com/nullwick/flashboot/testutil"
)

const hostTimeout = 2 * time.Second

type bench struct {
	cfg      bootctx.Config
	host     *testutil.Host
	img      *simflash.Image
	platform *simhw.Platform
	done     chan error
	cancel   context.CancelFunc
}

func startBench(t *testing.T) *bench {
	t.Helper()
	cfg := bootctx.Default()
	cfg.Flash = region.Range{Start: 0x08000000, End: 0x0800FFFF}
	cfg.Boot = region.Range{Start: 0x08000000, End: 0x08001FFF}
	cfg.App = region.Range{Start: 0x08002000, End: 0x0800FFFF}
	cfg.CommandTimeoutMs = 3_600_000
	cfg.ReceiveTimeoutMs = 200
	cfg.SendTimeoutMs = 500
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	ctx := bootctx.New(cfg)
	lb := simlink.New(16384)
	adapter := link.New(lb.DeviceSide(),
		time.Duration(cfg.SendTimeoutMs)*time.Millisecond,
		time.Duration(cfg.ReceiveTimeoutMs)*time.Millisecond,
		cfg.SyncByte)
	img := simflash.New(cfg.Flash.Start, cfg.Flash.End-cfg.Flash.Start+1)
	platform := simhw.NewPlatform()
	handlers := handler.New(ctx, adapter, img)
	machine := bootloader.New(ctx, simhw.New(), adapter, handlers, simtimer.New(), img, platform, cfg.App.Start)

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- machine.Run(runCtx)
	}()

	b := &bench{cfg: cfg, host: testutil.NewHost(lb, hostTimeout), img: img, platform: platform, done: done, cancel: cancel}
	if err := b.host.Sync(cfg.SyncByte); err != nil {
		t.Fatalf("sync handshake: %v", err)
	}
	return b
}

func (b *bench) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-b.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("machine did not stop")
		return nil
	}
}

// firmwareImage builds an image whose first two words form a plausible
// vector table, followed by a recognizable byte pattern.
func firmwareImage(size int) []byte {
	img := make([]byte, size)
	binary.LittleEndian.PutUint32(img[0:4], 0x20005000)
	binary.LittleEndian.PutUint32(img[4:8], 0x08002041)
	for i := 8; i < size; i++ {
		img[i] = byte(i * 7)
	}
	return img
}

func TestFullUpdateSession(t *testing.T) {
	b := startBench(t)
	image := firmwareImage(2*bootctx.DataBlockSize + 512)

	// Erase the pages the image will occupy.
	pages := uint32(len(image)+int(b.cfg.PageSize)-1) / b.cfg.PageSize
	if err := b.host.SendCommand(frame.FlashErase{PageAddress: b.cfg.App.Start, PageCount: pages}); err != nil {
		t.Fatalf("send erase: %v", err)
	}
	for i := 0; i < 2; i++ {
		ack, err := b.host.ReadAck()
		if err != nil {
			t.Fatalf("erase ack %d: %v", i, err)
		}
		if !ack.Success() {
			t.Fatalf("erase ack %d = %+v", i, ack)
		}
	}

	packets, err := b.host.WriteImage(b.cfg.App.Start, image)
	if err != nil {
		t.Fatalf("write image: %v", err)
	}
	if packets != 3 {
		t.Errorf("wrote %d packets, want 3", packets)
	}

	back, err := b.host.ReadImage(b.cfg.App.Start, uint32(len(image)))
	if err != nil {
		t.Fatalf("read image back: %v", err)
	}
	if !bytes.Equal(back, image) {
		t.Fatal("read-back differs from written image")
	}

	// Record a working address, then hand control to the new image.
	if err := b.host.SendCommand(frame.GotoAddr{Address: b.cfg.App.Start}); err != nil {
		t.Fatalf("send goto: %v", err)
	}
	if ack, err := b.host.ReadAck(); err != nil || !ack.Success() {
		t.Fatalf("goto ack = %+v, err = %v", ack, err)
	}

	if err := b.host.SendCommand(frame.JumpToApp{Key: b.cfg.JumpToAppKey}); err != nil {
		t.Fatalf("send jump: %v", err)
	}
	if ack, err := b.host.ReadAck(); err != nil || !ack.Success() {
		t.Fatalf("jump ack = %+v, err = %v", ack, err)
	}

	if err := b.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !b.platform.Jumped {
		t.Fatal("no jump recorded")
	}
	if b.platform.StackPointer != 0x20005000 || b.platform.ResetHandler != 0x08002041 {
		t.Errorf("sp/reset = %#x/%#x, want the streamed vector table",
			b.platform.StackPointer, b.platform.ResetHandler)
	}
}

func TestNoisyLinkPacketRetry(t *testing.T) {
	b := startBench(t)
	defer b.cancel()
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := b.host.SendCommand(frame.MemWrite{StartAddress: b.cfg.App.Start}); err != nil {
		t.Fatalf("send mem_write: %v", err)
	}
	if ack, err := b.host.ReadAck(); err != nil || !ack.Success() {
		t.Fatalf("mem_write ack = %+v, err = %v", ack, err)
	}

	// First attempt arrives corrupted and is NACKed; the retry lands.
	if err := b.host.SendDataPacket(payload, 0, true, true); err != nil {
		t.Fatalf("send corrupted packet: %v", err)
	}
	ack, err := b.host.ReadAck()
	if err != nil {
		t.Fatalf("nack: %v", err)
	}
	if ack.AckValue != 0 || ack.NACKField == 0 {
		t.Fatalf("corrupted packet ack = %+v, want a NACK", ack)
	}

	if err := b.host.SendDataPacket(payload, 0, true, false); err != nil {
		t.Fatalf("resend packet: %v", err)
	}
	if ack, err := b.host.ReadAck(); err != nil || !ack.Success() {
		t.Fatalf("resend ack = %+v, err = %v", ack, err)
	}

	got := make([]byte, len(payload))
	if err := b.img.ReadAt(b.cfg.App.Start, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("flash contents differ from the retried packet")
	}
}

func TestEraseRefusedInsideBootloaderRegion(t *testing.T) {
	b := startBench(t)
	defer b.cancel()
	before := make([]byte, 256)
	if err := b.img.ReadAt(b.cfg.Boot.Start+0x400, before); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	if err := b.host.SendCommand(frame.FlashErase{PageAddress: b.cfg.Boot.Start + 0x400, PageCount: 1}); err != nil {
		t.Fatalf("send erase: %v", err)
	}
	ack, err := b.host.ReadAck()
	if err != nil {
		t.Fatalf("ReadAck: %v", err)
	}
	if ack.AckValue != 0 || ack.NACKField&0x04 == 0 {
		t.Fatalf("ack = %+v, want INVALID_ADDRESS", ack)
	}

	after := make([]byte, 256)
	if err := b.img.ReadAt(b.cfg.Boot.Start+0x400, after); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("bootloader region was modified")
	}
}
