package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nullwick/flashboot/pkg/bootctx"
	"github.com/nullwick/flashboot/pkg/bootloader"
	"github.com/nullwick/flashboot/pkg/crc"
	"github.com/nullwick/flashboot/pkg/frame"
	"github.com/nullwick/flashboot/pkg/handler"
	"github.com/nullwick/flashboot/pkg/link"
	"github.com/nullwick/flashboot/pkg/link/serial"
	"github.com/nullwick/flashboot/pkg/region"
	"github.com/nullwick/flashboot/pkg/simflash"
	"github.com/nullwick/flashboot/pkg/simhw"
	"github.com/nullwick/flashboot/pkg/simlink"
	"github.com/nullwick/flashboot/pkg/simtimer"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "demo":
		runDemo()
	case "serve":
		if len(args) < 1 {
			fmt.Println("Usage: bootsim serve <device> [baud]")
			os.Exit(1)
		}
		baud := 115200
		if len(args) >= 2 {
			b, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Printf("Invalid baud rate: %s\n", args[1])
				os.Exit(1)
			}
			baud = b
		}
		serve(args[0], baud)
	case "version":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bootloader Bench CLI")
	fmt.Println()
	fmt.Println("Usage: bootsim <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  demo                  Run a full simulated update session in-process")
	fmt.Println("  serve <device> [baud] Run the bootloader core over a real serial port")
	fmt.Println("  version               Print version information")
	fmt.Println("  help                  Show this help")
}

func printVersion() {
	fmt.Printf("bootsim version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Protocol version: %#02x\n", bootctx.Default().Version)
}

// benchConfig is the memory map the simulated target exposes: 64 KiB of
// flash with the bootloader in the first 8 KiB.
func benchConfig() bootctx.Config {
	cfg := bootctx.Default()
	cfg.Flash = region.Range{Start: 0x08000000, End: 0x0800FFFF}
	cfg.Boot = region.Range{Start: 0x08000000, End: 0x08001FFF}
	cfg.App = region.Range{Start: 0x08002000, End: 0x0800FFFF}
	return cfg
}

// serve runs the bootloader core as the device end of a real serial link,
// against simulated flash, so a host flashing tool can be exercised end to
// end on a bench.
func serve(device string, baud int) {
	if _, err := os.Stat(device); err != nil {
		fmt.Printf("Device %s not present: %v\n", device, err)
		os.Exit(1)
	}

	cfg := benchConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Bad configuration: %v\n", err)
		os.Exit(1)
	}

	port, err := serial.Open(device, baud)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", device, err)
		os.Exit(1)
	}
	defer port.Close()

	ctx := bootctx.New(cfg)
	adapter := link.New(port,
		time.Duration(cfg.SendTimeoutMs)*time.Millisecond,
		time.Duration(cfg.ReceiveTimeoutMs)*time.Millisecond,
		cfg.SyncByte)
	img := simflash.New(cfg.Flash.Start, cfg.Flash.End-cfg.Flash.Start+1)
	platform := simhw.NewPlatform()
	handlers := handler.New(ctx, adapter, img)
	machine := bootloader.New(ctx, simhw.New(), adapter, handlers, simtimer.New(), img, platform, cfg.App.Start)

	fmt.Printf("Serving bootloader on %s at %d baud (flash %#x..%#x)\n",
		device, baud, cfg.Flash.Start, cfg.Flash.End)
	if err := machine.Run(context.Background()); err != nil {
		fmt.Printf("Machine stopped: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Jumped to application: vector table %#x, sp %#x, reset handler %#x\n",
		platform.VectorTableOffset, platform.StackPointer, platform.ResetHandler)
}

// runDemo drives a complete update session against an in-process device:
// sync, erase, stream an image, read it back, and jump.
func runDemo() {
	cfg := benchConfig()
	cfg.CommandTimeoutMs = 10_000

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

	done := make(chan error, 1)
	go func() {
		done <- machine.Run(context.Background())
	}()

	h := demoHost{lb: lb, timeout: 2 * time.Second}

	fmt.Println("[host] syncing")
	h.must(h.sync(cfg.SyncByte))

	fmt.Println("[host] querying version")
	h.must(h.command(frame.Version{}))
	h.mustAck("VERSION")
	resp := h.mustFrame()
	fmt.Printf("[host] device reports version %#02x\n", resp[frame.HeaderSize])

	image := make([]byte, 2*bootctx.DataBlockSize+512)
	binary.LittleEndian.PutUint32(image[0:4], 0x20005000)
	binary.LittleEndian.PutUint32(image[4:8], 0x08002041)
	for i := 8; i < len(image); i++ {
		image[i] = byte(i)
	}

	pages := (uint32(len(image)) + cfg.PageSize - 1) / cfg.PageSize
	fmt.Printf("[host] erasing %d pages at %#x\n", pages, cfg.App.Start)
	h.must(h.command(frame.FlashErase{PageAddress: cfg.App.Start, PageCount: pages}))
	h.mustAck("FLASH_ERASE precheck")
	h.mustAck("FLASH_ERASE completion")

	fmt.Printf("[host] writing %d-byte image\n", len(image))
	h.must(h.command(frame.MemWrite{StartAddress: cfg.App.Start}))
	h.mustAck("MEM_WRITE")
	for off := 0; off < len(image); off += bootctx.DataBlockSize {
		chunk := image[off:]
		if len(chunk) > bootctx.DataBlockSize {
			chunk = chunk[:bootctx.DataBlockSize]
		}
		end := off+len(chunk) >= len(image)
		h.must(h.dataPacket(chunk, end))
		h.mustAck("DATA_PACKET")
	}

	fmt.Println("[host] reading image back")
	h.must(h.command(frame.MemRead{StartAddress: cfg.App.Start, Length: uint32(len(image))}))
	h.mustAck("MEM_READ")
	back := h.mustReadStream()
	if !bytes.Equal(back, image) {
		fmt.Println("[host] ERROR: read-back differs from written image")
		os.Exit(1)
	}
	fmt.Println("[host] read-back matches")

	fmt.Println("[host] jumping to application")
	h.must(h.command(frame.JumpToApp{Key: cfg.JumpToAppKey}))
	h.mustAck("JUMP_TO_APP")

	if err := <-done; err != nil {
		fmt.Printf("Machine stopped: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[device] jumped: vector table %#x, sp %#x, reset handler %#x\n",
		platform.VectorTableOffset, platform.StackPointer, platform.ResetHandler)
}

// demoHost is the minimal host tool the demo needs.
type demoHost struct {
	lb      *simlink.Loopback
	timeout time.Duration
}

func (h demoHost) must(err error) {
	if err != nil {
		fmt.Printf("[host] ERROR: %v\n", err)
		os.Exit(1)
	}
}

func (h demoHost) sync(syncByte byte) error {
	if err := h.lb.HostSend([]byte{syncByte}, h.timeout); err != nil {
		return err
	}
	echo, err := h.lb.HostReceive(1, h.timeout)
	if err != nil {
		return err
	}
	if echo[0] != syncByte {
		return fmt.Errorf("sync echo = %#02x", echo[0])
	}
	return nil
}

func (h demoHost) command(cmd frame.Command) error {
	return h.lb.HostSend(frame.MarshalSimple(cmd, crc.OfFrame), h.timeout)
}

func (h demoHost) dataPacket(data []byte, end bool) error {
	var dp frame.DataPacket
	dp.DataLen = uint32(len(data))
	dp.EndFlag = end
	copy(dp.DataBlock[:], data)
	return h.lb.HostSend(frame.MarshalDataPacket(dp, crc.OfFrame), h.timeout)
}

func (h demoHost) mustAck(what string) {
	buf, err := h.lb.HostReceive(frame.AckSize, h.timeout)
	h.must(err)
	ack, _ := frame.ParseAck(buf)
	if !ack.Success() {
		fmt.Printf("[host] ERROR: %s rejected, nack=%#02x\n", what, ack.NACKField)
		os.Exit(1)
	}
}

func (h demoHost) mustFrame() []byte {
	hdrBytes, err := h.lb.HostReceive(frame.HeaderSize, h.timeout)
	h.must(err)
	hdr, err := frame.ParseHeader(hdrBytes)
	h.must(err)
	body, err := h.lb.HostReceive(int(hdr.PayloadSize)-frame.HeaderSize, h.timeout)
	h.must(err)
	return append(hdrBytes, body...)
}

func (h demoHost) mustReadStream() []byte {
	var out []byte
	for {
		raw := h.mustFrame()
		cmd, err := frame.Decode(raw)
		h.must(err)
		dp, ok := cmd.(frame.DataPacket)
		if !ok {
			fmt.Printf("[host] ERROR: expected DATA_PACKET, got %s\n", cmd.ID())
			os.Exit(1)
		}
		out = append(out, dp.DataBlock[:dp.DataLen]...)
		h.must(h.lb.HostSend(frame.Ack{CmdIDEchoed: frame.CmdAck, AckValue: 1}.Marshal(), h.timeout))
		if dp.EndFlag {
			return out
		}
	}
}
