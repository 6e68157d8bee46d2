// Package bootctx holds the bootloader's process-wide configuration and
// runtime singleton: the build-provided knobs and the mutable Context the state
// machine and handlers share.
package bootctx

import (
	"fmt"

	"github.com/nullwick/flashboot/pkg/bootstatus"
	"github.com/nullwick/flashboot/pkg/region"
)

// Protocol-fixed keys and sizes.
const (
	EnterCmdModeKey uint32 = 0x09B21FFC
	JumpToAppKey    uint32 = 0x4032AFE5

	// DataBlockSize is the fixed payload carried by a single DATA_PACKET.
	DataBlockSize = 1024

	// HeaderSize is the fixed 9-byte command header.
	HeaderSize = 9

	// StreamingMetadataSize is the 9 bytes of DATA_PACKET metadata
	// (data_len, next_len, end_flag) carried alongside the data block.
	StreamingMetadataSize = 9
)

// Config is the build-provided configuration table.
type Config struct {
	MaxBufferSize uint32
	PageSize      uint32

	Flash region.Range
	App   region.Range
	Boot  region.Range

	EnterCmdModeKey uint32
	JumpToAppKey    uint32
	MaxRetries      int

	CommandTimeoutMs uint32
	ReceiveTimeoutMs uint32
	SendTimeoutMs    uint32

	Version  uint8
	SyncByte byte
}

// Default returns a Config with the protocol-fixed keys, the conventional
// 1024-byte flash page, and the stock timeouts, leaving the
// address ranges zeroed for the caller (linker-provided in firmware) to
// fill in.
func Default() Config {
	return Config{
		MaxBufferSize:    HeaderSize + DataBlockSize + StreamingMetadataSize,
		PageSize:         DataBlockSize,
		EnterCmdModeKey:  EnterCmdModeKey,
		JumpToAppKey:     JumpToAppKey,
		MaxRetries:       5,
		CommandTimeoutMs: 1_000_000,
		ReceiveTimeoutMs: 1_000,
		SendTimeoutMs:    1_000,
		Version:          0x01,
		SyncByte:         0xA5,
	}
}

// Validate rejects a configuration that could never safely serve the
// protocol: a buffer too small to hold one DATA_PACKET, or address ranges
// that are inverted or place the bootloader region outside flash.
func (c Config) Validate() error {
	minBuffer := uint32(HeaderSize + DataBlockSize + StreamingMetadataSize)
	if c.MaxBufferSize < minBuffer {
		return bootstatus.New(bootstatus.StatusProtocol,
			fmt.Sprintf("MaxBufferSize %d is smaller than the minimum %d needed for one DATA_PACKET", c.MaxBufferSize, minBuffer))
	}
	if c.Flash.Start > c.Flash.End {
		return bootstatus.New(bootstatus.StatusProtocol, "flash range is inverted")
	}
	if c.Boot.Start > c.Boot.End {
		return bootstatus.New(bootstatus.StatusProtocol, "bootloader range is inverted")
	}
	if c.App.Start > c.App.End {
		return bootstatus.New(bootstatus.StatusProtocol, "application range is inverted")
	}
	if !region.ContainsBlock(c.Flash, c.Boot.Start, c.Boot.End-c.Boot.Start+1) {
		return bootstatus.New(bootstatus.StatusProtocol, "bootloader range is not contained in flash")
	}
	if c.PageSize == 0 {
		return bootstatus.New(bootstatus.StatusProtocol, "PageSize must be non-zero")
	}
	return nil
}
