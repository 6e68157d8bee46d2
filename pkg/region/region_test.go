package region

import (
	"errors"
	"testing"

	"github.com/nullwick/flashboot/pkg/bootstatus"
)

func TestContains(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x1FFF}
	tests := []struct {
		addr uint32
		want bool
	}{
		{0x0FFF, false},
		{0x1000, true},
		{0x1800, true},
		{0x1FFF, true},
		{0x2000, false},
	}
	for _, tt := range tests {
		if got := Contains(r, tt.addr); got != tt.want {
			t.Errorf("Contains(%x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestContainsBlockMatchesDefinition(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x1FFF}
	tests := []struct {
		base, length uint32
		want         bool
	}{
		{0x1000, 0x1000, true},  // exactly fills the range
		{0x1000, 0x1001, false}, // one byte past the end
		{0x0FFF, 0x10, false},   // starts before the range
		{0x1800, 0x100, true},
		{0x1FFF, 1, true}, // single byte at the last address
		{0x1FFF, 2, false},
		{0x1000, 0, false}, // zero length is never "inside"
	}
	for _, tt := range tests {
		got := ContainsBlock(r, tt.base, tt.length)
		if got != tt.want {
			t.Errorf("ContainsBlock(base=%x, len=%x) = %v, want %v", tt.base, tt.length, got, tt.want)
		}
		// ContainsBlock must agree with the
		// direct inequality whenever length > 0.
		if tt.length > 0 {
			want := uint64(r.Start) <= uint64(tt.base) && uint64(tt.base)+uint64(tt.length)-1 <= uint64(r.End)
			if got != want {
				t.Errorf("ContainsBlock disagrees with direct definition for base=%x len=%x", tt.base, tt.length)
			}
		}
	}
}

func TestContainsBlockNoOverflow(t *testing.T) {
	r := Range{Start: 0, End: 0xFFFFFFFF}
	if !ContainsBlock(r, 0xFFFFFFF0, 0x10) {
		t.Error("expected a block ending exactly at 0xFFFFFFFF to be contained")
	}
	if ContainsBlock(r, 0xFFFFFFF0, 0x11) {
		t.Error("expected a block that would wrap past 0xFFFFFFFF to be rejected")
	}
}

func TestOverlaps(t *testing.T) {
	bl := Range{Start: 0x08000000, End: 0x08001FFF}
	tests := []struct {
		base, length uint32
		want         bool
	}{
		{0x08000400, 1, true},
		{0x07FFFF00, 0x200, true},  // straddles the start
		{0x08001F00, 0x200, true},  // straddles the end
		{0x08002000, 0x100, false}, // entirely after
		{0x07FF0000, 0x100, false}, // entirely before
	}
	for _, tt := range tests {
		if got := Overlaps(bl, tt.base, tt.length); got != tt.want {
			t.Errorf("Overlaps(base=%x, len=%x) = %v, want %v", tt.base, tt.length, got, tt.want)
		}
	}
}

func TestEraseWriteAllowedRejectsBootloaderOverlap(t *testing.T) {
	bl := Range{Start: 0x08000000, End: 0x08001FFF}
	flash := Range{Start: 0x08000000, End: 0x08007FFF}
	err := EraseWriteAllowed(bl, flash, 0x08000400, 1024)
	if !errors.Is(err, bootstatus.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestEraseWriteAllowedRejectsOutsideFlash(t *testing.T) {
	bl := Range{Start: 0x08000000, End: 0x08001FFF}
	flash := Range{Start: 0x08000000, End: 0x08007FFF}
	err := EraseWriteAllowed(bl, flash, 0x08007C00, 8*1024)
	if !errors.Is(err, bootstatus.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestEraseWriteAllowedAcceptsValidRange(t *testing.T) {
	bl := Range{Start: 0x08000000, End: 0x08001FFF}
	flash := Range{Start: 0x08000000, End: 0x08007FFF}
	if err := EraseWriteAllowed(bl, flash, 0x08002000, 1024); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestReadAllowedRejectsBootloaderOverlap(t *testing.T) {
	bl := Range{Start: 0x08000000, End: 0x08001FFF}
	flash := Range{Start: 0x08000000, End: 0x08007FFF}
	err := ReadAllowed(bl, flash, 0x08001000, 4096)
	if !errors.Is(err, bootstatus.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
