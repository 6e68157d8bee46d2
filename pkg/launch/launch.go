// Package launch implements the image validator and launcher: the
// last step before control leaves the bootloader core for good.
package launch

import (
	"github.com/nullwick/flashboot/pkg/bootstatus"
)

// erasedWord and zeroWord at an application's entry point mean "no image here":
// erased flash reads 0xFFFFFFFF, and a zeroed region reads 0x00000000.
const (
	erasedWord uint32 = 0xFFFFFFFF
	zeroWord   uint32 = 0x00000000
)

// WordReader reads a little-endian 32-bit word from flash, the one read
// this package needs from the Flash collaborator.
type WordReader interface {
	ReadWord(address uint32) (uint32, error)
}

// Platform is the architecture escape hatch: the operations only the real
// hardware (or, in tests, a fake) can perform to hand control to the
// application.
type Platform interface {
	// SetVectorTableOffset points the vector table register at appStart.
	SetVectorTableOffset(appStart uint32) error
	// SetMainStackPointer loads the initial stack pointer value.
	SetMainStackPointer(sp uint32) error
	// CallResetHandler transfers control to the application's reset
	// handler and never returns.
	CallResetHandler(resetHandler uint32)
}

// HasValidImage reports whether the word at appStart looks like a real
// vector table entry rather than erased or zeroed flash.
func HasValidImage(flash WordReader, appStart uint32) (bool, error) {
	word, err := flash.ReadWord(appStart)
	if err != nil {
		return false, bootstatus.Wrap(bootstatus.StatusOperationFailure, "read app_start", err)
	}
	return word != erasedWord && word != zeroWord, nil
}

// Launch validates the image at appStart and, if valid, sets up the vector
// table and stack pointer and calls the reset handler, never returning on
// success. On an invalid image it returns an error instead of jumping.
//
// appStart+0 holds the initial stack pointer; appStart+4 holds the reset
// handler address, the Cortex-M vector table layout this design targets.
func Launch(flash WordReader, platform Platform, appStart uint32) error {
	valid, err := HasValidImage(flash, appStart)
	if err != nil {
		return err
	}
	if !valid {
		return bootstatus.New(bootstatus.StatusOperationFailure, "no valid image at app_start")
	}

	sp, err := flash.ReadWord(appStart)
	if err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "read initial stack pointer", err)
	}
	resetHandler, err := flash.ReadWord(appStart + 4)
	if err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "read reset handler", err)
	}

	if err := platform.SetVectorTableOffset(appStart); err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "set vector table offset", err)
	}
	if err := platform.SetMainStackPointer(sp); err != nil {
		return bootstatus.Wrap(bootstatus.StatusOperationFailure, "set main stack pointer", err)
	}
	platform.CallResetHandler(resetHandler)
	return nil
}
