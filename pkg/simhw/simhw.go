// Package simhw provides no-op realizations of the bootloader's hardware
// collaborators for host tests and cmd/bootsim, standing in for the
// LED/button/comm peripherals and the vector-table escape the real target
// has.
package simhw

import "time"

// Hardware is a host-side Hardware: init calls are no-ops, LED toggles and
// delays are recorded instead of performed, and Pressed controls what
// ButtonPressed reports.
type Hardware struct {
	Pressed    bool
	LEDOn      bool
	LEDToggles int
	TotalDelay time.Duration
}

// New creates a Hardware with the boot button reporting unpressed.
func New() *Hardware {
	return &Hardware{}
}

func (h *Hardware) InitLEDs() error { return nil }
func (h *Hardware) InitButton() error { return nil }
func (h *Hardware) InitComm() error { return nil }

func (h *Hardware) SetLED(on bool) error {
	if on != h.LEDOn {
		h.LEDToggles++
	}
	h.LEDOn = on
	return nil
}

func (h *Hardware) ButtonPressed() (bool, error) {
	return h.Pressed, nil
}

// Delay records the requested pause instead of sleeping, so init-time LED
// choreography costs a test nothing.
func (h *Hardware) Delay(d time.Duration) {
	h.TotalDelay += d
}
