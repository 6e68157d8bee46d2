package testutil

import (
	"os"
	"testing"
)

// SkipIfNoSerial skips the test unless a real serial device is available,
// returning its path. Set FLASHBOOT_SERIAL_PORT to point at a specific
// port; otherwise the usual USB-serial device nodes are probed.
func SkipIfNoSerial(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("FLASHBOOT_SERIAL_PORT"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		t.Skipf("FLASHBOOT_SERIAL_PORT=%s not present", path)
	}

	ports := []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyACM1"}
	for _, path := range ports {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Skip("No serial port available")
	return ""
}
