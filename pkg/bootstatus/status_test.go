package bootstatus

import (
	"errors"
	"testing"
)

func TestAllStatusCodesHaveMessages(t *testing.T) {
	statuses := []Status{
		StatusOK, StatusInvalidCmd, StatusInvalidKey, StatusInvalidAddress,
		StatusInvalidLength, StatusInvalidData, StatusInvalidCRC,
		StatusOperationFailure, StatusTransport, StatusProtocol,
	}
	for _, s := range statuses {
		msg := s.String()
		if msg == "" {
			t.Errorf("status %d has empty message", s)
		}
		if len(msg) >= 8 && msg[:8] == "unknown " {
			t.Errorf("status %d has no defined message: %s", s, msg)
		}
	}
}

func TestStatusStringUnknown(t *testing.T) {
	if got := Status(9999).String(); got != "unknown status (9999)" {
		t.Errorf("expected unknown status message, got %q", got)
	}
}

func TestNACKBitMapping(t *testing.T) {
	tests := []struct {
		status Status
		want   uint8
	}{
		{StatusOK, 0x00},
		{StatusInvalidCmd, 0x01},
		{StatusInvalidKey, 0x02},
		{StatusInvalidAddress, 0x04},
		{StatusInvalidLength, 0x08},
		{StatusInvalidData, 0x10},
		{StatusInvalidCRC, 0x20},
		{StatusOperationFailure, 0x40},
		{StatusTransport, 0x40},
		{StatusProtocol, 0x00},
	}
	for _, tt := range tests {
		if got := tt.status.NACKBit(); got != tt.want {
			t.Errorf("%s.NACKBit() = 0x%02x, want 0x%02x", tt.status, got, tt.want)
		}
	}
}

func TestErrorImplementsError(t *testing.T) {
	var err error = New(StatusInvalidCRC, "verifyCRC")
	if err.Error() != "verifyCRC: invalid crc" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("short read")
	err := Wrap(StatusTransport, "receive header", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() != "receive header: transport error: short read" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestErrorIsMatchesByStatus(t *testing.T) {
	a := New(StatusInvalidCRC, "packet 1")
	b := New(StatusInvalidCRC, "packet 2")
	if !errors.Is(a, b) {
		t.Error("expected errors with the same status to match via Is")
	}
	if errors.Is(a, ErrInvalidAddress) {
		t.Error("expected errors with different statuses not to match")
	}
}

func TestErrorIsMatchesSentinel(t *testing.T) {
	err := Wrap(StatusInvalidCRC, "verifyCRC", errors.New("mismatch"))
	if !errors.Is(err, ErrInvalidCRC) {
		t.Error("expected errors.Is to match the ErrInvalidCRC sentinel")
	}
}

func TestStatusOfUnclassifiedError(t *testing.T) {
	if got := StatusOf(errors.New("boom")); got != StatusOperationFailure {
		t.Errorf("expected StatusOperationFailure for unclassified error, got %s", got)
	}
}

func TestStatusOfClassifiedError(t *testing.T) {
	err := New(StatusInvalidLength, "decode")
	if got := StatusOf(err); got != StatusInvalidLength {
		t.Errorf("expected StatusInvalidLength, got %s", got)
	}
}
