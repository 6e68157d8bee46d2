// Package bootstatus defines the bootloader's internal error taxonomy and
// its mapping onto the wire NACK bitfield.
package bootstatus

import (
	"errors"
	"fmt"
)

// Status is an internal error classification. Each Status other than
// StatusOK, StatusTransport and StatusProtocol corresponds to exactly one
// NACK bit.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidCmd
	StatusInvalidKey
	StatusInvalidAddress
	StatusInvalidLength
	StatusInvalidData
	StatusInvalidCRC
	StatusOperationFailure
	// StatusTransport marks a Physical I/O failure. It has no NACK bit of
	// its own; NACKBit reports it as OperationFailure (0x40).
	StatusTransport
	// StatusProtocol marks a shape violation with no NACK bit of its own:
	// a header shorter than 9 bytes or an unusable Config.
	StatusProtocol
)

var statusMessages = map[Status]string{
	StatusOK:               "success",
	StatusInvalidCmd:       "invalid command",
	StatusInvalidKey:       "invalid key",
	StatusInvalidAddress:   "invalid address",
	StatusInvalidLength:    "invalid length",
	StatusInvalidData:      "invalid data",
	StatusInvalidCRC:       "invalid crc",
	StatusOperationFailure: "operation failure",
	StatusTransport:        "transport error",
	StatusProtocol:         "protocol error",
}

// String returns the human-readable status message.
func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// NACKBit returns the wire NACK bit for this status. StatusTransport maps to
// the OperationFailure bit; statuses with no wire representation
// (StatusOK, StatusProtocol) return 0 (Success).
func (s Status) NACKBit() uint8 {
	switch s {
	case StatusInvalidCmd:
		return 0x01
	case StatusInvalidKey:
		return 0x02
	case StatusInvalidAddress:
		return 0x04
	case StatusInvalidLength:
		return 0x08
	case StatusInvalidData:
		return 0x10
	case StatusInvalidCRC:
		return 0x20
	case StatusOperationFailure, StatusTransport:
		return 0x40
	default:
		return 0x00
	}
}

// Error wraps a Status with context and an optional underlying cause.
type Error struct {
	Status  Status
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Status.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Status.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Status.String(), e.Cause)
	}
	return e.Status.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Status.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Status == other.Status
	}
	return false
}

// New creates an Error with the given status and context.
func New(status Status, context string) *Error {
	return &Error{Status: status, Context: context}
}

// Wrap creates an Error with the given status, context, and underlying cause.
func Wrap(status Status, context string, cause error) *Error {
	return &Error{Status: status, Context: context, Cause: cause}
}

// Sentinels for errors.Is comparisons against a bare Status, e.g.
// errors.Is(err, bootstatus.ErrInvalidCRC).
var (
	ErrInvalidCmd       = &Error{Status: StatusInvalidCmd}
	ErrInvalidKey       = &Error{Status: StatusInvalidKey}
	ErrInvalidAddress   = &Error{Status: StatusInvalidAddress}
	ErrInvalidLength    = &Error{Status: StatusInvalidLength}
	ErrInvalidData      = &Error{Status: StatusInvalidData}
	ErrInvalidCRC       = &Error{Status: StatusInvalidCRC}
	ErrOperationFailure = &Error{Status: StatusOperationFailure}
	ErrTransport        = &Error{Status: StatusTransport}
	ErrProtocol         = &Error{Status: StatusProtocol}
)

// StatusOf extracts the Status from err if it (or something it wraps) is a
// *Error; otherwise it returns StatusOperationFailure as a conservative
// default for an unclassified error reaching a handler boundary.
func StatusOf(err error) Status {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusOperationFailure
}
