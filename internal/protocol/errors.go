package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFrame  = errors.New("protocol: unknown frame")
	ErrTruncated     = errors.New("protocol: truncated data")
	ErrFieldTooLarge = errors.New("protocol: field too large")
	ErrIDTooLong     = errors.New("protocol: id too long")
	ErrListTooLong   = errors.New("protocol: id list too long")
	ErrInvalidField  = errors.New("protocol: invalid field")
)

// UnknownFrameError reports a header with no registered layout. Opcode
// is set when the header was a control frame with an unknown opcode.
type UnknownFrameError struct {
	Header Header
	Opcode *Opcode
}

func (e *UnknownFrameError) Error() string {
	if e.Opcode != nil {
		return fmt.Sprintf("protocol: unknown control opcode 0x%02x", uint8(*e.Opcode))
	}

	return fmt.Sprintf("protocol: unknown frame %s", e.Header)
}

func (e *UnknownFrameError) Unwrap() error {
	return ErrUnknownFrame
}
