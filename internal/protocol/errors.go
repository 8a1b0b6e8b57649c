package protocol

import "errors"

var (
	ErrMalformedFrame    = errors.New("protocol: malformed frame")
	ErrChecksum          = errors.New("protocol: checksum mismatch")
	ErrPayloadLength     = errors.New("protocol: payload length does not match command")
	ErrInvalidRoom       = errors.New("protocol: room number out of range")
	ErrInvalidSlot       = errors.New("protocol: slot out of range")
	ErrInvalidCard       = errors.New("protocol: invalid card number")
	ErrUnexpectedCommand = errors.New("protocol: unexpected command")
)
