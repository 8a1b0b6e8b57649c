package protocol

import (
	"bytes"
	"fmt"
)

const (
	FrameLen  = 49
	StartByte = 0xDD
	EndByte   = 0xBB

	startLen       = 3
	cmdOffset      = 3
	payloadOffset  = 5
	checksumOffset = FrameLen - 2
	endOffset      = FrameLen - 1

	// MaxPayloadLen room left between the command code and the checksum.
	MaxPayloadLen = checksumOffset - payloadOffset
)

var startMarker = []byte{StartByte, StartByte, StartByte}

// Command two-byte command code, big endian on the wire.
type Command uint16

const (
	CmdHeartbeat Command = 0x0100
	CmdCard      Command = 0x0101
	CmdQuery     Command = 0x0102
)

func (c Command) String() string {
	switch c {
	case CmdHeartbeat:
		return "heartbeat"
	case CmdCard:
		return "card"
	case CmdQuery:
		return "query"
	}
	return fmt.Sprintf("cmd-%04x", uint16(c))
}

// PayloadLen significant payload bytes for c. Commands the codec does not
// know carry the whole payload area.
func PayloadLen(c Command) int {
	switch c {
	case CmdCard:
		return 10
	case CmdQuery:
		return 4
	case CmdHeartbeat:
		return 6
	}
	return MaxPayloadLen
}

// Frame one decoded command frame; Payload excludes the zero padding.
type Frame struct {
	Command Command
	Payload []byte
}

// Encode renders f as a 49-byte datagram.
func Encode(f Frame) ([]byte, error) {
	if want := PayloadLen(f.Command); len(f.Payload) != want {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrPayloadLength, f.Command, want, len(f.Payload))
	}

	buf := make([]byte, FrameLen)
	copy(buf, startMarker)
	buf[cmdOffset] = byte(f.Command >> 8)
	buf[cmdOffset+1] = byte(f.Command)
	copy(buf[payloadOffset:], f.Payload)
	buf[checksumOffset] = Checksum(buf[:checksumOffset])
	buf[endOffset] = EndByte
	return buf, nil
}

// MustEncode is Encode for frames built by this package's constructors.
func MustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses and validates a 49-byte datagram.
func Decode(b []byte) (Frame, error) {
	if len(b) != FrameLen {
		return Frame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(b))
	}
	if !bytes.Equal(b[:startLen], startMarker) {
		return Frame{}, fmt.Errorf("%w: bad start marker % x", ErrMalformedFrame, b[:startLen])
	}
	if b[endOffset] != EndByte {
		return Frame{}, fmt.Errorf("%w: bad end marker %02x", ErrMalformedFrame, b[endOffset])
	}
	if got, want := b[checksumOffset], Checksum(b[:checksumOffset]); got != want {
		return Frame{}, fmt.Errorf("%w: got %02x want %02x", ErrChecksum, got, want)
	}

	cmd := Command(uint16(b[cmdOffset])<<8 | uint16(b[cmdOffset+1]))
	payload := make([]byte, PayloadLen(cmd))
	copy(payload, b[payloadOffset:])
	return Frame{Command: cmd, Payload: payload}, nil
}
