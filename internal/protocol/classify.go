package protocol

import (
	"bytes"
	"fmt"
)

const (
	TelemetryMarker       = 0xF1
	TelemetryMarkerOffset = 3

	// PollLen size of the gateway's keep-alive poll.
	PollLen = 7

	statusStride = 4
)

// Kind what an inbound datagram is, judged by shape alone.
type Kind int

const (
	KindOther Kind = iota
	KindTelemetry
	KindPoll
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindPoll:
		return "poll"
	case KindCommand:
		return "command"
	}
	return "other"
}

// Classify sorts an inbound datagram. A full command frame has 0x01 at the
// marker offset, so it can never be taken for telemetry.
func Classify(b []byte) Kind {
	switch {
	case len(b) > TelemetryMarkerOffset && b[TelemetryMarkerOffset] == TelemetryMarker:
		return KindTelemetry
	case len(b) == FrameLen && bytes.HasPrefix(b, startMarker):
		return KindCommand
	case len(b) == PollLen:
		return KindPoll
	}
	return KindOther
}

// Telemetry a validated status telemetry datagram.
type Telemetry []byte

// ParseTelemetry checks the marker.
func ParseTelemetry(b []byte) (Telemetry, error) {
	if len(b) <= TelemetryMarkerOffset {
		return nil, fmt.Errorf("%w: telemetry of %d bytes", ErrMalformedFrame, len(b))
	}
	if b[TelemetryMarkerOffset] != TelemetryMarker {
		return nil, fmt.Errorf("%w: telemetry marker %02x", ErrMalformedFrame, b[TelemetryMarkerOffset])
	}
	return Telemetry(b), nil
}

// StatusByte returns the status byte of room, false when the datagram is too
// short to carry it.
func (t Telemetry) StatusByte(room int) (byte, bool) {
	idx := room * statusStride
	if room < 0 || idx >= len(t) {
		return 0, false
	}
	return t[idx], true
}
