package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"wisefido-doorlock/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// xorChecksum is the arithmetic the string pipeline boils down to.
func xorChecksum(data []byte) byte {
	var acc byte
	for _, b := range data[3:] {
		acc ^= b
	}
	return acc & 0x7f
}

func TestChecksum_MatchesMaskedXORForEveryAccumulator(t *testing.T) {
	for v := 0; v < 256; v++ {
		data := []byte{StartByte, StartByte, StartByte, byte(v)}
		assert.Equal(t, xorChecksum(data), Checksum(data), "accumulator %d", v)
	}
}

func TestChecksum_SmallAccumulatorKeepsWholeByte(t *testing.T) {
	// 0x0a renders as the single hex digit "a"; it must still come back as 0x0a
	data := []byte{StartByte, StartByte, StartByte, 0x0a}
	assert.Equal(t, byte(0x0a), Checksum(data))
}

func TestProgramCard_Room5KnownFrame(t *testing.T) {
	f, err := ProgramCard(5, 0, "12345")
	require.NoError(t, err)

	b, err := Encode(f)
	require.NoError(t, err)

	want := mustHex(t, "dddddd010105650000013132333435"+
		"0000000000000000000000000000000000000000000000000000000000000000"+"50bb")
	assert.Equal(t, want, b)
	assert.Len(t, b, FrameLen)

	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, f, back)

	again, err := Encode(back)
	require.NoError(t, err)
	assert.Equal(t, b[checksumOffset], again[checksumOffset])
}

func TestRevokeCard_KnownFrame(t *testing.T) {
	f, err := RevokeCard(5, 0)
	require.NoError(t, err)

	b := MustEncode(f)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff}, b[10:15])
	assert.Equal(t, byte(0x1e), b[checksumOffset])

	cmd, err := ParseCardCommand(f)
	require.NoError(t, err)
	assert.True(t, cmd.Revoke)
	assert.Equal(t, 5, cmd.Room)
	assert.Equal(t, models.Slot(0), cmd.Slot)
	assert.Empty(t, cmd.CardNumber)
}

func TestQueryCard_KnownFrame(t *testing.T) {
	f, err := QueryCard(12, 9)
	require.NoError(t, err)
	b := MustEncode(f)
	assert.Equal(t, mustHex(t, "dddddd01021202000a"), b[:9])
	assert.Equal(t, byte(0x19), b[checksumOffset])
}

func TestRoundTrip_AllCommands(t *testing.T) {
	var frames []Frame
	for room := 0; room <= models.MaxRoomNumber; room += 7 {
		for slot := models.MinSlot; slot <= models.MaxSlot; slot++ {
			p, err := ProgramCard(room, slot, "90817")
			require.NoError(t, err)
			r, err := RevokeCard(room, slot)
			require.NoError(t, err)
			q, err := QueryCard(room, slot)
			require.NoError(t, err)
			frames = append(frames, p, r, q)
		}
	}
	frames = append(frames,
		Heartbeat(time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)),
		Frame{Command: 0x0200, Payload: bytes.Repeat([]byte{0x5a}, MaxPayloadLen)},
	)

	for _, f := range frames {
		b, err := Encode(f)
		require.NoError(t, err)
		back, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, f, back)
		assert.Equal(t, Checksum(b[:checksumOffset]), b[checksumOffset])
	}
}

func TestParseCardCommand_ProgramFields(t *testing.T) {
	f, err := ProgramCard(47, 10, "00419")
	require.NoError(t, err)
	assert.Equal(t, byte(0x47), f.Payload[0])
	assert.Equal(t, byte(11), f.Payload[4], "location code is slot+1")
	assert.Equal(t, []byte{0x30, 0x30, 0x34, 0x31, 0x39}, f.Payload[5:])

	cmd, err := ParseCardCommand(f)
	require.NoError(t, err)
	assert.Equal(t, CardCommand{Room: 47, Slot: 10, CardNumber: "00419"}, cmd)
}

func TestBuilders_RejectBadInput(t *testing.T) {
	_, err := ProgramCard(100, 0, "12345")
	assert.ErrorIs(t, err, ErrInvalidRoom)
	_, err = ProgramCard(-1, 0, "12345")
	assert.ErrorIs(t, err, ErrInvalidRoom)
	_, err = ProgramCard(5, 12, "12345")
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = ProgramCard(5, 0, "1234")
	assert.ErrorIs(t, err, ErrInvalidCard)
	_, err = ProgramCard(5, 0, "12a45")
	assert.ErrorIs(t, err, ErrInvalidCard)
	_, err = RevokeCard(5, -1)
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestEncode_RejectsWrongPayloadLength(t *testing.T) {
	_, err := Encode(Frame{Command: CmdCard, Payload: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, ErrPayloadLength)
	_, err = Encode(Frame{Command: 0x0999, Payload: make([]byte, MaxPayloadLen+1)})
	assert.ErrorIs(t, err, ErrPayloadLength)
}

func TestDecode_Errors(t *testing.T) {
	good := MustEncode(Heartbeat(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	cases := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:FrameLen-1] }, ErrMalformedFrame},
		{"long", func(b []byte) []byte { return append(b, 0) }, ErrMalformedFrame},
		{"start", func(b []byte) []byte { b[1] = 0x00; return b }, ErrMalformedFrame},
		{"end", func(b []byte) []byte { b[endOffset] = 0xBC; return b }, ErrMalformedFrame},
		{"checksum", func(b []byte) []byte { b[checksumOffset] ^= 0x01; return b }, ErrChecksum},
		{"payload", func(b []byte) []byte { b[payloadOffset] ^= 0x40; return b }, ErrChecksum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := append([]byte(nil), good...)
			_, err := Decode(tc.mutate(b))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestHeartbeat_Payload(t *testing.T) {
	f := Heartbeat(time.Date(2018, 3, 14, 15, 9, 26, 0, time.UTC))
	assert.Equal(t, CmdHeartbeat, f.Command)
	assert.Equal(t, []byte{14, 3, 18, 15, 9, 26}, f.Payload)
}

func TestRoomCodec(t *testing.T) {
	for room := 0; room <= models.MaxRoomNumber; room++ {
		b, err := EncodeRoom(room)
		require.NoError(t, err)
		back, err := DecodeRoom(b)
		require.NoError(t, err)
		assert.Equal(t, room, back)
	}
	_, err := DecodeRoom(0x1a)
	assert.ErrorIs(t, err, ErrInvalidRoom)
}

func TestIsAck(t *testing.T) {
	assert.True(t, IsAck([]byte{1}))
	assert.True(t, IsAck([]byte{1, 0, 0, 0, 0, 0, 0}))
	assert.False(t, IsAck([]byte{0}))
	assert.False(t, IsAck([]byte{2, 1}))
	assert.False(t, IsAck(nil))
}

func TestClassify(t *testing.T) {
	telemetry := make([]byte, 64)
	telemetry[TelemetryMarkerOffset] = TelemetryMarker

	program, err := ProgramCard(5, 0, "12345")
	require.NoError(t, err)

	assert.Equal(t, KindTelemetry, Classify(telemetry))
	assert.Equal(t, KindCommand, Classify(MustEncode(program)))
	assert.Equal(t, KindPoll, Classify(make([]byte, PollLen)))
	assert.Equal(t, KindOther, Classify([]byte{1}))
	assert.Equal(t, KindOther, Classify(nil))
}

func TestTelemetryStatusByte(t *testing.T) {
	raw := make([]byte, 21)
	raw[TelemetryMarkerOffset] = TelemetryMarker
	raw[20] = 0x81

	tel, err := ParseTelemetry(raw)
	require.NoError(t, err)

	b, ok := tel.StatusByte(5)
	assert.True(t, ok)
	assert.Equal(t, byte(0x81), b)

	_, ok = tel.StatusByte(6)
	assert.False(t, ok)
	_, ok = tel.StatusByte(-1)
	assert.False(t, ok)

	_, err = ParseTelemetry([]byte{0xdd, 0xdd, 0xdd})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = ParseTelemetry([]byte{0xdd, 0xdd, 0xdd, 0x01})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
