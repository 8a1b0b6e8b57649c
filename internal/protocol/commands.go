package protocol

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-doorlock/internal/models"
)

const (
	cardDigitOffset = 0x30
	revokeFill      = 0xFF
)

var (
	cardMarker  = []byte{0x65, 0x00, 0x00}
	queryMarker = []byte{0x02, 0x00}
	revokeCard  = bytes.Repeat([]byte{revokeFill}, models.CardNumberLen)
)

// CardCommand decoded contents of a 0101 frame.
type CardCommand struct {
	Room       int
	Slot       models.Slot
	CardNumber string // empty for a revoke
	Revoke     bool
}

// EncodeRoom packs the two decimal digits of room into one byte (12 -> 0x12).
func EncodeRoom(room int) (byte, error) {
	if !models.ValidRoomNumber(room) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRoom, room)
	}
	return byte(room/10)<<4 | byte(room%10), nil
}

// DecodeRoom inverse of EncodeRoom.
func DecodeRoom(b byte) (int, error) {
	hi, lo := int(b>>4), int(b&0x0f)
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: %02x is not two decimal digits", ErrInvalidRoom, b)
	}
	return hi*10 + lo, nil
}

// EncodeCardNumber maps each digit to 0x30+digit.
func EncodeCardNumber(number string) ([]byte, error) {
	if len(number) != models.CardNumberLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCard, number)
	}
	out := make([]byte, models.CardNumberLen)
	for i := 0; i < len(number); i++ {
		d := number[i]
		if d < '0' || d > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCard, number)
		}
		out[i] = cardDigitOffset + (d - '0')
	}
	return out, nil
}

func decodeCardNumber(b []byte) (string, error) {
	out := make([]byte, len(b))
	for i, v := range b {
		if v < cardDigitOffset || v > cardDigitOffset+9 {
			return "", fmt.Errorf("%w: byte %02x", ErrInvalidCard, v)
		}
		out[i] = '0' + (v - cardDigitOffset)
	}
	return string(out), nil
}

func roomAndLocation(room int, slot models.Slot) (byte, byte, error) {
	r, err := EncodeRoom(room)
	if err != nil {
		return 0, 0, err
	}
	if !slot.Valid() {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return r, slot.LocationCode(), nil
}

// ProgramCard builds the 0101 frame writing cardNumber into room/slot.
func ProgramCard(room int, slot models.Slot, cardNumber string) (Frame, error) {
	r, loc, err := roomAndLocation(room, slot)
	if err != nil {
		return Frame{}, err
	}
	digits, err := EncodeCardNumber(cardNumber)
	if err != nil {
		return Frame{}, err
	}
	return cardFrame(r, loc, digits), nil
}

// RevokeCard builds the 0101 frame clearing room/slot.
func RevokeCard(room int, slot models.Slot) (Frame, error) {
	r, loc, err := roomAndLocation(room, slot)
	if err != nil {
		return Frame{}, err
	}
	return cardFrame(r, loc, revokeCard), nil
}

func cardFrame(room, loc byte, card []byte) Frame {
	payload := make([]byte, 0, PayloadLen(CmdCard))
	payload = append(payload, room)
	payload = append(payload, cardMarker...)
	payload = append(payload, loc)
	payload = append(payload, card...)
	return Frame{Command: CmdCard, Payload: payload}
}

// QueryCard builds the 0102 frame asking the lock about room/slot.
func QueryCard(room int, slot models.Slot) (Frame, error) {
	r, loc, err := roomAndLocation(room, slot)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, 0, PayloadLen(CmdQuery))
	payload = append(payload, r)
	payload = append(payload, queryMarker...)
	payload = append(payload, loc)
	return Frame{Command: CmdQuery, Payload: payload}, nil
}

// Heartbeat builds the 0100 time-sync frame sent in reply to a gateway poll.
func Heartbeat(t time.Time) Frame {
	return Frame{
		Command: CmdHeartbeat,
		Payload: []byte{
			byte(t.Day()),
			byte(t.Month()),
			byte(t.Year() % 100),
			byte(t.Hour()),
			byte(t.Minute()),
			byte(t.Second()),
		},
	}
}

// ParseCardCommand decodes the payload of a 0101 frame.
func ParseCardCommand(f Frame) (CardCommand, error) {
	if f.Command != CmdCard {
		return CardCommand{}, fmt.Errorf("%w: %s", ErrUnexpectedCommand, f.Command)
	}
	if len(f.Payload) != PayloadLen(CmdCard) {
		return CardCommand{}, fmt.Errorf("%w: %d bytes", ErrPayloadLength, len(f.Payload))
	}
	if !bytes.Equal(f.Payload[1:4], cardMarker) {
		return CardCommand{}, fmt.Errorf("%w: card marker % x", ErrMalformedFrame, f.Payload[1:4])
	}

	room, err := DecodeRoom(f.Payload[0])
	if err != nil {
		return CardCommand{}, err
	}
	slot, err := models.SlotFromLocationCode(f.Payload[4])
	if err != nil {
		return CardCommand{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}

	cmd := CardCommand{Room: room, Slot: slot}
	card := f.Payload[5:]
	if bytes.Equal(card, revokeCard) {
		cmd.Revoke = true
		return cmd, nil
	}
	if cmd.CardNumber, err = decodeCardNumber(card); err != nil {
		return CardCommand{}, err
	}
	return cmd, nil
}

// IsAck reports whether a gateway response acknowledges the command.
func IsAck(resp []byte) bool {
	return len(resp) > 0 && resp[0] == 1
}
