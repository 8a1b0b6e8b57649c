package status

import (
	"fmt"

	"wisefido-doorlock/internal/models"
)

// BitOrder how flag positions map onto the status byte.
type BitOrder string

const (
	// MSBFirst position 0 is the most significant bit (0x80). This is how
	// the gateway firmware lays the flags out.
	MSBFirst BitOrder = "msb"
	LSBFirst BitOrder = "lsb"
)

// flag positions inside the status byte
var flagPositions = map[models.StatusFlag]uint{
	models.FlagSOS:          0,
	models.FlagStaffCall:    1,
	models.FlagDoNotDisturb: 2,
	models.FlagOccupied:     7,
}

// Decoder reads flags out of a room's status byte.
type Decoder struct {
	masks map[models.StatusFlag]byte
}

func NewDecoder(order BitOrder) (Decoder, error) {
	masks := make(map[models.StatusFlag]byte, len(flagPositions))
	for flag, pos := range flagPositions {
		switch order {
		case MSBFirst, "":
			masks[flag] = 0x80 >> pos
		case LSBFirst:
			masks[flag] = 1 << pos
		default:
			return Decoder{}, fmt.Errorf("status: unknown bit order %q", order)
		}
	}
	return Decoder{masks: masks}, nil
}

// Flag reports whether flag is set in b.
func (d Decoder) Flag(b byte, flag models.StatusFlag) bool {
	return b&d.masks[flag] != 0
}

// Mask bit mask of flag.
func (d Decoder) Mask(flag models.StatusFlag) byte {
	return d.masks[flag]
}
