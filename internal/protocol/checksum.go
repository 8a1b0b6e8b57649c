package protocol

import (
	"encoding/hex"
	"strconv"
)

// Checksum computes the checksum byte over data, which is the frame up to
// (not including) the checksum position.
//
// The gateway firmware derives it through a decimal/hex round trip: XOR every
// byte from offset 3 on, keep the low 7 bits, render as decimal padded to two
// digits, parse that back, render as hex and keep the first two digits. The
// steps are kept as-is so any firmware disagreement shows up in one place.
func Checksum(data []byte) byte {
	var acc byte
	for i := cmdOffset; i < len(data); i++ {
		acc ^= data[i]
	}

	v := int(acc & 0x7f)
	dec := strconv.Itoa(v)
	if len(dec) == 1 {
		dec = "0" + dec
	}
	n, err := strconv.Atoi(dec)
	if err != nil {
		return 0
	}

	hx := strconv.FormatInt(int64(n), 16)
	if len(hx) > 2 {
		hx = hx[:2]
	}
	// below 0x10 the hex form is one digit; pad so it decodes to a whole byte
	if len(hx) == 1 {
		hx = "0" + hx
	}
	out, err := hex.DecodeString(hx)
	if err != nil || len(out) == 0 {
		return 0
	}
	return out[0]
}
