package models

import (
	"fmt"
	"strings"
	"time"
)

// Role card holder role; decides which slot range a card may occupy
type Role string

const (
	RoleGuest        Role = "guest"
	RoleHousekeeping Role = "housekeeping"
	RoleReception    Role = "reception"
)

// CardNumberLen vendor card numbers are always five decimal digits.
const CardNumberLen = 5

// MaxRoomNumber rooms travel as two decimal digits in one byte.
const MaxRoomNumber = 99

// ParseRole accepts the role names and the legacy front-desk spellings.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guest", "gost":
		return RoleGuest, nil
	case "housekeeping", "sobarica":
		return RoleHousekeeping, nil
	case "reception", "recepcionar":
		return RoleReception, nil
	}
	return "", fmt.Errorf("unknown card role %q", s)
}

// UnmarshalText lets booking payloads carry either spelling.
func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleHousekeeping, RoleReception:
		return true
	}
	return false
}

// Plural used in capacity messages ("maximum cards for guests reached").
func (r Role) Plural() string {
	switch r {
	case RoleGuest:
		return "guests"
	case RoleHousekeeping:
		return "housekeeping"
	case RoleReception:
		return "reception"
	}
	return string(r)
}

// Card a vendor-issued door card. Created outside the core and never mutated here.
type Card struct {
	Number string `json:"number"`
	Role   Role   `json:"role"`
}

// Validate checks the number is exactly five digits and the role is known.
func (c Card) Validate() error {
	if len(c.Number) != CardNumberLen {
		return fmt.Errorf("card number %q must have %d digits", c.Number, CardNumberLen)
	}
	for _, ch := range c.Number {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("card number %q must be numeric", c.Number)
		}
	}
	if !c.Role.Valid() {
		return fmt.Errorf("card %s has unknown role %q", c.Number, c.Role)
	}
	return nil
}

// Room a hotel room as far as the lock gateway is concerned.
type Room struct {
	Number int    `json:"number"`
	Floor  string `json:"floor,omitempty"`
}

// ValidRoomNumber reports whether n fits the two-digit wire field.
func ValidRoomNumber(n int) bool {
	return n >= 0 && n <= MaxRoomNumber
}

// CardRoomRelation an active card assignment to a room slot.
type CardRoomRelation struct {
	CardNumber string    `json:"card_number"`
	Role       Role      `json:"role"`
	Room       int       `json:"room"`
	Slot       Slot      `json:"slot"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}

// Expired reports whether the relation lapsed before now.
func (r CardRoomRelation) Expired(now time.Time) bool {
	return now.After(r.ValidUntil)
}

// SlotAssignment result handed back to the booking system after a successful issue.
type SlotAssignment struct {
	CardNumber string    `json:"card_number"`
	Room       int       `json:"room"`
	Slot       Slot      `json:"slot"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}
