package models

import "fmt"

// Slot hardware card position inside one room, 0-11.
type Slot int

const (
	MinSlot Slot = 0
	MaxSlot Slot = 11
)

// SlotRange inclusive range of slots a role may use.
type SlotRange struct {
	First Slot
	Last  Slot
}

var roleRanges = map[Role]SlotRange{
	RoleGuest:        {First: 0, Last: 2},
	RoleHousekeeping: {First: 3, Last: 8},
	RoleReception:    {First: 9, Last: 10},
}

// RangeFor returns the slot range of role.
func RangeFor(role Role) (SlotRange, bool) {
	r, ok := roleRanges[role]
	return r, ok
}

// Contains reports whether s lies within the range.
func (r SlotRange) Contains(s Slot) bool {
	return s >= r.First && s <= r.Last
}

// Slots lists the range in ascending order.
func (r SlotRange) Slots() []Slot {
	out := make([]Slot, 0, int(r.Last-r.First)+1)
	for s := r.First; s <= r.Last; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is addressable.
func (s Slot) Valid() bool {
	return s >= MinSlot && s <= MaxSlot
}

// InRange reports whether s belongs to role's range.
func (s Slot) InRange(role Role) bool {
	r, ok := roleRanges[role]
	return ok && r.Contains(s)
}

// RoleOf returns the role whose range contains s.
func (s Slot) RoleOf() (Role, bool) {
	for role, r := range roleRanges {
		if r.Contains(s) {
			return role, true
		}
	}
	return "", false
}

// LocationCode the lock numbers card positions from 1.
func (s Slot) LocationCode() byte {
	return byte(s) + 1
}

// SlotFromLocationCode inverse of LocationCode.
func SlotFromLocationCode(code byte) (Slot, error) {
	s := Slot(code) - 1
	if !s.Valid() {
		return 0, fmt.Errorf("location code %d out of range", code)
	}
	return s, nil
}
