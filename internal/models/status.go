package models

import (
	"fmt"
	"time"
)

// StatusFlag one of the four per-room sensor flags
type StatusFlag string

const (
	FlagSOS          StatusFlag = "sos"
	FlagStaffCall    StatusFlag = "staff_call"
	FlagDoNotDisturb StatusFlag = "do_not_disturb"
	FlagOccupied     StatusFlag = "occupied"
)

// AllFlags in evaluation order.
var AllFlags = []StatusFlag{FlagSOS, FlagStaffCall, FlagDoNotDisturb, FlagOccupied}

// RoomStatus last known sensor flags of a room
type RoomStatus struct {
	Room         int       `json:"room"`
	SOS          bool      `json:"sos"`
	StaffCall    bool      `json:"staff_call"`
	DoNotDisturb bool      `json:"do_not_disturb"`
	Occupied     bool      `json:"occupied"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Get returns the value of flag.
func (s *RoomStatus) Get(flag StatusFlag) bool {
	switch flag {
	case FlagSOS:
		return s.SOS
	case FlagStaffCall:
		return s.StaffCall
	case FlagDoNotDisturb:
		return s.DoNotDisturb
	case FlagOccupied:
		return s.Occupied
	}
	return false
}

// Set stores v for flag.
func (s *RoomStatus) Set(flag StatusFlag, v bool) {
	switch flag {
	case FlagSOS:
		s.SOS = v
	case FlagStaffCall:
		s.StaffCall = v
	case FlagDoNotDisturb:
		s.DoNotDisturb = v
	case FlagOccupied:
		s.Occupied = v
	}
}

// StatusChangeEvent one observed flag transition. Immutable once emitted.
type StatusChangeEvent struct {
	EventID  string     `json:"event_id"`
	Room     int        `json:"room"`
	Flag     StatusFlag `json:"flag"`
	NewValue bool       `json:"new_value"`
	At       time.Time  `json:"timestamp"`
}

// Description history line, e.g. "room 12: sos on".
func (e StatusChangeEvent) Description() string {
	state := "off"
	if e.NewValue {
		state = "on"
	}
	return fmt.Sprintf("room %d: %s %s", e.Room, e.Flag, state)
}
