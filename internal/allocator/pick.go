package allocator

import (
	"errors"
	"fmt"

	"wisefido-doorlock/internal/models"
)

var (
	ErrSlotsExhausted = errors.New("allocator: no free slot for role")
	ErrUnknownRole    = errors.New("allocator: unknown role")
	ErrSlotOutOfRange = errors.New("allocator: slot out of range")
)

// SlotsExhaustedError every slot in the role's range is occupied.
type SlotsExhaustedError struct {
	Role models.Role
}

func (e *SlotsExhaustedError) Error() string {
	return fmt.Sprintf("allocator: no free slot for role %s", e.Role)
}

func (e *SlotsExhaustedError) Is(target error) bool {
	return target == ErrSlotsExhausted
}

// UserMessage text shown to front-desk staff.
func (e *SlotsExhaustedError) UserMessage() string {
	return fmt.Sprintf("maximum cards for %s reached", e.Role.Plural())
}

// PickSlot returns the lowest slot of role's range not present in occupied.
func PickSlot(occupied map[models.Slot]bool, role models.Role) (models.Slot, error) {
	r, ok := models.RangeFor(role)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	for _, s := range r.Slots() {
		if !occupied[s] {
			return s, nil
		}
	}
	return 0, &SlotsExhaustedError{Role: role}
}
