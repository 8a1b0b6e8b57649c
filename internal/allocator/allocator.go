package allocator

import (
	"context"
	"fmt"
	"sync"

	"wisefido-doorlock/internal/models"

	"go.uber.org/zap"
)

// OccupancySource supplies the persisted relations of a room. It is read at
// the start of every room transaction; other writers share the table.
type OccupancySource interface {
	ListByRoom(ctx context.Context, room int) ([]models.CardRoomRelation, error)
}

type roomSlots struct {
	mu sync.Mutex
	// held claims made here that the source does not list yet
	held     map[models.Slot]bool
	occupied map[models.Slot]bool
}

// Allocator owns slot occupancy per room. All mutation of a room goes
// through that room's critical section; different rooms never contend.
type Allocator struct {
	source OccupancySource
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[int]*roomSlots
}

func New(source OccupancySource, logger *zap.Logger) *Allocator {
	return &Allocator{
		source: source,
		logger: logger,
		rooms:  make(map[int]*roomSlots),
	}
}

func (a *Allocator) room(n int) *roomSlots {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.rooms[n]
	if !ok {
		rs = &roomSlots{held: make(map[models.Slot]bool)}
		a.rooms[n] = rs
	}
	return rs
}

// refresh rebuilds the occupied set from the source plus held claims.
// Must be called with rs.mu held.
func (a *Allocator) refresh(ctx context.Context, room int, rs *roomSlots) error {
	occupied := make(map[models.Slot]bool, len(rs.held))
	if a.source != nil {
		rels, err := a.source.ListByRoom(ctx, room)
		if err != nil {
			return fmt.Errorf("failed to load occupancy of room %d: %w", room, err)
		}
		for _, rel := range rels {
			occupied[rel.Slot] = true
			// persisted now; the source speaks for it from here on
			delete(rs.held, rel.Slot)
		}
	}
	for s := range rs.held {
		occupied[s] = true
	}
	rs.occupied = occupied
	return nil
}

// Tx view of one room inside its critical section.
type Tx struct {
	room    int
	rs      *roomSlots
	claimed []models.Slot
	freed   []models.Slot
}

// Room number the transaction is bound to.
func (tx *Tx) Room() int { return tx.room }

// Allocate claims the lowest free slot for role.
func (tx *Tx) Allocate(role models.Role) (models.Slot, error) {
	s, err := PickSlot(tx.rs.occupied, role)
	if err != nil {
		return 0, err
	}
	tx.rs.occupied[s] = true
	tx.claimed = append(tx.claimed, s)
	return s, nil
}

// Release frees slot. Releasing a free slot is a no-op.
func (tx *Tx) Release(slot models.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}
	if tx.rs.occupied[slot] {
		delete(tx.rs.occupied, slot)
		tx.freed = append(tx.freed, slot)
	}
	return nil
}

// Occupied reports whether slot currently holds a card.
func (tx *Tx) Occupied(slot models.Slot) bool {
	return tx.rs.occupied[slot]
}

func (tx *Tx) commit() {
	for _, s := range tx.claimed {
		tx.rs.held[s] = true
	}
	for _, s := range tx.freed {
		delete(tx.rs.held, s)
	}
}

func (tx *Tx) rollback() {
	for _, s := range tx.claimed {
		delete(tx.rs.occupied, s)
	}
	for _, s := range tx.freed {
		tx.rs.occupied[s] = true
	}
}

// WithRoom runs fn inside room's critical section, on occupancy freshly read
// from the source. If fn returns an error every claim and release it made is
// undone.
func (a *Allocator) WithRoom(ctx context.Context, room int, fn func(tx *Tx) error) error {
	if !models.ValidRoomNumber(room) {
		return fmt.Errorf("allocator: room %d out of range", room)
	}
	rs := a.room(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.refresh(ctx, room, rs); err != nil {
		return err
	}

	tx := &Tx{room: room, rs: rs}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// Allocate claims the lowest free slot of role in room.
func (a *Allocator) Allocate(ctx context.Context, room int, role models.Role) (models.Slot, error) {
	var slot models.Slot
	err := a.WithRoom(ctx, room, func(tx *Tx) error {
		var err error
		slot, err = tx.Allocate(role)
		return err
	})
	return slot, err
}

// Release frees slot in room; idempotent.
func (a *Allocator) Release(ctx context.Context, room int, slot models.Slot) error {
	return a.WithRoom(ctx, room, func(tx *Tx) error {
		return tx.Release(slot)
	})
}

// Occupied snapshot of a room's occupied slots, ascending.
func (a *Allocator) Occupied(ctx context.Context, room int) ([]models.Slot, error) {
	var out []models.Slot
	err := a.WithRoom(ctx, room, func(tx *Tx) error {
		for s := models.MinSlot; s <= models.MaxSlot; s++ {
			if tx.Occupied(s) {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}
