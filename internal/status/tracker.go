package status

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-doorlock/internal/models"
	"wisefido-doorlock/internal/protocol"

	"github.com/google/uuid"
)

// Tracker keeps the last known flags of every known room and turns
// telemetry into edge-triggered change events.
type Tracker struct {
	decoder Decoder
	now     func() time.Time
	newID   func() string

	mu    sync.RWMutex
	order []int
	rooms map[int]*models.RoomStatus
}

func NewTracker(rooms []int, decoder Decoder) (*Tracker, error) {
	t := &Tracker{
		decoder: decoder,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		rooms:   make(map[int]*models.RoomStatus, len(rooms)),
	}
	for _, r := range rooms {
		if !models.ValidRoomNumber(r) {
			return nil, fmt.Errorf("status: room %d out of range", r)
		}
		if _, dup := t.rooms[r]; dup {
			continue
		}
		t.rooms[r] = &models.RoomStatus{Room: r}
		t.order = append(t.order, r)
	}
	sort.Ints(t.order)
	return t, nil
}

// Apply decodes one telemetry datagram. Events come out in ascending room
// order and, within a room, in models.AllFlags order. Rooms whose byte is
// beyond the end of the datagram keep their previous state.
func (t *Tracker) Apply(datagram []byte) ([]models.StatusChangeEvent, error) {
	tel, err := protocol.ParseTelemetry(datagram)
	if err != nil {
		return nil, err
	}

	at := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var events []models.StatusChangeEvent
	for _, room := range t.order {
		b, ok := tel.StatusByte(room)
		if !ok {
			continue
		}
		st := t.rooms[room]
		for _, flag := range models.AllFlags {
			v := t.decoder.Flag(b, flag)
			if st.Get(flag) == v {
				continue
			}
			st.Set(flag, v)
			st.UpdatedAt = at
			events = append(events, models.StatusChangeEvent{
				EventID:  t.newID(),
				Room:     room,
				Flag:     flag,
				NewValue: v,
				At:       at,
			})
		}
	}
	return events, nil
}

// Snapshot current status of room.
func (t *Tracker) Snapshot(room int) (models.RoomStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.rooms[room]
	if !ok {
		return models.RoomStatus{}, false
	}
	return *st, true
}

// Rooms known rooms, ascending.
func (t *Tracker) Rooms() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int(nil), t.order...)
}
