package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-doorlock/internal/models"
)

type relationKey struct {
	room int
	slot models.Slot
}

// MemoryRelationStore serves relations when no database is configured.
type MemoryRelationStore struct {
	mu        sync.RWMutex
	relations map[relationKey]models.CardRoomRelation
}

func NewMemoryRelationStore() *MemoryRelationStore {
	return &MemoryRelationStore{
		relations: map[relationKey]models.CardRoomRelation{},
	}
}

func (s *MemoryRelationStore) ListByRoom(_ context.Context, room int) ([]models.CardRoomRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CardRoomRelation
	for k, rel := range s.relations {
		if k.room == room {
			out = append(out, rel)
		}
	}
	sortRelations(out)
	return out, nil
}

func (s *MemoryRelationStore) ListExpired(_ context.Context, now time.Time) ([]models.CardRoomRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CardRoomRelation
	for _, rel := range s.relations {
		if rel.ValidUntil.Before(now) {
			out = append(out, rel)
		}
	}
	sortRelations(out)
	return out, nil
}

func (s *MemoryRelationStore) Get(_ context.Context, room int, slot models.Slot) (*models.CardRoomRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := s.relations[relationKey{room, slot}]
	if !ok {
		return nil, ErrRelationNotFound
	}
	return &rel, nil
}

func (s *MemoryRelationStore) Create(_ context.Context, rel models.CardRoomRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := relationKey{rel.Room, rel.Slot}
	if _, exists := s.relations[k]; exists {
		return fmt.Errorf("%w: room=%d slot=%d", ErrSlotTaken, rel.Room, rel.Slot)
	}
	s.relations[k] = rel
	return nil
}

func (s *MemoryRelationStore) Delete(_ context.Context, room int, slot models.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relations, relationKey{room, slot})
	return nil
}

func sortRelations(rels []models.CardRoomRelation) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Room != rels[j].Room {
			return rels[i].Room < rels[j].Room
		}
		return rels[i].Slot < rels[j].Slot
	})
}

// StaticRoomStore a fixed room list, typically from configuration.
type StaticRoomStore struct {
	rooms []int
}

func NewStaticRoomStore(rooms []int) *StaticRoomStore {
	cp := append([]int(nil), rooms...)
	sort.Ints(cp)
	return &StaticRoomStore{rooms: cp}
}

func (s *StaticRoomStore) ListRoomNumbers(context.Context) ([]int, error) {
	return append([]int(nil), s.rooms...), nil
}
