package repository

import (
	"context"
	"errors"
	"time"

	"wisefido-doorlock/internal/models"
)

var (
	ErrRelationNotFound = errors.New("repository: card-room relation not found")
	ErrSlotTaken        = errors.New("repository: slot already holds a card")
)

// RelationStore persists active card-room relations. At most one relation
// exists per (room, slot).
type RelationStore interface {
	ListByRoom(ctx context.Context, room int) ([]models.CardRoomRelation, error)
	// ListExpired returns relations whose valid_until lies strictly before now.
	ListExpired(ctx context.Context, now time.Time) ([]models.CardRoomRelation, error)
	Get(ctx context.Context, room int, slot models.Slot) (*models.CardRoomRelation, error)
	Create(ctx context.Context, rel models.CardRoomRelation) error
	// Delete removes the relation in (room, slot); a missing row is not an error.
	Delete(ctx context.Context, room int, slot models.Slot) error
}

// RoomStore lists the rooms the status decoder should track.
type RoomStore interface {
	ListRoomNumbers(ctx context.Context) ([]int, error)
}
