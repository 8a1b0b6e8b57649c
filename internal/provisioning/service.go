package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-doorlock/internal/allocator"
	"wisefido-doorlock/internal/models"
	"wisefido-doorlock/internal/protocol"
	"wisefido-doorlock/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrHardwareRejected = errors.New("provisioning: gateway rejected command")
	ErrInvalidRequest   = errors.New("provisioning: invalid request")
)

// Gateway request/response exchange with the lock gateway.
type Gateway interface {
	Request(ctx context.Context, frame []byte) ([]byte, error)
}

// Service programs and revokes cards. Issue and revoke run inside the
// room's allocator critical section so slot choice, hardware and the
// relation store always move together.
type Service struct {
	gateway   Gateway
	alloc     *allocator.Allocator
	relations repository.RelationStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(gateway Gateway, alloc *allocator.Allocator, relations repository.RelationStore, logger *zap.Logger) *Service {
	return &Service{
		gateway:   gateway,
		alloc:     alloc,
		relations: relations,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) exchange(ctx context.Context, f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	resp, err := s.gateway.Request(ctx, b)
	if err != nil {
		return err
	}
	if !protocol.IsAck(resp) {
		return fmt.Errorf("%w: response % x", ErrHardwareRejected, resp)
	}
	return nil
}

// Program writes card into room/slot on the lock.
func (s *Service) Program(ctx context.Context, card models.Card, room int, slot models.Slot) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	f, err := protocol.ProgramCard(room, slot, card.Number)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.exchange(ctx, f); err != nil {
		return fmt.Errorf("failed to program card %s into room %d slot %d: %w", card.Number, room, slot, err)
	}
	return nil
}

// Revoke clears room/slot on the lock. Clearing an empty slot succeeds.
func (s *Service) Revoke(ctx context.Context, room int, slot models.Slot) error {
	f, err := protocol.RevokeCard(room, slot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.exchange(ctx, f); err != nil {
		return fmt.Errorf("failed to revoke room %d slot %d: %w", room, slot, err)
	}
	return nil
}

// Query asks the lock about room/slot.
func (s *Service) Query(ctx context.Context, room int, slot models.Slot) error {
	f, err := protocol.QueryCard(room, slot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.exchange(ctx, f); err != nil {
		return fmt.Errorf("failed to query room %d slot %d: %w", room, slot, err)
	}
	return nil
}

// IssueRequest a card to place in a room for a validity window.
type IssueRequest struct {
	Card       models.Card
	Room       int
	ValidFrom  time.Time // zero means now
	ValidUntil time.Time
}

func (r *IssueRequest) normalize(now time.Time) error {
	if err := r.Card.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !models.ValidRoomNumber(r.Room) {
		return fmt.Errorf("%w: room %d out of range", ErrInvalidRequest, r.Room)
	}
	if r.ValidUntil.IsZero() {
		return fmt.Errorf("%w: valid_until is required", ErrInvalidRequest)
	}
	if r.ValidFrom.IsZero() {
		r.ValidFrom = now
	}
	if !r.ValidUntil.After(r.ValidFrom) {
		return fmt.Errorf("%w: valid_until %s is not after valid_from %s",
			ErrInvalidRequest, r.ValidUntil.Format(time.RFC3339), r.ValidFrom.Format(time.RFC3339))
	}
	return nil
}

// IssueCard allocates a slot for the card's role, programs the lock and
// records the relation. Any failure leaves the slot free.
func (s *Service) IssueCard(ctx context.Context, req IssueRequest) (models.SlotAssignment, error) {
	if err := req.normalize(s.now()); err != nil {
		return models.SlotAssignment{}, err
	}

	var assignment models.SlotAssignment
	err := s.alloc.WithRoom(ctx, req.Room, func(tx *allocator.Tx) error {
		slot, err := tx.Allocate(req.Card.Role)
		if err != nil {
			return err
		}
		if err := s.Program(ctx, req.Card, req.Room, slot); err != nil {
			return err
		}

		rel := models.CardRoomRelation{
			CardNumber: req.Card.Number,
			Role:       req.Card.Role,
			Room:       req.Room,
			Slot:       slot,
			ValidFrom:  req.ValidFrom,
			ValidUntil: req.ValidUntil,
		}
		if err := s.relations.Create(ctx, rel); err != nil {
			if errors.Is(err, repository.ErrSlotTaken) {
				// written elsewhere after our listing; the slot is not ours to clear
				s.restoreOwner(ctx, req.Room, slot)
				return fmt.Errorf("failed to record relation: %w", err)
			}
			// the lock already holds the card; take it back out
			if rerr := s.Revoke(ctx, req.Room, slot); rerr != nil {
				s.logger.Error("Failed to undo programming after store failure",
					zap.String("card", req.Card.Number),
					zap.Int("room", req.Room),
					zap.Int("slot", int(slot)),
					zap.Error(rerr),
				)
			}
			return fmt.Errorf("failed to record relation: %w", err)
		}

		assignment = models.SlotAssignment{
			CardNumber: rel.CardNumber,
			Room:       rel.Room,
			Slot:       rel.Slot,
			ValidFrom:  rel.ValidFrom,
			ValidUntil: rel.ValidUntil,
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Card issue failed",
			zap.String("card", req.Card.Number),
			zap.String("role", string(req.Card.Role)),
			zap.Int("room", req.Room),
			zap.Error(err),
		)
		return models.SlotAssignment{}, err
	}

	s.logger.Info("Card issued",
		zap.String("card", assignment.CardNumber),
		zap.Int("room", assignment.Room),
		zap.Int("slot", int(assignment.Slot)),
		zap.Time("valid_until", assignment.ValidUntil),
	)
	return assignment, nil
}

// restoreOwner writes the stored owner of room/slot back onto the lock after
// this process programmed over it.
func (s *Service) restoreOwner(ctx context.Context, room int, slot models.Slot) {
	owner, err := s.relations.Get(ctx, room, slot)
	if err != nil {
		s.logger.Error("Failed to look up slot owner after conflict",
			zap.Int("room", room),
			zap.Int("slot", int(slot)),
			zap.Error(err),
		)
		return
	}
	card := models.Card{Number: owner.CardNumber, Role: owner.Role}
	if err := s.Program(ctx, card, room, slot); err != nil {
		s.logger.Error("Failed to restore slot owner on the lock",
			zap.String("card", owner.CardNumber),
			zap.Int("room", room),
			zap.Int("slot", int(slot)),
			zap.Error(err),
		)
		return
	}
	s.logger.Warn("Slot taken concurrently, owner restored on the lock",
		zap.String("card", owner.CardNumber),
		zap.Int("room", room),
		zap.Int("slot", int(slot)),
	)
}

// RevokeCard clears a slot on the lock, drops its relation and frees it.
func (s *Service) RevokeCard(ctx context.Context, room int, slot models.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %d out of range", ErrInvalidRequest, slot)
	}
	err := s.alloc.WithRoom(ctx, room, func(tx *allocator.Tx) error {
		return s.revokeLocked(ctx, tx, slot)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Card revoked", zap.Int("room", room), zap.Int("slot", int(slot)))
	return nil
}

func (s *Service) revokeLocked(ctx context.Context, tx *allocator.Tx, slot models.Slot) error {
	if err := s.Revoke(ctx, tx.Room(), slot); err != nil {
		return err
	}
	if err := s.relations.Delete(ctx, tx.Room(), slot); err != nil {
		return fmt.Errorf("failed to delete relation: %w", err)
	}
	return tx.Release(slot)
}

// RevokeRelation revokes rel if it is still the relation occupying its slot
// and still expired. It reports whether a revoke was sent.
func (s *Service) RevokeRelation(ctx context.Context, rel models.CardRoomRelation) (bool, error) {
	revoked := false
	err := s.alloc.WithRoom(ctx, rel.Room, func(tx *allocator.Tx) error {
		current, err := s.relations.Get(ctx, rel.Room, rel.Slot)
		if errors.Is(err, repository.ErrRelationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current.CardNumber != rel.CardNumber || !current.Expired(s.now()) {
			s.logger.Debug("Relation changed since listing, skipping",
				zap.Int("room", rel.Room),
				zap.Int("slot", int(rel.Slot)),
				zap.String("card", rel.CardNumber),
			)
			return nil
		}
		if err := s.revokeLocked(ctx, tx, rel.Slot); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	return revoked, err
}
