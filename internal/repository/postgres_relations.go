package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-doorlock/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// PostgresRelationStore card_room_relations table
type PostgresRelationStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresRelationStore creates a relation store on db
func NewPostgresRelationStore(db *sql.DB, logger *zap.Logger) *PostgresRelationStore {
	return &PostgresRelationStore{
		db:     db,
		logger: logger,
	}
}

const relationColumns = `card_number, role, room, slot, valid_from, valid_until`

func (s *PostgresRelationStore) ListByRoom(ctx context.Context, room int) ([]models.CardRoomRelation, error) {
	query := `
		SELECT ` + relationColumns + `
		FROM card_room_relations
		WHERE room = $1
		ORDER BY slot
	`
	rows, err := s.db.QueryContext(ctx, query, room)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations of room %d: %w", room, err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

func (s *PostgresRelationStore) ListExpired(ctx context.Context, now time.Time) ([]models.CardRoomRelation, error) {
	query := `
		SELECT ` + relationColumns + `
		FROM card_room_relations
		WHERE valid_until < $1
		ORDER BY room, slot
	`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired relations: %w", err)
	}
	defer rows.Close()
	return scanRelations(rows)
}

func (s *PostgresRelationStore) Get(ctx context.Context, room int, slot models.Slot) (*models.CardRoomRelation, error) {
	query := `
		SELECT ` + relationColumns + `
		FROM card_room_relations
		WHERE room = $1 AND slot = $2
	`
	rel, err := scanRelation(s.db.QueryRowContext(ctx, query, room, int(slot)))
	if err == sql.ErrNoRows {
		return nil, ErrRelationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relation room=%d slot=%d: %w", room, slot, err)
	}
	return &rel, nil
}

func (s *PostgresRelationStore) Create(ctx context.Context, rel models.CardRoomRelation) error {
	query := `
		INSERT INTO card_room_relations (` + relationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		rel.CardNumber,
		string(rel.Role),
		rel.Room,
		int(rel.Slot),
		rel.ValidFrom,
		rel.ValidUntil,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: room=%d slot=%d", ErrSlotTaken, rel.Room, rel.Slot)
		}
		return fmt.Errorf("failed to insert relation: %w", err)
	}

	s.logger.Debug("Relation stored",
		zap.String("card", rel.CardNumber),
		zap.Int("room", rel.Room),
		zap.Int("slot", int(rel.Slot)),
	)
	return nil
}

func (s *PostgresRelationStore) Delete(ctx context.Context, room int, slot models.Slot) error {
	query := `DELETE FROM card_room_relations WHERE room = $1 AND slot = $2`
	result, err := s.db.ExecContext(ctx, query, room, int(slot))
	if err != nil {
		return fmt.Errorf("failed to delete relation room=%d slot=%d: %w", room, slot, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("No relation to delete", zap.Int("room", room), zap.Int("slot", int(slot)))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelation(row rowScanner) (models.CardRoomRelation, error) {
	var (
		rel  models.CardRoomRelation
		role string
		slot int
	)
	if err := row.Scan(&rel.CardNumber, &role, &rel.Room, &slot, &rel.ValidFrom, &rel.ValidUntil); err != nil {
		return models.CardRoomRelation{}, err
	}
	rel.Role = models.Role(role)
	rel.Slot = models.Slot(slot)
	return rel, nil
}

func scanRelations(rows *sql.Rows) ([]models.CardRoomRelation, error) {
	var out []models.CardRoomRelation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relations: %w", err)
	}
	return out, nil
}
