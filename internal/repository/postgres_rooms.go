package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// PostgresRoomStore rooms table
type PostgresRoomStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresRoomStore(db *sql.DB, logger *zap.Logger) *PostgresRoomStore {
	return &PostgresRoomStore{db: db, logger: logger}
}

// ListRoomNumbers returns room numbers that fit the lock protocol, ascending.
func (s *PostgresRoomStore) ListRoomNumbers(ctx context.Context) ([]int, error) {
	query := `
		SELECT room_number
		FROM rooms
		WHERE room_number BETWEEN 0 AND 99
		ORDER BY room_number
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}

	s.logger.Debug("Rooms loaded", zap.Int("count", len(rooms)))
	return rooms, nil
}
