package vote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agilecards/agilecards/internal/models"
)

// Repository is the Postgres-backed vote ledger. The unique index on
// (room_code, username, task_index) enforces one vote per key; the serial id
// preserves submission order for listing.
type Repository struct {
	sqlDB *sql.DB
}

// NewRepository creates a new vote Repository
func NewRepository(sqlDB *sql.DB) *Repository {
	return &Repository{sqlDB: sqlDB}
}

func (r *Repository) UpsertVote(ctx context.Context, roomCode, username string, taskIndex int, value string) error {
	_, err := r.sqlDB.ExecContext(ctx, `
		INSERT INTO votes (room_code, username, task_index, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_code, username, task_index)
		DO UPDATE SET value = EXCLUDED.value`,
		roomCode, username, taskIndex, value,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vote: %w", err)
	}
	return nil
}

func (r *Repository) CountVotes(ctx context.Context, roomCode string, taskIndex int) (int, error) {
	var count int
	err := r.sqlDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM votes
		WHERE room_code = $1 AND task_index = $2`,
		roomCode, taskIndex,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

func (r *Repository) ListVotes(ctx context.Context, roomCode string, taskIndex int) ([]models.Vote, error) {
	rows, err := r.sqlDB.QueryContext(ctx, `
		SELECT username, task_index, value FROM votes
		WHERE room_code = $1 AND task_index = $2
		ORDER BY id`,
		roomCode, taskIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.Username, &v.TaskIndex, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate votes: %w", err)
	}
	return votes, nil
}

func (r *Repository) DeleteVotes(ctx context.Context, roomCode string, taskIndex int) error {
	_, err := r.sqlDB.ExecContext(ctx, `
		DELETE FROM votes
		WHERE room_code = $1 AND task_index = $2`,
		roomCode, taskIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to delete votes: %w", err)
	}
	return nil
}

// DeleteAllVotes removes every vote for a room. Used when the backlog is
// replaced and progress resets to zero.
func (r *Repository) DeleteAllVotes(ctx context.Context, roomCode string) error {
	_, err := r.sqlDB.ExecContext(ctx, `
		DELETE FROM votes WHERE room_code = $1`,
		roomCode,
	)
	if err != nil {
		return fmt.Errorf("failed to delete room votes: %w", err)
	}
	return nil
}
