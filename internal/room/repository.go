package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agilecards/agilecards/internal/models"
	"github.com/agilecards/agilecards/internal/sqlutil"
)

// Repository is the Postgres-backed room store. Players and backlog are
// stored as ordered JSONB arrays and decoded into typed slices at this
// boundary; the core never sees raw JSON.
type Repository struct {
	sqlDB *sql.DB
}

// NewRepository creates a new room Repository
func NewRepository(sqlDB *sql.DB) *Repository {
	return &Repository{sqlDB: sqlDB}
}

func (r *Repository) CreateRoom(ctx context.Context, rm *models.Room) error {
	players, backlog, err := encodeCollections(rm)
	if err != nil {
		return err
	}

	rm.CreatedAt = time.Now()
	_, err = r.sqlDB.ExecContext(ctx, `
		INSERT INTO rooms (code, mode, players, backlog, current_index, is_paused, paused_by, started, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rm.Code, rm.Mode, players, backlog, rm.CurrentIndex, rm.IsPaused, rm.PausedBy, rm.Started, rm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (r *Repository) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	var (
		rm      models.Room
		players []byte
		backlog []byte
	)
	err := r.sqlDB.QueryRowContext(ctx, `
		SELECT code, mode, players, backlog, current_index, is_paused, paused_by, started, created_at
		FROM rooms WHERE code = $1`,
		code,
	).Scan(&rm.Code, &rm.Mode, &players, &backlog, &rm.CurrentIndex, &rm.IsPaused, &rm.PausedBy, &rm.Started, &rm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	if err := json.Unmarshal(players, &rm.Players); err != nil {
		return nil, fmt.Errorf("failed to decode players: %w", err)
	}
	if err := json.Unmarshal(backlog, &rm.Backlog); err != nil {
		return nil, fmt.Errorf("failed to decode backlog: %w", err)
	}
	return &rm, nil
}

func (r *Repository) UpdateRoom(ctx context.Context, rm *models.Room) error {
	players, backlog, err := encodeCollections(rm)
	if err != nil {
		return err
	}

	res, err := r.sqlDB.ExecContext(ctx, `
		UPDATE rooms
		SET mode = $2, players = $3, backlog = $4, current_index = $5,
		    is_paused = $6, paused_by = $7, started = $8
		WHERE code = $1`,
		rm.Code, rm.Mode, players, backlog, rm.CurrentIndex, rm.IsPaused, rm.PausedBy, rm.Started,
	)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rm.Code)
	}
	return nil
}

// ReplaceBacklog swaps the room's backlog, resets progress to the first item,
// and clears every vote for the room in one transaction.
func (r *Repository) ReplaceBacklog(ctx context.Context, code string, backlog []models.BacklogItem) error {
	data, err := json.Marshal(backlog)
	if err != nil {
		return fmt.Errorf("failed to encode backlog: %w", err)
	}

	return sqlutil.Run(ctx, r.sqlDB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rooms SET backlog = $2, current_index = 0 WHERE code = $1`,
			code, data,
		)
		if err != nil {
			return fmt.Errorf("failed to replace backlog: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, code)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE room_code = $1`, code); err != nil {
			return fmt.Errorf("failed to clear room votes: %w", err)
		}
		return nil
	})
}

func encodeCollections(rm *models.Room) (players, backlog []byte, err error) {
	if rm.Players == nil {
		rm.Players = []models.Player{}
	}
	if rm.Backlog == nil {
		rm.Backlog = []models.BacklogItem{}
	}
	players, err = json.Marshal(rm.Players)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode players: %w", err)
	}
	backlog, err = json.Marshal(rm.Backlog)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode backlog: %w", err)
	}
	return players, backlog, nil
}
