// Package db holds the Postgres schema for the room store.
package db

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Rooms
CREATE TABLE IF NOT EXISTS rooms (
    code TEXT PRIMARY KEY,
    mode TEXT NOT NULL CHECK (mode IN ('strict', 'average', 'median', 'majority')),
    players JSONB NOT NULL DEFAULT '[]',
    backlog JSONB NOT NULL DEFAULT '[]',
    current_index INT NOT NULL DEFAULT 0,
    is_paused BOOLEAN NOT NULL DEFAULT FALSE,
    paused_by TEXT NOT NULL DEFAULT '',
    started BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Votes: one per (room, username, task index); serial id preserves
-- submission order for the majority tie-break.
CREATE TABLE IF NOT EXISTS votes (
    id BIGSERIAL PRIMARY KEY,
    room_code TEXT NOT NULL REFERENCES rooms(code) ON DELETE CASCADE,
    username TEXT NOT NULL,
    task_index INT NOT NULL,
    value TEXT NOT NULL,
    UNIQUE (room_code, username, task_index)
);

CREATE INDEX IF NOT EXISTS idx_votes_room_task ON votes(room_code, task_index);
`
