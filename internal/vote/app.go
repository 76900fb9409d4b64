package vote

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/models"
)

// VoteRepository defines what the vote app layer needs from the vote repository
type VoteRepository interface {
	UpsertVote(ctx context.Context, roomCode, username string, taskIndex int, value string) error
	CountVotes(ctx context.Context, roomCode string, taskIndex int) (int, error)
	ListVotes(ctx context.Context, roomCode string, taskIndex int) ([]models.Vote, error)
	DeleteVotes(ctx context.Context, roomCode string, taskIndex int) error
}

// App is the vote ledger: at most one vote per (room, username, task index),
// replace semantics on resubmission.
type App struct {
	repo VoteRepository
}

// NewApp creates a new vote App
func NewApp(repo VoteRepository) *App {
	return &App{repo: repo}
}

// RecordVote validates value against the card set and upserts it for the
// player's current task. A resubmission overwrites the prior value.
func (a *App) RecordVote(ctx context.Context, roomCode, username string, taskIndex int, value string) error {
	if !models.ValidCardValue(value) {
		return fmt.Errorf("%w: %q", ErrInvalidValue, value)
	}

	if err := a.repo.UpsertVote(ctx, roomCode, username, taskIndex, value); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	log.Debug().
		Str("room_code", roomCode).
		Str("username", username).
		Int("task_index", taskIndex).
		Msg("vote recorded")
	return nil
}

// CountVotes returns the number of votes recorded for a task index.
func (a *App) CountVotes(ctx context.Context, roomCode string, taskIndex int) (int, error) {
	count, err := a.repo.CountVotes(ctx, roomCode, taskIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// ListVotes returns the votes for a task index in submission order. The
// ordering feeds the majority tie-break.
func (a *App) ListVotes(ctx context.Context, roomCode string, taskIndex int) ([]models.Vote, error) {
	votes, err := a.repo.ListVotes(ctx, roomCode, taskIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// ClearVotes removes every vote for a task index. Called after each reveal
// transition so stale votes never leak into the next round.
func (a *App) ClearVotes(ctx context.Context, roomCode string, taskIndex int) error {
	if err := a.repo.DeleteVotes(ctx, roomCode, taskIndex); err != nil {
		return fmt.Errorf("failed to clear votes: %w", err)
	}
	return nil
}
