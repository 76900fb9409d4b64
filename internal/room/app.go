package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/models"
)

const (
	codeLength     = 6
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxTitleLen    = 255
	maxDescription = 2000
)

// RoomRepository defines what the room app layer needs from the room repository
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	ReplaceBacklog(ctx context.Context, code string, backlog []models.BacklogItem) error
}

// App handles room lifecycle outside the live session: creation, membership,
// backlog management, and results export.
type App struct {
	repo RoomRepository
}

// NewApp creates a new room App
func NewApp(repo RoomRepository) *App {
	return &App{repo: repo}
}

// CreateRoom creates a room with a fresh 6-character code and the creator as
// its admin.
func (a *App) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	if !models.ValidMode(req.Mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.Creator == "" {
		return nil, fmt.Errorf("creator username is required")
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate room code: %w", err)
	}

	rm := &models.Room{
		Code:    code,
		Mode:    req.Mode,
		Players: []models.Player{{Username: req.Creator, Role: models.RoleAdmin}},
	}
	if err := a.repo.CreateRoom(ctx, rm); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().
		Str("room_code", rm.Code).
		Str("mode", string(rm.Mode)).
		Str("creator", req.Creator).
		Msg("room created")
	return rm, nil
}

// GetRoom retrieves a room by code.
func (a *App) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	rm, err := a.repo.GetRoom(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// JoinRoom adds username to the room as a player. Joining twice is not an
// error; the membership stays unique by username.
func (a *App) JoinRoom(ctx context.Context, code, username string) (JoinStatus, error) {
	rm, err := a.repo.GetRoom(ctx, normalizeCode(code))
	if err != nil {
		return "", err
	}

	if rm.HasPlayer(username) {
		return JoinStatusAlreadyJoined, nil
	}

	rm.Players = append(rm.Players, models.Player{Username: username, Role: models.RolePlayer})
	if err := a.repo.UpdateRoom(ctx, rm); err != nil {
		return "", fmt.Errorf("failed to join room: %w", err)
	}

	log.Info().Str("room_code", rm.Code).Str("username", username).Msg("player joined room")
	return JoinStatusJoined, nil
}

// ValidateBacklog normalizes a backlog payload: every item needs a non-empty
// trimmed title, titles and descriptions are length-capped, and items with
// no id get a fresh UUID.
func ValidateBacklog(items []BacklogItemInput) ([]models.BacklogItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: backlog must be a non-empty array", ErrInvalidBacklog)
	}

	backlog := make([]models.BacklogItem, 0, len(items))
	for i, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: item #%d is missing a title", ErrInvalidBacklog, i+1)
		}
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		desc := strings.TrimSpace(item.Description)
		if len(desc) > maxDescription {
			desc = desc[:maxDescription]
		}
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		order := item.Order
		if order == 0 {
			order = i + 1
		}
		backlog = append(backlog, models.BacklogItem{
			ID:          id,
			Title:       title,
			Description: desc,
			Order:       order,
		})
	}
	return backlog, nil
}

// StartGame marks the room as started. Admin only.
func (a *App) StartGame(ctx context.Context, code, username string) error {
	rm, err := a.repo.GetRoom(ctx, normalizeCode(code))
	if err != nil {
		return err
	}
	if !rm.IsAdmin(username) {
		return ErrUnauthorized
	}

	rm.Started = true
	if err := a.repo.UpdateRoom(ctx, rm); err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}

	log.Info().Str("room_code", rm.Code).Msg("game started")
	return nil
}

// ExportResults returns the backlog with its accumulated estimates.
func (a *App) ExportResults(ctx context.Context, code string) (*ExportedResults, error) {
	rm, err := a.repo.GetRoom(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	return &ExportedResults{Room: rm.Code, Mode: rm.Mode, Results: rm.Backlog}, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateCode() (string, error) {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
