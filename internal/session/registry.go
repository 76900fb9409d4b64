// Package session holds the authoritative per-room state machine: the
// registry hands out refcounted handles whose mutex serializes every room
// mutation, and the engine applies votes, reveals, pause toggles, and
// backlog resets through the persistence layer.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/models"
)

// RoomStore defines what the session engine needs from the room repository
type RoomStore interface {
	GetRoom(ctx context.Context, code string) (*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	ReplaceBacklog(ctx context.Context, code string, backlog []models.BacklogItem) error
}

// VoteLedger defines what the session engine needs from the vote app
type VoteLedger interface {
	RecordVote(ctx context.Context, roomCode, username string, taskIndex int, value string) error
	CountVotes(ctx context.Context, roomCode string, taskIndex int) (int, error)
	ListVotes(ctx context.Context, roomCode string, taskIndex int) ([]models.Vote, error)
	ClearVotes(ctx context.Context, roomCode string, taskIndex int) error
}

// Registry maps room codes to live handles. A handle exists while at least
// one connection (or request) holds a reference; the last Release evicts it.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle

	rooms RoomStore
	votes VoteLedger
}

// Handle binds a room code to its serialization mutex. All mutations of the
// room's state go through Handle methods, which lock, load, mutate, and save.
type Handle struct {
	code string
	reg  *Registry

	mu   sync.Mutex
	refs int
}

// NewRegistry creates a new session Registry
func NewRegistry(rooms RoomStore, votes VoteLedger) *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
		rooms:   rooms,
		votes:   votes,
	}
}

// Acquire returns the handle for code, creating it lazily. It fails with the
// store's not-found error when no backing room record exists. Every Acquire
// must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, code string) (*Handle, error) {
	// Existence check against the store before taking a reference.
	if _, err := r.rooms.GetRoom(ctx, code); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[code]
	if !ok {
		h = &Handle{code: code, reg: r}
		r.handles[code] = h
		log.Debug().Str("room_code", code).Msg("room handle created")
	}
	h.refs++
	return h, nil
}

// Release drops one reference to the handle. The handle is evicted from the
// registry when no references remain.
func (r *Registry) Release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.refs--
	if h.refs <= 0 {
		delete(r.handles, h.code)
		log.Debug().Str("room_code", h.code).Msg("room handle evicted")
	}
}

// Code returns the room code the handle is bound to.
func (h *Handle) Code() string {
	return h.code
}
