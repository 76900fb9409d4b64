package models

import (
	"time"
)

// Mode defines how a room resolves votes into an estimate.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeAverage  Mode = "average"
	ModeMedian   Mode = "median"
	ModeMajority Mode = "majority"
)

// ValidMode reports whether m is one of the four supported consensus modes.
func ValidMode(m Mode) bool {
	switch m {
	case ModeStrict, ModeAverage, ModeMedian, ModeMajority:
		return true
	}
	return false
}

// Role defines a player's role inside a room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
)

// Player is a room participant. Players are unique by username within a room.
type Player struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// BacklogItem is one unit of work to be estimated. Estimate is nil until the
// item's round has been revealed and validated, and is never reset except by
// a full backlog replacement.
type BacklogItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Order       int     `json:"order,omitempty"`
	Estimate    *string `json:"estimate,omitempty"`
}

// Room is the authoritative per-session record. CurrentIndex is 0-based and
// monotonically non-decreasing; CurrentIndex == len(Backlog) means the
// session is complete.
type Room struct {
	Code         string        `json:"code"`
	Mode         Mode          `json:"mode"`
	Players      []Player      `json:"players"`
	Backlog      []BacklogItem `json:"backlog"`
	CurrentIndex int           `json:"current_index"`
	IsPaused     bool          `json:"is_paused"`
	PausedBy     string        `json:"paused_by,omitempty"`
	Started      bool          `json:"started"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Done reports whether every backlog item has been estimated or skipped.
func (r *Room) Done() bool {
	return r.CurrentIndex >= len(r.Backlog)
}

// Current returns the backlog item under estimation, or nil when done.
func (r *Room) Current() *BacklogItem {
	if r.Done() {
		return nil
	}
	return &r.Backlog[r.CurrentIndex]
}

// HasPlayer reports whether username is a member of the room.
func (r *Room) HasPlayer(username string) bool {
	for _, p := range r.Players {
		if p.Username == username {
			return true
		}
	}
	return false
}

// IsAdmin reports whether username holds the admin role in the room.
func (r *Room) IsAdmin(username string) bool {
	for _, p := range r.Players {
		if p.Username == username && p.Role == RoleAdmin {
			return true
		}
	}
	return false
}
