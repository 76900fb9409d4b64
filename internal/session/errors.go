package session

import "errors"

var (
	// ErrSessionPaused is returned when a vote or reveal arrives while the room is paused
	ErrSessionPaused = errors.New("session is paused")
	// ErrSessionComplete is returned when a vote or reveal arrives after the last backlog item
	ErrSessionComplete = errors.New("session is complete")
	// ErrUnauthorized is returned when the caller lacks the role the operation requires
	ErrUnauthorized = errors.New("not allowed")
	// ErrNotMember is returned when a vote arrives from an identity outside the room's player list
	ErrNotMember = errors.New("not a room member")
)
