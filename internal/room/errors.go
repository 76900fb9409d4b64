package room

import "errors"

var (
	// ErrNotFound is returned when no room exists for a code
	ErrNotFound = errors.New("room not found")
	// ErrInvalidMode is returned when a create request names an unknown consensus mode
	ErrInvalidMode = errors.New("invalid consensus mode")
	// ErrUnauthorized is returned when a non-admin attempts an admin-only operation
	ErrUnauthorized = errors.New("admin role required")
	// ErrInvalidBacklog is returned when a backlog payload fails validation
	ErrInvalidBacklog = errors.New("invalid backlog")
)
