package room

import "github.com/agilecards/agilecards/internal/models"

// CreateRoomRequest represents a request to create a new room
type CreateRoomRequest struct {
	Mode    models.Mode `json:"mode"`
	Creator string      `json:"creator"`
}

// JoinStatus reports the result of a join attempt.
type JoinStatus string

const (
	JoinStatusJoined        JoinStatus = "joined"
	JoinStatusAlreadyJoined JoinStatus = "already_joined"
)

// BacklogItemInput is one unvalidated backlog entry from a client payload.
type BacklogItemInput struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty"`
}

// ExportedResults is the read-only results view of a finished (or running)
// session: the backlog carries the accumulated estimates.
type ExportedResults struct {
	Room    string               `json:"room"`
	Mode    models.Mode          `json:"mode"`
	Results []models.BacklogItem `json:"results"`
}
