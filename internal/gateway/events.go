package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/agilecards/agilecards/internal/consensus"
	"github.com/agilecards/agilecards/internal/models"
	"github.com/agilecards/agilecards/internal/session"
)

// ClientEventType tags an inbound message. The set is closed: anything else
// is answered with an error event rather than silently dropped.
type ClientEventType string

const (
	ClientEventVote        ClientEventType = "vote"
	ClientEventReveal      ClientEventType = "reveal"
	ClientEventForceReveal ClientEventType = "force_reveal"
	ClientEventCoffee      ClientEventType = "coffee"
	ClientEventResume      ClientEventType = "resume"
	ClientEventStart       ClientEventType = "start"
	ClientEventChat        ClientEventType = "chat"
)

// ClientEvent is the decoded inbound message. Value is set for vote events,
// Message for chat events.
type ClientEvent struct {
	Type    ClientEventType `json:"type"`
	Value   string          `json:"value,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DecodeClientEvent parses an inbound frame and checks its type tag against
// the closed event set.
func DecodeClientEvent(data []byte) (*ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	switch ev.Type {
	case ClientEventVote, ClientEventReveal, ClientEventForceReveal,
		ClientEventCoffee, ClientEventResume, ClientEventStart, ClientEventChat:
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// Server event type tags.
const (
	ServerEventSnapshot     = "snapshot"
	ServerEventPresence     = "presence"
	ServerEventVoted        = "voted"
	ServerEventReveal       = "reveal"
	ServerEventPause        = "pause_event"
	ServerEventResume       = "resume_event"
	ServerEventChat         = "chat"
	ServerEventVotesUpdated = "votes_updated"
	ServerEventAIAnalysis   = "ai_analysis"
	ServerEventError        = "error"
)

// SnapshotEvent carries the current round view.
type SnapshotEvent struct {
	Type string `json:"type"`
	session.Snapshot
}

// PresenceEvent reports a username transitioning on or off line.
type PresenceEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// VotedEvent reports voting progress without exposing ballots.
type VotedEvent struct {
	Type string `json:"type"`
	session.VoteProgress
}

// RevealEvent carries a reveal resolution.
type RevealEvent struct {
	Type   string              `json:"type"`
	Status consensus.Status    `json:"status"`
	Result string              `json:"result,omitempty"`
	Done   bool                `json:"done"`
	Next   *models.BacklogItem `json:"next,omitempty"`
}

// PauseEvent announces a session pause.
type PauseEvent struct {
	Type     string `json:"type"`
	PausedBy string `json:"pausedBy"`
}

// ResumeEvent announces a session resume.
type ResumeEvent struct {
	Type string `json:"type"`
}

// ChatEvent relays a chat line. Chat is not persisted.
type ChatEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// VotesUpdatedEvent exposes the round's ballots once a reveal resolution
// makes them public.
type VotesUpdatedEvent struct {
	Type   string            `json:"type"`
	Votes  map[string]string `json:"votes"`
	Counts map[string]int    `json:"counts"`
}

// AIAnalysisEvent relays the advisory hook's verdict on a full ballot.
type AIAnalysisEvent struct {
	Type          string         `json:"type"`
	Analysis      string         `json:"analysis"`
	VoteSummary   map[string]int `json:"voteSummary"`
	TotalVotes    int            `json:"totalVotes"`
	RequiredVotes int            `json:"requiredVotes"`
}

// ErrorEvent reports a rejected operation to the offending client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newSnapshotEvent(s *session.Snapshot) SnapshotEvent {
	return SnapshotEvent{Type: ServerEventSnapshot, Snapshot: *s}
}

func newVotedEvent(p *session.VoteProgress) VotedEvent {
	return VotedEvent{Type: ServerEventVoted, VoteProgress: *p}
}

func newRevealEvent(r *session.RevealResult) RevealEvent {
	return RevealEvent{
		Type:   ServerEventReveal,
		Status: r.Status,
		Result: r.Result,
		Done:   r.Done,
		Next:   r.Next,
	}
}

func newErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: ServerEventError, Message: message}
}
