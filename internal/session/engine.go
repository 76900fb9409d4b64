package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/consensus"
	"github.com/agilecards/agilecards/internal/models"
	"github.com/agilecards/agilecards/internal/room"
)

// Snapshot is the view of the current round pushed to clients on attach and
// on start requests. Index is 1-based for display.
type Snapshot struct {
	Done     bool                `json:"done"`
	Current  *models.BacklogItem `json:"current"`
	Total    int                 `json:"total"`
	Index    int                 `json:"index"`
	IsPaused bool                `json:"isPaused"`
	PausedBy string              `json:"pausedBy,omitempty"`
}

// VoteProgress reports how many players have voted on the current item.
type VoteProgress struct {
	Voters int `json:"voters"`
	Total  int `json:"total"`
}

// QuorumReached reports whether every player has now voted.
func (p VoteProgress) QuorumReached() bool {
	return p.Total > 0 && p.Voters >= p.Total
}

// RevealResult is the applied outcome of a reveal attempt. Votes and Counts
// expose the round's ballots once the resolution makes them public (every
// status except wait).
type RevealResult struct {
	Status consensus.Status    `json:"status"`
	Result string              `json:"result,omitempty"`
	Done   bool                `json:"done"`
	Next   *models.BacklogItem `json:"next,omitempty"`
	Index  int                 `json:"index"`
	Votes  map[string]string   `json:"votes,omitempty"`
	Counts map[string]int      `json:"counts,omitempty"`
}

// Snapshot returns the current round view without mutating anything.
func (h *Handle) Snapshot(ctx context.Context) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return nil, err
	}
	return snapshotOf(rm), nil
}

func snapshotOf(rm *models.Room) *Snapshot {
	s := &Snapshot{
		Done:     rm.Done(),
		Total:    len(rm.Backlog),
		Index:    rm.CurrentIndex,
		IsPaused: rm.IsPaused,
		PausedBy: rm.PausedBy,
	}
	if !s.Done {
		s.Current = rm.Current()
		s.Index = rm.CurrentIndex + 1
	}
	return s
}

// SubmitVote records username's card for the current item, overwriting any
// prior submission. Rejected while paused, after the last item, for values
// outside the card set, and for identities outside the player list.
func (h *Handle) SubmitVote(ctx context.Context, username, value string) (*VoteProgress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return nil, err
	}
	if rm.IsPaused {
		return nil, ErrSessionPaused
	}
	if rm.Done() {
		return nil, ErrSessionComplete
	}
	if !rm.HasPlayer(username) {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, username)
	}

	if err := h.reg.votes.RecordVote(ctx, h.code, username, rm.CurrentIndex, value); err != nil {
		return nil, err
	}

	count, err := h.reg.votes.CountVotes(ctx, h.code, rm.CurrentIndex)
	if err != nil {
		return nil, err
	}
	return &VoteProgress{Voters: count, Total: len(rm.Players)}, nil
}

// Reveal resolves the current round. Only admins may reveal; the round timer
// reveals through RevealSystem instead. The resolver runs and its outcome is
// applied while the room lock is held, so racing reveals observe each
// other's mutations atomically.
func (h *Handle) Reveal(ctx context.Context, username string, force bool) (*RevealResult, error) {
	return h.reveal(ctx, &username, force)
}

// RevealSystem is a forced reveal on behalf of the service itself, used by
// the round timer. It bypasses the admin check but not the pause gate.
func (h *Handle) RevealSystem(ctx context.Context) (*RevealResult, error) {
	return h.reveal(ctx, nil, true)
}

func (h *Handle) reveal(ctx context.Context, username *string, force bool) (*RevealResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return nil, err
	}
	if username != nil && !rm.IsAdmin(*username) {
		return nil, fmt.Errorf("%w: only admin can reveal", ErrUnauthorized)
	}
	if rm.IsPaused {
		return nil, ErrSessionPaused
	}
	if rm.Done() {
		return nil, ErrSessionComplete
	}

	idx := rm.CurrentIndex
	votes, err := h.reg.votes.ListVotes(ctx, h.code, idx)
	if err != nil {
		return nil, err
	}
	// The resolver is never invoked with an empty ballot.
	if len(votes) == 0 {
		return &RevealResult{Status: consensus.StatusWait, Index: idx}, nil
	}

	values := make([]string, len(votes))
	for i, v := range votes {
		values[i] = v.Value
	}

	out := consensus.Resolve(rm.Mode, values, len(rm.Players), force)
	res := &RevealResult{Status: out.Status, Result: out.Result, Index: idx}

	switch out.Status {
	case consensus.StatusValidated, consensus.StatusSkipped:
		if out.Status == consensus.StatusValidated {
			// Estimate is write-once for a given index.
			if rm.Backlog[idx].Estimate == nil {
				est := out.Result
				rm.Backlog[idx].Estimate = &est
			}
		}
		rm.CurrentIndex++
		if err := h.reg.rooms.UpdateRoom(ctx, rm); err != nil {
			return nil, err
		}
		if err := h.reg.votes.ClearVotes(ctx, h.code, idx); err != nil {
			return nil, err
		}
		res.Done = rm.Done()
		res.Next = rm.Current()
		res.Votes, res.Counts = ballot(votes)

	case consensus.StatusRevote:
		if err := h.reg.votes.ClearVotes(ctx, h.code, idx); err != nil {
			return nil, err
		}
		res.Votes, res.Counts = ballot(votes)

	case consensus.StatusCoffee:
		res.Votes, res.Counts = ballot(votes)

	case consensus.StatusWait:
		// No mutation, ballots stay hidden.
	}

	log.Info().
		Str("room_code", h.code).
		Int("task_index", idx).
		Str("status", string(res.Status)).
		Str("result", res.Result).
		Bool("force", force).
		Msg("reveal resolved")
	return res, nil
}

// Pause marks the session paused. Votes and reveals are rejected until a
// resume; chat and presence stay live.
func (h *Handle) Pause(ctx context.Context, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return err
	}
	if !rm.HasPlayer(username) {
		return fmt.Errorf("%w: %s", ErrNotMember, username)
	}

	rm.IsPaused = true
	rm.PausedBy = username
	if err := h.reg.rooms.UpdateRoom(ctx, rm); err != nil {
		return err
	}

	log.Info().Str("room_code", h.code).Str("paused_by", username).Msg("session paused")
	return nil
}

// Resume clears the pause state. It succeeds regardless of whether the
// session was paused.
func (h *Handle) Resume(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return err
	}

	rm.IsPaused = false
	rm.PausedBy = ""
	if err := h.reg.rooms.UpdateRoom(ctx, rm); err != nil {
		return err
	}

	log.Info().Str("room_code", h.code).Msg("session resumed")
	return nil
}

// ReplaceBacklog swaps the room's backlog, resets progress, and clears all
// votes, as one serialized operation so it cannot race a vote or reveal.
// Admin only.
func (h *Handle) ReplaceBacklog(ctx context.Context, username string, items []room.BacklogItemInput) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return 0, err
	}
	if !rm.IsAdmin(username) {
		return 0, fmt.Errorf("%w: only admin can set backlog", ErrUnauthorized)
	}

	backlog, err := room.ValidateBacklog(items)
	if err != nil {
		return 0, err
	}
	if err := h.reg.rooms.ReplaceBacklog(ctx, h.code, backlog); err != nil {
		return 0, err
	}

	log.Info().Str("room_code", h.code).Int("items", len(backlog)).Msg("backlog replaced")
	return len(backlog), nil
}

// CurrentBallot returns the votes submitted for the current item in
// submission order, together with the item's index and the room's player
// count. Used by the advisory hook once quorum is reached.
func (h *Handle) CurrentBallot(ctx context.Context) ([]models.Vote, int, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, err := h.reg.rooms.GetRoom(ctx, h.code)
	if err != nil {
		return nil, 0, 0, err
	}
	if rm.Done() {
		return nil, 0, 0, ErrSessionComplete
	}

	votes, err := h.reg.votes.ListVotes(ctx, h.code, rm.CurrentIndex)
	if err != nil {
		return nil, 0, 0, err
	}
	return votes, rm.CurrentIndex, len(rm.Players), nil
}

func ballot(votes []models.Vote) (map[string]string, map[string]int) {
	byUser := make(map[string]string, len(votes))
	counts := make(map[string]int, len(votes))
	for _, v := range votes {
		byUser[v.Username] = v.Value
		counts[v.Value]++
	}
	return byUser, counts
}
