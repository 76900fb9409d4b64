package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecards/agilecards/internal/consensus"
	"github.com/agilecards/agilecards/internal/models"
	"github.com/agilecards/agilecards/internal/room"
	"github.com/agilecards/agilecards/internal/vote"
)

// memRoomStore is an in-memory RoomStore. GetRoom returns a deep copy the
// way a real store would, so mutations only land through UpdateRoom.
type memRoomStore struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	votes *memVoteRepo
}

func newMemRoomStore(votes *memVoteRepo) *memRoomStore {
	return &memRoomStore{rooms: make(map[string]*models.Room), votes: votes}
}

func (s *memRoomStore) put(rm *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rm.Code] = rm
}

func (s *memRoomStore) GetRoom(_ context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", room.ErrNotFound, code)
	}
	cp := *rm
	cp.Players = append([]models.Player(nil), rm.Players...)
	cp.Backlog = append([]models.BacklogItem(nil), rm.Backlog...)
	return &cp, nil
}

func (s *memRoomStore) UpdateRoom(_ context.Context, rm *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[rm.Code]; !ok {
		return fmt.Errorf("%w: %s", room.ErrNotFound, rm.Code)
	}
	cp := *rm
	s.rooms[rm.Code] = &cp
	return nil
}

func (s *memRoomStore) ReplaceBacklog(_ context.Context, code string, backlog []models.BacklogItem) error {
	s.mu.Lock()
	rm, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", room.ErrNotFound, code)
	}
	rm.Backlog = backlog
	rm.CurrentIndex = 0
	s.mu.Unlock()
	return s.votes.DeleteAllVotes(context.Background(), code)
}

// memVoteRepo is an in-memory vote.VoteRepository preserving submission
// order.
type memVoteRepo struct {
	mu    sync.Mutex
	votes map[string][]models.Vote // key: code/index
}

func newMemVoteRepo() *memVoteRepo {
	return &memVoteRepo{votes: make(map[string][]models.Vote)}
}

func voteKey(code string, taskIndex int) string {
	return fmt.Sprintf("%s/%d", code, taskIndex)
}

func (r *memVoteRepo) UpsertVote(_ context.Context, code, username string, taskIndex int, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := voteKey(code, taskIndex)
	for i, v := range r.votes[key] {
		if v.Username == username {
			r.votes[key][i].Value = value
			return nil
		}
	}
	r.votes[key] = append(r.votes[key], models.Vote{Username: username, TaskIndex: taskIndex, Value: value})
	return nil
}

func (r *memVoteRepo) CountVotes(_ context.Context, code string, taskIndex int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes[voteKey(code, taskIndex)]), nil
}

func (r *memVoteRepo) ListVotes(_ context.Context, code string, taskIndex int) ([]models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Vote(nil), r.votes[voteKey(code, taskIndex)]...), nil
}

func (r *memVoteRepo) DeleteVotes(_ context.Context, code string, taskIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.votes, voteKey(code, taskIndex))
	return nil
}

func (r *memVoteRepo) DeleteAllVotes(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.votes {
		if len(key) > len(code) && key[:len(code)] == code && key[len(code)] == '/' {
			delete(r.votes, key)
		}
	}
	return nil
}

func testRoom(code string, mode models.Mode, usernames ...string) *models.Room {
	players := make([]models.Player, len(usernames))
	for i, u := range usernames {
		role := models.RolePlayer
		if i == 0 {
			role = models.RoleAdmin
		}
		players[i] = models.Player{Username: u, Role: role}
	}
	return &models.Room{
		Code:    code,
		Mode:    mode,
		Players: players,
		Backlog: []models.BacklogItem{
			{ID: "t1", Title: "first task", Order: 1},
			{ID: "t2", Title: "second task", Order: 2},
		},
	}
}

func setup(t *testing.T, rm *models.Room) (*Registry, *Handle, *memRoomStore) {
	t.Helper()

	voteRepo := newMemVoteRepo()
	store := newMemRoomStore(voteRepo)
	store.put(rm)

	reg := NewRegistry(store, vote.NewApp(voteRepo))
	h, err := reg.Acquire(context.Background(), rm.Code)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Release(h) })
	return reg, h, store
}

func TestSubmitVoteOverwrites(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	p, err := h.SubmitVote(ctx, "alice", "5")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Voters)

	// Resubmission replaces, never duplicates.
	p, err = h.SubmitVote(ctx, "alice", "8")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Voters)
	assert.Equal(t, 2, p.Total)

	votes, _, _, err := h.CurrentBallot(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "8", votes[0].Value)
}

func TestSubmitVoteRejections(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "7")
	assert.ErrorIs(t, err, vote.ErrInvalidValue)

	_, err = h.SubmitVote(ctx, "mallory", "5")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestRevealRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "5")
	require.NoError(t, err)
	_, err = h.SubmitVote(ctx, "bob", "8")
	require.NoError(t, err)

	_, err = h.Reveal(ctx, "bob", false)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := h.Reveal(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusValidated, res.Status)
	assert.Equal(t, "5", res.Result)

	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Index)
	assert.False(t, snap.Done)
}

func TestRevealWaitsForQuorum(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeAverage, "alice", "bob", "carol"))

	_, err := h.SubmitVote(ctx, "alice", "3")
	require.NoError(t, err)
	_, err = h.SubmitVote(ctx, "bob", "5")
	require.NoError(t, err)

	res, err := h.Reveal(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusWait, res.Status)
	assert.Nil(t, res.Votes)

	// Forced reveal resolves with the votes present.
	res, err = h.Reveal(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusValidated, res.Status)
	assert.Equal(t, "4", res.Result)
}

func TestRevealWithNoVotesWaits(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeStrict, "alice"))

	res, err := h.Reveal(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusWait, res.Status)
}

func TestStrictRevoteClearsLedger(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeStrict, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "5")
	require.NoError(t, err)
	_, err = h.SubmitVote(ctx, "bob", "8")
	require.NoError(t, err)

	res, err := h.Reveal(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusRevote, res.Status)

	// The index did not advance and the ledger is empty.
	votes, idx, _, err := h.CurrentBallot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Empty(t, votes)
}

func TestAllCoffeeKeepsProgress(t *testing.T) {
	ctx := context.Background()
	_, h, store := setup(t, testRoom("AAAAAA", models.ModeStrict, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "coffee")
	require.NoError(t, err)
	_, err = h.SubmitVote(ctx, "bob", "coffee")
	require.NoError(t, err)

	res, err := h.Reveal(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, consensus.StatusCoffee, res.Status)

	rm, err := store.GetRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 0, rm.CurrentIndex)
	assert.Nil(t, rm.Backlog[0].Estimate)
}

func TestPauseBlocksVoteAndReveal(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	require.NoError(t, h.Pause(ctx, "bob"))

	_, err := h.SubmitVote(ctx, "alice", "5")
	assert.ErrorIs(t, err, ErrSessionPaused)
	_, err = h.Reveal(ctx, "alice", false)
	assert.ErrorIs(t, err, ErrSessionPaused)
	_, err = h.Reveal(ctx, "alice", true)
	assert.ErrorIs(t, err, ErrSessionPaused)

	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.IsPaused)
	assert.Equal(t, "bob", snap.PausedBy)

	// Resume always succeeds and unblocks the round.
	require.NoError(t, h.Resume(ctx))
	require.NoError(t, h.Resume(ctx))

	_, err = h.SubmitVote(ctx, "alice", "5")
	assert.NoError(t, err)
}

func TestEstimateIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	_, h, store := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice"))

	_, err := h.SubmitVote(ctx, "alice", "13")
	require.NoError(t, err)
	res, err := h.Reveal(ctx, "alice", false)
	require.NoError(t, err)
	require.Equal(t, consensus.StatusValidated, res.Status)

	rm, err := store.GetRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	require.NotNil(t, rm.Backlog[0].Estimate)
	assert.Equal(t, "13", *rm.Backlog[0].Estimate)
	assert.Equal(t, 1, rm.CurrentIndex)
}

func TestSessionCompletes(t *testing.T) {
	ctx := context.Background()
	_, h, _ := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice"))

	for i := 0; i < 2; i++ {
		_, err := h.SubmitVote(ctx, "alice", "5")
		require.NoError(t, err)
		res, err := h.Reveal(ctx, "alice", false)
		require.NoError(t, err)
		require.Equal(t, consensus.StatusValidated, res.Status)
	}

	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Done)

	_, err = h.SubmitVote(ctx, "alice", "5")
	assert.ErrorIs(t, err, ErrSessionComplete)
	_, err = h.Reveal(ctx, "alice", false)
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestConcurrentRevealsAdvanceOnce(t *testing.T) {
	ctx := context.Background()
	_, h, store := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "5")
	require.NoError(t, err)
	_, err = h.SubmitVote(ctx, "bob", "5")
	require.NoError(t, err)

	// Two racing reveals: exactly one resolves the round, the other must
	// observe the already-advanced index (and wait on the empty next round).
	var wg sync.WaitGroup
	results := make([]consensus.Status, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.Reveal(ctx, "alice", false)
			if err == nil {
				results[i] = res.Status
			}
		}(i)
	}
	wg.Wait()

	validated := 0
	for _, status := range results {
		if status == consensus.StatusValidated {
			validated++
		}
	}
	assert.Equal(t, 1, validated)

	rm, err := store.GetRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 1, rm.CurrentIndex)
}

func TestReplaceBacklogResetsProgress(t *testing.T) {
	ctx := context.Background()
	_, h, store := setup(t, testRoom("AAAAAA", models.ModeMajority, "alice", "bob"))

	_, err := h.SubmitVote(ctx, "alice", "13")
	require.NoError(t, err)

	_, err = h.ReplaceBacklog(ctx, "bob", []room.BacklogItemInput{{Title: "new task"}})
	assert.ErrorIs(t, err, ErrUnauthorized)

	count, err := h.ReplaceBacklog(ctx, "alice", []room.BacklogItemInput{{Title: "new task"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rm, err := store.GetRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, 0, rm.CurrentIndex)
	require.Len(t, rm.Backlog, 1)

	votes, _, _, err := h.CurrentBallot(ctx)
	require.NoError(t, err)
	assert.Empty(t, votes)
}
