package room

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilecards/agilecards/internal/models"
)

type fakeRepo struct {
	rooms map[string]*models.Room
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: make(map[string]*models.Room)}
}

func (r *fakeRepo) CreateRoom(_ context.Context, rm *models.Room) error {
	if _, ok := r.rooms[rm.Code]; ok {
		return fmt.Errorf("duplicate room code %s", rm.Code)
	}
	cp := *rm
	r.rooms[rm.Code] = &cp
	return nil
}

func (r *fakeRepo) GetRoom(_ context.Context, code string) (*models.Room, error) {
	rm, ok := r.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	cp := *rm
	cp.Players = append([]models.Player(nil), rm.Players...)
	cp.Backlog = append([]models.BacklogItem(nil), rm.Backlog...)
	return &cp, nil
}

func (r *fakeRepo) UpdateRoom(_ context.Context, rm *models.Room) error {
	if _, ok := r.rooms[rm.Code]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rm.Code)
	}
	cp := *rm
	r.rooms[rm.Code] = &cp
	return nil
}

func (r *fakeRepo) ReplaceBacklog(_ context.Context, code string, backlog []models.BacklogItem) error {
	rm, ok := r.rooms[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	rm.Backlog = backlog
	rm.CurrentIndex = 0
	return nil
}

func TestCreateRoom(t *testing.T) {
	app := NewApp(newFakeRepo())

	rm, err := app.CreateRoom(context.Background(), CreateRoomRequest{Mode: models.ModeStrict, Creator: "alice"})
	require.NoError(t, err)

	assert.Len(t, rm.Code, 6)
	for _, c := range rm.Code {
		assert.Contains(t, codeAlphabet, string(c))
	}
	require.Len(t, rm.Players, 1)
	assert.Equal(t, "alice", rm.Players[0].Username)
	assert.Equal(t, models.RoleAdmin, rm.Players[0].Role)
	assert.Empty(t, rm.Backlog)
}

func TestCreateRoomValidation(t *testing.T) {
	app := NewApp(newFakeRepo())

	_, err := app.CreateRoom(context.Background(), CreateRoomRequest{Mode: "fibonacci", Creator: "alice"})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = app.CreateRoom(context.Background(), CreateRoomRequest{Mode: models.ModeMedian})
	assert.Error(t, err)
}

func TestJoinRoomIdempotent(t *testing.T) {
	ctx := context.Background()
	app := NewApp(newFakeRepo())

	rm, err := app.CreateRoom(ctx, CreateRoomRequest{Mode: models.ModeMajority, Creator: "alice"})
	require.NoError(t, err)

	status, err := app.JoinRoom(ctx, rm.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, JoinStatusJoined, status)

	status, err = app.JoinRoom(ctx, rm.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, JoinStatusAlreadyJoined, status)

	// The admin rejoining keeps their admin role.
	status, err = app.JoinRoom(ctx, rm.Code, "alice")
	require.NoError(t, err)
	assert.Equal(t, JoinStatusAlreadyJoined, status)

	got, err := app.GetRoom(ctx, rm.Code)
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.True(t, got.IsAdmin("alice"))
	assert.False(t, got.IsAdmin("bob"))
}

func TestGetRoomNormalizesCode(t *testing.T) {
	ctx := context.Background()
	app := NewApp(newFakeRepo())

	rm, err := app.CreateRoom(ctx, CreateRoomRequest{Mode: models.ModeAverage, Creator: "alice"})
	require.NoError(t, err)

	got, err := app.GetRoom(ctx, "  "+strings.ToLower(rm.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, rm.Code, got.Code)

	_, err = app.GetRoom(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateBacklog(t *testing.T) {
	items := []BacklogItemInput{
		{Title: "  login page  ", Description: " oauth flow "},
		{ID: "fixed-id", Title: "search", Order: 7},
	}

	backlog, err := ValidateBacklog(items)
	require.NoError(t, err)
	require.Len(t, backlog, 2)

	assert.Equal(t, "login page", backlog[0].Title)
	assert.Equal(t, "oauth flow", backlog[0].Description)
	assert.NotEmpty(t, backlog[0].ID)
	assert.Equal(t, 1, backlog[0].Order)
	assert.Nil(t, backlog[0].Estimate)

	assert.Equal(t, "fixed-id", backlog[1].ID)
	assert.Equal(t, 7, backlog[1].Order)
}

func TestValidateBacklogRejections(t *testing.T) {
	_, err := ValidateBacklog(nil)
	assert.ErrorIs(t, err, ErrInvalidBacklog)

	_, err = ValidateBacklog([]BacklogItemInput{{Title: "   "}})
	assert.ErrorIs(t, err, ErrInvalidBacklog)
}

func TestValidateBacklogCapsLengths(t *testing.T) {
	items := []BacklogItemInput{{
		Title:       strings.Repeat("t", maxTitleLen+50),
		Description: strings.Repeat("d", maxDescription+50),
	}}

	backlog, err := ValidateBacklog(items)
	require.NoError(t, err)
	assert.Len(t, backlog[0].Title, maxTitleLen)
	assert.Len(t, backlog[0].Description, maxDescription)
}

func TestStartGameRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	app := NewApp(newFakeRepo())

	rm, err := app.CreateRoom(ctx, CreateRoomRequest{Mode: models.ModeStrict, Creator: "alice"})
	require.NoError(t, err)
	_, err = app.JoinRoom(ctx, rm.Code, "bob")
	require.NoError(t, err)

	err = app.StartGame(ctx, rm.Code, "bob")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, app.StartGame(ctx, rm.Code, "alice"))

	got, err := app.GetRoom(ctx, rm.Code)
	require.NoError(t, err)
	assert.True(t, got.Started)
}

func TestExportResults(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	app := NewApp(repo)

	rm, err := app.CreateRoom(ctx, CreateRoomRequest{Mode: models.ModeMedian, Creator: "alice"})
	require.NoError(t, err)

	est := "8"
	require.NoError(t, repo.ReplaceBacklog(ctx, rm.Code, []models.BacklogItem{
		{ID: "t1", Title: "done task", Estimate: &est},
		{ID: "t2", Title: "open task"},
	}))

	out, err := app.ExportResults(ctx, rm.Code)
	require.NoError(t, err)
	assert.Equal(t, rm.Code, out.Room)
	assert.Equal(t, models.ModeMedian, out.Mode)
	require.Len(t, out.Results, 2)
	require.NotNil(t, out.Results[0].Estimate)
	assert.Equal(t, "8", *out.Results[0].Estimate)
	assert.Nil(t, out.Results[1].Estimate)
}
