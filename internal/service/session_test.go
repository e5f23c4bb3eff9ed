package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/repository"
)

func newSessionFixture(t *testing.T) (*SessionService, *repository.SessionRepo) {
	t.Helper()
	db := openTestDB(t)
	seedUser(t, db, "user-1", "learner@example.com", "Kim Learner")
	repo := repository.NewSessionRepo(db)
	return NewSessionService(repo, repository.NewUserRepo(db), quietLogger(), 0), repo
}

func TestCreateSessionKeepsOneActivePerConnectionAndScript(t *testing.T) {
	ctx := context.Background()
	svc, repo := newSessionFixture(t)

	first, err := svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "conn-1"})
	require.NoError(t, err)
	assert.Equal(t, "sync_7f1c2d3eaaaabbbbcccc000000000001", first.RoomID)
	assert.Equal(t, model.SessionIndividual, first.SessionType)

	second, err := svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "conn-1", Position: 3})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	n, err := repo.CountActive(ctx, "conn-1", testScript)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.NotNil(t, old.LeftAt)

	// another script on the same connection is independent
	_, err = svc.CreateSession(ctx, CreateSessionInput{ScriptID: "other-script", ConnectionID: "conn-1"})
	require.NoError(t, err)
	n, err = repo.CountActive(ctx, "conn-1", testScript)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionFixture(t)

	bad := []CreateSessionInput{
		{ConnectionID: "c"},
		{ScriptID: testScript},
		{ScriptID: testScript, ConnectionID: strings.Repeat("x", 101)},
		{ScriptID: testScript, ConnectionID: "c", Position: -1},
		{ScriptID: testScript, ConnectionID: "c", SessionToken: ptr(strings.Repeat("t", 256))},
		{ScriptID: testScript, ConnectionID: "c", SessionType: "lecture"},
	}
	for _, in := range bad {
		_, err := svc.CreateSession(ctx, in)
		assert.ErrorIs(t, err, ErrValidation, "%+v", in)
	}

	_, err := svc.CreateSession(ctx, CreateSessionInput{
		ScriptID:     testScript,
		ConnectionID: strings.Repeat("x", 100),
		SessionToken: ptr(strings.Repeat("t", 255)),
		SessionType:  model.SessionClassroom,
	})
	assert.NoError(t, err)
}

func TestUpdatePosition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionFixture(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "conn-1", IsPlaying: true})
	require.NoError(t, err)

	got, err := svc.UpdatePosition(ctx, s.ID, PositionUpdate{Position: ptr(12.5)})
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.CurrentPosition)
	assert.True(t, got.IsPlaying, "unset fields are unchanged")
	assert.Nil(t, got.CurrentSentenceID)

	got, err = svc.UpdatePosition(ctx, s.ID, PositionUpdate{IsPlaying: ptr(false), SentenceID: ptr("sent-3")})
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.CurrentPosition)
	assert.False(t, got.IsPlaying)
	assert.Equal(t, "sent-3", *got.CurrentSentenceID)
	assert.False(t, got.LastActivity.Before(s.LastActivity))

	_, err = svc.UpdatePosition(ctx, s.ID, PositionUpdate{Position: ptr(-0.5)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdatePosition(ctx, "missing", PositionUpdate{Position: ptr(1.0)})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := svc.EndConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = svc.UpdatePosition(ctx, s.ID, PositionUpdate{Position: ptr(1.0)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePositionOwnedByConnection(t *testing.T) {
	ctx := context.Background()
	svc, repo := newSessionFixture(t)

	s, err := svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "conn-owner", Position: 2})
	require.NoError(t, err)

	_, err = svc.UpdatePosition(ctx, s.ID, PositionUpdate{Position: ptr(50.0), ConnectionID: ptr("conn-other")})
	assert.ErrorIs(t, err, ErrNotFound)
	stored, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.CurrentPosition)

	got, err := svc.UpdatePosition(ctx, s.ID, PositionUpdate{Position: ptr(7.5), ConnectionID: ptr("conn-owner")})
	require.NoError(t, err)
	assert.Equal(t, 7.5, got.CurrentPosition)
}

func TestListRoomParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSessionFixture(t)

	_, err := svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "c-user", UserID: ptr("user-1")})
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, CreateSessionInput{ScriptID: testScript, ConnectionID: "c-anon", Position: 4})
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, CreateSessionInput{ScriptID: "other", ConnectionID: "c-other"})
	require.NoError(t, err)

	ps, err := svc.ListRoomParticipants(ctx, testScript)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	assert.Equal(t, "c-user", ps[0].ConnectionID)
	require.NotNil(t, ps[0].UserInfo)
	assert.Equal(t, "learner@example.com", ps[0].UserInfo.Email)
	assert.Equal(t, "Kim Learner", *ps[0].UserInfo.FullName)

	assert.Equal(t, "c-anon", ps[1].ConnectionID)
	assert.Nil(t, ps[1].UserInfo)
	assert.Equal(t, 4.0, ps[1].CurrentPosition)

	_, err = svc.EndConnection(ctx, "c-user")
	require.NoError(t, err)
	ps, err = svc.ListRoomParticipants(ctx, testScript)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}
