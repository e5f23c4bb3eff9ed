package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bini59/kiko-vooster/internal/database"
	"github.com/bini59/kiko-vooster/internal/model"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	for i, id := range []string{"s-a", "s-b"} {
		_, err := db.Exec(`INSERT INTO sentences (id, script_id, order_index, text) VALUES (?, 'script-1', ?, ?)`, id, i, "text "+id)
		require.NoError(t, err)
	}
	return db
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func mapping(id, sentence string, start, end float64, at time.Time) *model.SentenceMapping {
	return &model.SentenceMapping{
		ID:              id,
		SentenceID:      sentence,
		StartTime:       start,
		EndTime:         end,
		ConfidenceScore: 1,
		MappingType:     model.MappingManual,
		IsActive:        true,
		Metadata:        map[string]any{"src": "test"},
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func edit(id, sentence string, at time.Time) *model.MappingEdit {
	return &model.MappingEdit{ID: id, SentenceID: sentence, EditType: model.EditManual, CreatedAt: at}
}

func TestMappingRepoReplace(t *testing.T) {
	ctx := context.Background()
	r := NewMappingRepo(openDB(t))

	_, err := r.ActiveBySentence(ctx, "s-a")
	assert.ErrorIs(t, err, ErrNotFound)

	first := mapping("m1", "s-a", 0, 2, t0)
	require.NoError(t, r.Replace(ctx, nil, first, edit("e1", "s-a", t0)))

	got, err := r.ActiveBySentence(ctx, "s-a")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "test", got.Metadata["src"])
	assert.Nil(t, got.CreatedBy)

	// a second insert without deactivating the first hits the unique index
	err = r.Replace(ctx, nil, mapping("m-race", "s-a", 1, 2, t0), edit("e-race", "s-a", t0))
	assert.ErrorIs(t, err, ErrConflict)

	second := mapping("m2", "s-a", 0, 3, t0.Add(time.Second))
	require.NoError(t, r.Replace(ctx, first, second, edit("e2", "s-a", t0.Add(time.Second))))

	// first is no longer active
	err = r.Replace(ctx, first, mapping("m3", "s-a", 0, 4, t0), edit("e3", "s-a", t0))
	assert.ErrorIs(t, err, ErrConflict)

	n, err := r.CountEdits(ctx, "s-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "failed writes leave no audit rows")

	edits, err := r.ListEdits(ctx, "s-a", 10)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "e2", edits[0].ID)

	require.NoError(t, r.Replace(ctx, second, nil, edit("e4", "s-a", t0.Add(2*time.Second))))
	_, err = r.ActiveBySentence(ctx, "s-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappingRepoListByScript(t *testing.T) {
	ctx := context.Background()
	r := NewMappingRepo(openDB(t))

	b := mapping("mb", "s-b", 5, 6, t0)
	require.NoError(t, r.Replace(ctx, nil, b, edit("e1", "s-b", t0)))
	a1 := mapping("ma1", "s-a", 0, 1, t0)
	require.NoError(t, r.Replace(ctx, nil, a1, edit("e2", "s-a", t0)))
	require.NoError(t, r.Replace(ctx, a1, mapping("ma2", "s-a", 0, 2, t0.Add(time.Minute)), edit("e3", "s-a", t0.Add(time.Minute))))

	active, err := r.ListByScript(ctx, "script-1", false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ma2", active[0].ID)
	assert.Equal(t, 0, active[0].OrderIndex)
	assert.Equal(t, "text s-a", active[0].SentenceText)
	assert.Equal(t, "mb", active[1].ID)

	all, err := r.ListByScript(ctx, "script-1", true)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, m := range all {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"ma2", "ma1", "mb"}, ids)

	none, err := r.ListByScript(ctx, "other", true)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessionRepo(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	r := NewSessionRepo(db)

	newSession := func(id, conn string, at time.Time) *model.SyncSession {
		return &model.SyncSession{
			ID:           id,
			ScriptID:     "script-1",
			ConnectionID: conn,
			RoomID:       model.RoomID("script-1"),
			SessionType:  model.SessionIndividual,
			JoinedAt:     at,
			LastActivity: at,
		}
	}
	require.NoError(t, r.Create(ctx, newSession("x1", "c1", t0)))
	require.NoError(t, r.Create(ctx, newSession("x2", "c1", t0.Add(time.Second))))
	require.NoError(t, r.Create(ctx, newSession("y1", "c2", t0.Add(2*time.Second))))

	n, err := r.CountActive(ctx, "c1", "script-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := r.GetByID(ctx, "x1")
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	require.NotNil(t, old.LeftAt)

	_, err = r.UpdatePosition(ctx, "x1", PositionPatch{Position: ptr(3.0)}, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := r.UpdatePosition(ctx, "x2", PositionPatch{Position: ptr(12.5), SentenceID: ptr("s-b")}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 12.5, s.CurrentPosition)
	assert.False(t, s.IsPlaying)
	require.NotNil(t, s.CurrentSentenceID)
	assert.Equal(t, "s-b", *s.CurrentSentenceID)
	assert.True(t, s.LastActivity.Equal(t0.Add(time.Minute)))

	// another connection cannot move y1
	_, err = r.UpdatePosition(ctx, "y1", PositionPatch{Position: ptr(99.0), ConnectionID: ptr("c1")}, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
	y, err := r.GetByID(ctx, "y1")
	require.NoError(t, err)
	assert.Zero(t, y.CurrentPosition)
	y, err = r.UpdatePosition(ctx, "y1", PositionPatch{Position: ptr(4.0), ConnectionID: ptr("c2")}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4.0, y.CurrentPosition)

	active, err := r.ListActiveByScript(ctx, "script-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "x2", active[0].ID)
	assert.Equal(t, "y1", active[1].ID)

	ended, err := r.DeactivateConnection(ctx, "c1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, ended)
	ended, err = r.DeactivateConnection(ctx, "c1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, ended)
}

func TestUserRepoProfiles(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	_, err := db.Exec(`INSERT INTO users (id, email, full_name) VALUES ('u1', 'ana@example.com', 'Ana'), ('u2', 'bo@example.com', NULL)`)
	require.NoError(t, err)
	r := NewUserRepo(db)

	u, err := r.GetByEmail(ctx, "  ANA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	require.NotNil(t, u.FullName)
	assert.Equal(t, "Ana", *u.FullName)

	_, err = r.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	profiles, err := r.ProfilesByID(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Nil(t, profiles["u2"].FullName)

	empty, err := r.ProfilesByID(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSentenceRepo(t *testing.T) {
	ctx := context.Background()
	r := NewSentenceRepo(openDB(t))

	script, err := r.ScriptIDForSentence(ctx, "s-b")
	require.NoError(t, err)
	assert.Equal(t, "script-1", script)

	_, err = r.ScriptIDForSentence(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ss, err := r.ListByScript(ctx, "script-1")
	require.NoError(t, err)
	require.Len(t, ss, 2)
	assert.Equal(t, "s-a", ss[0].ID)
	assert.Equal(t, 1, ss[1].OrderIndex)
}

func ptr[T any](v T) *T { return &v }
