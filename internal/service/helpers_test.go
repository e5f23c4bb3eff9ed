package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bini59/kiko-vooster/internal/cache"
	"github.com/bini59/kiko-vooster/internal/database"
	"github.com/bini59/kiko-vooster/internal/queue"
	"github.com/bini59/kiko-vooster/internal/repository"
)

const testScript = "7f1c2d3e-aaaa-bbbb-cccc-000000000001"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

// seedSentences inserts n sentences for scriptID and returns their ids in
// order.
func seedSentences(t *testing.T, db *sql.DB, scriptID string, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s-s%02d", scriptID, i)
		_, err := db.Exec(`INSERT INTO sentences (id, script_id, order_index, text) VALUES (?, ?, ?, ?)`,
			ids[i], scriptID, i, fmt.Sprintf("sentence %d", i))
		require.NoError(t, err)
	}
	return ids
}

func seedUser(t *testing.T, db *sql.DB, id, email, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, full_name) VALUES (?, ?, ?)`, id, email, name)
	require.NoError(t, err)
}

type recordingNotifier struct {
	events chan queue.MappingEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan queue.MappingEvent, 64)}
}

func (r *recordingNotifier) Publish(_ context.Context, ev queue.MappingEvent) error {
	r.events <- ev
	return nil
}

type mappingFixture struct {
	db       *sql.DB
	repo     *repository.MappingRepo
	cache    *cache.Memory
	notifier *recordingNotifier
	svc      *MappingService
}

func newMappingFixture(t *testing.T) *mappingFixture {
	t.Helper()
	db := openTestDB(t)
	f := &mappingFixture{
		db:       db,
		repo:     repository.NewMappingRepo(db),
		cache:    cache.NewMemory(),
		notifier: newRecordingNotifier(),
	}
	f.svc = NewMappingService(f.repo, repository.NewSentenceRepo(db), f.cache, quietLogger(), MappingOptions{
		Notifier: f.notifier,
		Origin:   "test-node",
	})
	return f
}

func (f *mappingFixture) activeCount(t *testing.T, sentenceID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM sentence_mappings WHERE sentence_id = ? AND is_active = 1`, sentenceID).Scan(&n))
	return n
}

func ptr[T any](v T) *T { return &v }
