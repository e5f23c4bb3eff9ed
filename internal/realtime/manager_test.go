package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeTransport records every frame it is asked to send.
type fakeTransport struct {
	mu     sync.Mutex
	frames []Message
	fail   atomic.Bool
	closed atomic.Int32
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	if f.fail.Load() {
		return errors.New("broken pipe")
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeTransport) types() []MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageType, 0, len(f.frames))
	for _, m := range f.frames {
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeTransport) last() Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[len(f.frames)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func newTestManager() *Manager {
	return NewManager(quietLogger(), ManagerOptions{SendTimeout: time.Second, Concurrency: 4})
}

func connect(t *testing.T, m *Manager, id, user, room string) *fakeTransport {
	t.Helper()
	ft := &fakeTransport{}
	_, err := m.Connect(ft, id, user, nil)
	require.NoError(t, err)
	if room != "" {
		require.NoError(t, m.JoinRoom(context.Background(), id, room))
	}
	return ft
}

func TestBroadcastIsolatesBrokenMember(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	a := connect(t, m, "a", "", "sync_room")
	b := connect(t, m, "b", "", "sync_room")
	c := connect(t, m, "c", "", "sync_room")
	b.fail.Store(true)
	a.reset()
	c.reset()

	n := m.BroadcastToRoom(ctx, "sync_room", NewMessage(TypePositionSync, "sync_room", map[string]any{"position": 1.5}))
	assert.Equal(t, 2, n)

	_, ok := m.Connection("b")
	assert.False(t, ok, "failed member is disconnected")
	assert.Equal(t, int32(1), b.closed.Load())
	assert.ElementsMatch(t, []string{"a", "c"}, memberIDs(m.RoomMembers("sync_room")))

	// the survivors got the broadcast and the leave of b, in either order
	assert.ElementsMatch(t, []MessageType{TypePositionSync, TypeSessionLeave}, a.types())
	assert.ElementsMatch(t, []MessageType{TypePositionSync, TypeSessionLeave}, c.types())
}

func TestBroadcastExcludesSender(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	a := connect(t, m, "a", "", "r")
	b := connect(t, m, "b", "", "r")
	a.reset()

	n := m.BroadcastToRoom(ctx, "r", NewMessage(TypeMappingUpdate, "r", nil), "a")
	assert.Equal(t, 1, n)
	assert.Empty(t, a.types())
	assert.Equal(t, TypeMappingUpdate, b.last().Type)

	assert.Equal(t, 0, m.BroadcastToRoom(ctx, "nobody-here", NewMessage(TypePing, "", nil)))
}

func TestRoomLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	a := connect(t, m, "a", "user-1", "room")
	assert.Empty(t, a.types(), "the joiner is not told about itself")

	b := connect(t, m, "b", "", "room")
	join := a.last()
	assert.Equal(t, TypeSessionJoin, join.Type)
	assert.Equal(t, "room", join.RoomID)
	assert.Equal(t, "b", join.Data["connection_id"])
	assert.Nil(t, join.Data["user_id"])
	assert.EqualValues(t, 2, join.Data["participant_count"])
	assert.Empty(t, b.types())

	require.NoError(t, m.LeaveRoom(ctx, "b", "room"))
	leave := a.last()
	assert.Equal(t, TypeSessionLeave, leave.Type)
	assert.Equal(t, "b", leave.Data["connection_id"])
	assert.EqualValues(t, 1, leave.Data["participant_count"])

	require.NoError(t, m.LeaveRoom(ctx, "a", "room"))
	assert.Empty(t, m.RoomMembers("room"))
	assert.NotContains(t, m.Stats().Rooms, "room", "empty rooms are deleted")

	assert.ErrorIs(t, m.JoinRoom(ctx, "ghost", "room"), ErrUnknownConnection)
	assert.ErrorIs(t, m.LeaveRoom(ctx, "ghost", "room"), ErrUnknownConnection)
}

func TestConnectRejectsDuplicateID(t *testing.T) {
	m := newTestManager()
	connect(t, m, "a", "", "")
	_, err := m.Connect(&fakeTransport{}, "a", "", nil)
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m := newTestManager()
	var hooks atomic.Int32
	m.OnDisconnect(func(c *Connection) {
		assert.Equal(t, "a", c.ID)
		hooks.Add(1)
	})

	a := connect(t, m, "a", "user-1", "r1")
	require.NoError(t, m.JoinRoom(context.Background(), "a", "r2"))
	b := connect(t, m, "b", "", "r1")

	assert.True(t, m.Disconnect("a"))
	assert.False(t, m.Disconnect("a"))

	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, TypeSessionLeave, b.last().Type)

	st := m.Stats()
	assert.Equal(t, 1, st.ActiveConnections)
	assert.Equal(t, int64(2), st.TotalConnections)
	assert.Equal(t, 0, st.UsersOnline)
	assert.Equal(t, map[string]int{"r1": 1}, st.Rooms)
}

func TestBroadcastToUser(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	tab1 := connect(t, m, "tab-1", "user-1", "r1")
	tab2 := connect(t, m, "tab-2", "user-1", "r2")
	other := connect(t, m, "other", "user-2", "r1")
	tab1.reset()
	other.reset()

	n := m.BroadcastToUser(ctx, "user-1", NewMessage(TypeMappingUpdate, "", nil))
	assert.Equal(t, 2, n)
	assert.Equal(t, TypeMappingUpdate, tab1.last().Type)
	assert.Equal(t, TypeMappingUpdate, tab2.last().Type)
	assert.Empty(t, other.types())
	assert.Equal(t, 2, m.Stats().UsersOnline)
}

func TestSendToUnknownConnection(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.SendTo(context.Background(), "ghost", NewMessage(TypePong, "", nil)))
}

func TestCleanupInactive(t *testing.T) {
	m := newTestManager()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	connect(t, m, "idle", "", "r")
	busy := connect(t, m, "busy", "", "r")
	c, _ := m.Connection("busy")
	c.Touch(base.Add(20 * time.Minute))

	m.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.Equal(t, 1, m.CleanupInactive(30*time.Minute))

	_, ok := m.Connection("idle")
	assert.False(t, ok)
	_, ok = m.Connection("busy")
	assert.True(t, ok)
	assert.Equal(t, TypeSessionLeave, busy.last().Type)
	assert.Equal(t, 0, m.CleanupInactive(30*time.Minute))
}

func TestMessagesSentCounter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()
	connect(t, m, "a", "", "r")
	connect(t, m, "b", "", "r") // one session_join to a

	m.BroadcastToRoom(ctx, "r", NewMessage(TypePositionSync, "r", nil))
	assert.Equal(t, int64(3), m.Stats().MessagesSent)
}

func memberIDs(ms []MemberInfo) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ConnectionID)
	}
	return out
}
