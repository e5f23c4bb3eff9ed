package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrUnknownConnection   = errors.New("unknown connection")
)

// ManagerOptions tunes fan-out.  Zero values get defaults.
type ManagerOptions struct {
	SendTimeout time.Duration // per-send deadline, default 5s
	Concurrency int           // parallel sends per broadcast, default 32
}

// Manager is the registry of live connections, their rooms and the users
// behind them.  All maps are guarded by mu; sends happen outside the lock
// on a snapshot of the recipients.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]struct{}
	users map[string]map[string]struct{}

	totalConnections atomic.Int64
	messagesSent     atomic.Int64

	hookMu       sync.RWMutex
	onDisconnect []func(*Connection)

	opt ManagerOptions
	log logrus.FieldLogger
	now func() time.Time
}

func NewManager(log logrus.FieldLogger, opt ManagerOptions) *Manager {
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 5 * time.Second
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = 32
	}
	return &Manager{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
		opt:   opt,
		log:   log.WithField("component", "ws_manager"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// OnDisconnect registers fn to run after a connection has been removed.
// Hooks run on the disconnecting goroutine and must not block for long.
func (m *Manager) OnDisconnect(fn func(*Connection)) {
	m.hookMu.Lock()
	m.onDisconnect = append(m.onDisconnect, fn)
	m.hookMu.Unlock()
}

// Connect registers a transport under id.
func (m *Manager) Connect(t Transport, id, userID string, clientInfo map[string]any) (*Connection, error) {
	now := m.now()
	c := &Connection{
		ID:           id,
		UserID:       userID,
		ClientInfo:   clientInfo,
		ConnectedAt:  now,
		transport:    t,
		rooms:        make(map[string]struct{}),
		lastActivity: now,
		lastPong:     now,
	}

	m.mu.Lock()
	if _, ok := m.conns[id]; ok {
		m.mu.Unlock()
		return nil, ErrDuplicateConnection
	}
	m.conns[id] = c
	if userID != "" {
		set, ok := m.users[userID]
		if !ok {
			set = make(map[string]struct{})
			m.users[userID] = set
		}
		set[id] = struct{}{}
	}
	active := len(m.conns)
	m.mu.Unlock()

	m.totalConnections.Add(1)
	m.log.WithFields(logrus.Fields{"connection_id": id, "user_id": userID, "active": active}).Info("websocket connected")
	return c, nil
}

// Connection returns the live connection registered under id.
func (m *Manager) Connection(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// JoinRoom adds a connection to a room, creating the room if needed, and
// announces the join to the other members.
func (m *Manager) JoinRoom(ctx context.Context, id, roomID string) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[roomID] = members
	}
	members[id] = struct{}{}
	c.rooms[roomID] = struct{}{}
	count := len(members)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"connection_id": id, "room_id": roomID, "participants": count}).Debug("joined room")
	m.BroadcastToRoom(ctx, roomID, NewMessage(TypeSessionJoin, roomID, map[string]any{
		"connection_id":     id,
		"user_id":           idOrNil(c.UserID),
		"joined_at":         m.now(),
		"participant_count": count,
	}), id)
	return nil
}

// LeaveRoom removes a connection from a room and announces it to the
// remaining members.  Empty rooms are deleted.
func (m *Manager) LeaveRoom(ctx context.Context, id, roomID string) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	count, left := m.leaveLocked(c, roomID)
	m.mu.Unlock()

	if left {
		m.announceLeave(ctx, id, roomID, count)
	}
	return nil
}

// leaveLocked drops c from roomID and reports the remaining member count.
// Caller holds m.mu.
func (m *Manager) leaveLocked(c *Connection, roomID string) (int, bool) {
	if _, ok := c.rooms[roomID]; !ok {
		return 0, false
	}
	delete(c.rooms, roomID)
	members := m.rooms[roomID]
	delete(members, c.ID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
		return 0, true
	}
	return len(members), true
}

func (m *Manager) announceLeave(ctx context.Context, id, roomID string, count int) {
	m.log.WithFields(logrus.Fields{"connection_id": id, "room_id": roomID, "participants": count}).Debug("left room")
	if count == 0 {
		return
	}
	m.BroadcastToRoom(ctx, roomID, NewMessage(TypeSessionLeave, roomID, map[string]any{
		"connection_id":     id,
		"left_at":           m.now(),
		"participant_count": count,
	}))
}

// Disconnect removes a connection from every room and index, closes its
// transport and runs the disconnect hooks.  It reports whether the
// connection was registered; calling it again is a no-op.
func (m *Manager) Disconnect(id string) bool {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	type leave struct {
		room  string
		count int
	}
	var left []leave
	for roomID := range c.rooms {
		count, _ := m.leaveLocked(c, roomID)
		left = append(left, leave{roomID, count})
	}
	if c.UserID != "" {
		if set, ok := m.users[c.UserID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.users, c.UserID)
			}
		}
	}
	delete(m.conns, id)
	active := len(m.conns)
	m.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		m.log.WithError(err).WithField("connection_id", id).Debug("transport close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opt.SendTimeout)
	defer cancel()
	for _, l := range left {
		m.announceLeave(ctx, id, l.room, l.count)
	}

	m.hookMu.RLock()
	hooks := append([]func(*Connection){}, m.onDisconnect...)
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}

	m.log.WithFields(logrus.Fields{"connection_id": id, "active": active}).Info("websocket disconnected")
	return true
}

// SendTo delivers msg to one connection.  A failed send disconnects the
// connection; the result reports delivery.
func (m *Manager) SendTo(ctx context.Context, id string, msg Message) bool {
	c, ok := m.Connection(id)
	if !ok {
		m.log.WithField("connection_id", id).Debug("send to unknown connection")
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.WithError(err).WithField("type", msg.Type).Error("encode frame")
		return false
	}
	return m.send(ctx, c, data)
}

func (m *Manager) send(ctx context.Context, c *Connection, data []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opt.SendTimeout)
	defer cancel()
	if err := c.transport.Send(ctx, data); err != nil {
		m.log.WithError(err).WithField("connection_id", c.ID).Warn("send failed, disconnecting")
		m.Disconnect(c.ID)
		return false
	}
	m.messagesSent.Add(1)
	return true
}

// BroadcastToRoom sends msg to every member of a room except the excluded
// ids and returns how many sends succeeded.  Sends run concurrently; one
// slow or broken member does not affect the others.
func (m *Manager) BroadcastToRoom(ctx context.Context, roomID string, msg Message, exclude ...string) int {
	m.mu.RLock()
	members := m.rooms[roomID]
	targets := make([]*Connection, 0, len(members))
	for id := range members {
		if contains(exclude, id) {
			continue
		}
		if c, ok := m.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	return m.fanOut(ctx, targets, msg)
}

// BroadcastToUser sends msg to every connection of a user.
func (m *Manager) BroadcastToUser(ctx context.Context, userID string, msg Message) int {
	m.mu.RLock()
	ids := m.users[userID]
	targets := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	return m.fanOut(ctx, targets, msg)
}

func (m *Manager) fanOut(ctx context.Context, targets []*Connection, msg Message) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.WithError(err).WithField("type", msg.Type).Error("encode frame")
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.opt.Concurrency)
	for _, c := range targets {
		g.Go(func() error {
			if m.send(ctx, c, data) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

// CleanupInactive disconnects connections without inbound activity for
// longer than timeout and returns how many were removed.
func (m *Manager) CleanupInactive(timeout time.Duration) int {
	cutoff := m.now().Add(-timeout)
	m.mu.RLock()
	var stale []string
	for id, c := range m.conns {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Disconnect(id) {
			n++
		}
	}
	if n > 0 {
		m.log.WithField("count", n).Info("cleaned up inactive connections")
	}
	return n
}

// RunJanitor calls CleanupInactive every interval until ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval, timeout time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CleanupInactive(timeout)
		}
	}
}

// CloseAll disconnects every connection.  Used on shutdown.
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if m.Disconnect(id) {
			n++
		}
	}
	return n
}

// MemberInfo describes one room member.
type MemberInfo struct {
	ConnectionID string         `json:"connection_id"`
	UserID       *string        `json:"user_id"`
	ConnectedAt  time.Time      `json:"connected_at"`
	LastActivity time.Time      `json:"last_activity"`
	ClientInfo   map[string]any `json:"client_info"`
}

// RoomMembers lists the live members of a room.
func (m *Manager) RoomMembers(roomID string) []MemberInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MemberInfo, 0, len(m.rooms[roomID]))
	for id := range m.rooms[roomID] {
		c, ok := m.conns[id]
		if !ok {
			continue
		}
		info := MemberInfo{
			ConnectionID: id,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity(),
			ClientInfo:   c.ClientInfo,
		}
		if c.UserID != "" {
			uid := c.UserID
			info.UserID = &uid
		}
		out = append(out, info)
	}
	return out
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	ActiveConnections int            `json:"active_connections"`
	TotalConnections  int64          `json:"total_connections"`
	ActiveRooms       int            `json:"active_rooms"`
	UsersOnline       int            `json:"users_online"`
	MessagesSent      int64          `json:"total_messages_sent"`
	Rooms             map[string]int `json:"rooms_info"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make(map[string]int, len(m.rooms))
	for id, members := range m.rooms {
		rooms[id] = len(members)
	}
	return Stats{
		ActiveConnections: len(m.conns),
		TotalConnections:  m.totalConnections.Load(),
		ActiveRooms:       len(m.rooms),
		UsersOnline:       len(m.users),
		MessagesSent:      m.messagesSent.Load(),
		Rooms:             rooms,
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
