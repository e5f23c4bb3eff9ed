package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/service"
	"github.com/bini59/kiko-vooster/internal/worker"
)

// Conn is a full-duplex client connection.  Read blocks until a frame
// arrives, the connection fails or ctx ends.
type Conn interface {
	Transport
	Read(ctx context.Context) ([]byte, error)
}

// IdentityResolver turns an access token into a user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// PositionWriter persists playback positions.  Implemented by
// service.SessionService.
type PositionWriter interface {
	UpdatePosition(ctx context.Context, sessionID string, upd service.PositionUpdate) (*model.SyncSession, error)
}

// JobSubmitter accepts background jobs without blocking.
type JobSubmitter interface {
	Submit(job worker.Job) bool
}

type CoordinatorOptions struct {
	ReceiveTimeout time.Duration // idle time before a ping probe, default 60s
	MaxMissedPings int           // unanswered probes before disconnect, default 2
}

// Coordinator runs the sync protocol for each WebSocket connection.
type Coordinator struct {
	manager   *Manager
	identity  IdentityResolver
	positions PositionWriter
	jobs      JobSubmitter
	opt       CoordinatorOptions
	log       logrus.FieldLogger
}

func NewCoordinator(m *Manager, id IdentityResolver, pw PositionWriter, jobs JobSubmitter, log logrus.FieldLogger, opt CoordinatorOptions) *Coordinator {
	if m == nil || id == nil || pw == nil || jobs == nil || log == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	if opt.ReceiveTimeout <= 0 {
		opt.ReceiveTimeout = 60 * time.Second
	}
	if opt.MaxMissedPings <= 0 {
		opt.MaxMissedPings = 2
	}
	return &Coordinator{
		manager:   m,
		identity:  id,
		positions: pw,
		jobs:      jobs,
		opt:       opt,
		log:       log.WithField("component", "sync_ws"),
	}
}

type readResult struct {
	data []byte
	err  error
}

// Serve registers conn in the script's room and processes its frames until
// the client goes away, the heartbeat gives up or ctx ends.  The
// connection is always removed from the Manager on return.
func (co *Coordinator) Serve(ctx context.Context, conn Conn, scriptID, token string, clientInfo map[string]any) error {
	userID := ""
	if token != "" {
		uid, err := co.identity.Resolve(ctx, token)
		if err != nil {
			co.log.WithError(err).Info("websocket token rejected, continuing anonymously")
		} else {
			userID = uid
		}
	}

	connID := uuid.NewString()
	roomID := model.RoomID(scriptID)
	c, err := co.manager.Connect(conn, connID, userID, clientInfo)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer co.manager.Disconnect(connID)

	if err := co.manager.JoinRoom(ctx, connID, roomID); err != nil {
		return err
	}
	co.manager.SendTo(ctx, connID, NewMessage(TypeConnectionAck, roomID, map[string]any{
		"connection_id": connID,
		"room_id":       roomID,
		"user_id":       idOrNil(userID),
		"message":       "connected to script sync room",
	}))

	log := co.log.WithFields(logrus.Fields{"connection_id": connID, "room_id": roomID})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames := make(chan readResult)
	go func() {
		defer close(frames)
		for {
			data, err := conn.Read(ctx)
			select {
			case frames <- readResult{data, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	idle := time.NewTimer(co.opt.ReceiveTimeout)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-frames:
			if !ok {
				return nil
			}
			if r.err != nil {
				log.WithError(r.err).Debug("websocket read ended")
				return nil
			}
			c.Touch(time.Now().UTC())
			co.handle(ctx, c, roomID, r.data)
			resetTimer(idle, co.opt.ReceiveTimeout)

		case <-idle.C:
			if c.MissedPings() >= co.opt.MaxMissedPings {
				log.WithField("missed_pings", c.MissedPings()).Info("heartbeat lost, disconnecting")
				return nil
			}
			if !co.manager.SendTo(ctx, connID, NewMessage(TypePing, roomID, nil)) {
				return nil
			}
			c.ProbeSent()
			idle.Reset(co.opt.ReceiveTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handle processes one client frame.  Protocol errors are reported to the
// sender; the connection stays open.
func (co *Coordinator) handle(ctx context.Context, c *Connection, roomID string, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		co.manager.SendTo(ctx, c.ID, ErrorMessage(roomID, "invalid_json", "frame is not valid JSON"))
		return
	}

	switch in.Type {
	case TypePositionUpdate:
		var d positionData
		if err := decodeData(in.Data, &d); err != nil {
			co.manager.SendTo(ctx, c.ID, ErrorMessage(roomID, "invalid_payload", "position_update data is malformed"))
			return
		}
		co.positionUpdate(ctx, c, roomID, d)

	case TypeMappingEdit:
		var d mappingEditData
		if err := decodeData(in.Data, &d); err != nil {
			co.manager.SendTo(ctx, c.ID, ErrorMessage(roomID, "invalid_payload", "mapping_edit data is malformed"))
			return
		}
		if d.EditType == "" {
			d.EditType = string(model.EditManual)
		}
		co.manager.BroadcastToRoom(ctx, roomID, NewMessage(TypeMappingUpdate, roomID, map[string]any{
			"connection_id": c.ID,
			"sentence_id":   strOrNil(d.SentenceID),
			"start_time":    d.StartTime,
			"end_time":      d.EndTime,
			"edit_type":     d.EditType,
			"action":        "preview",
		}), c.ID)

	case TypePing:
		co.manager.SendTo(ctx, c.ID, NewMessage(TypePong, roomID, map[string]any{
			"timestamp": time.Now().UTC(),
		}))

	case TypePong:
		c.Pong(time.Now().UTC())

	default:
		co.manager.SendTo(ctx, c.ID, ErrorMessage(roomID, "unknown_message_type", "unknown message type: "+string(in.Type)))
	}
}

func (co *Coordinator) positionUpdate(ctx context.Context, c *Connection, roomID string, d positionData) {
	position := 0.0
	if d.Position != nil {
		position = *d.Position
	}
	playing := false
	if d.IsPlaying != nil {
		playing = *d.IsPlaying
	}
	co.manager.BroadcastToRoom(ctx, roomID, NewMessage(TypePositionSync, roomID, map[string]any{
		"connection_id": c.ID,
		"position":      position,
		"is_playing":    playing,
		"sentence_id":   strOrNil(d.SentenceID),
	}), c.ID)

	if d.SessionID == nil || *d.SessionID == "" {
		return
	}
	sessionID, connID := *d.SessionID, c.ID
	upd := service.PositionUpdate{
		Position:     d.Position,
		IsPlaying:    d.IsPlaying,
		SentenceID:   d.SentenceID,
		ConnectionID: &connID,
	}
	ok := co.jobs.Submit(worker.JobFunc{
		Name: "position:" + sessionID,
		Fn: func(ctx context.Context) error {
			_, err := co.positions.UpdatePosition(ctx, sessionID, upd)
			if errors.Is(err, service.ErrNotFound) {
				co.log.WithFields(logrus.Fields{"session_id": sessionID, "connection_id": connID}).
					Debug("position for inactive or foreign session ignored")
				return nil
			}
			return err
		},
	})
	if !ok {
		co.log.WithField("session_id", sessionID).Warn("position write dropped")
	}
}
