package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/repository"
)

// SessionStore persists sync sessions.  Implemented by repository.SessionRepo.
type SessionStore interface {
	Create(ctx context.Context, s *model.SyncSession) error
	UpdatePosition(ctx context.Context, id string, p repository.PositionPatch, at time.Time) (*model.SyncSession, error)
	DeactivateConnection(ctx context.Context, connectionID string, at time.Time) (int64, error)
	ListActiveByScript(ctx context.Context, scriptID string) ([]model.SyncSession, error)
}

// ProfileStore loads public user profiles.  Implemented by repository.UserRepo.
type ProfileStore interface {
	ProfilesByID(ctx context.Context, ids []string) (map[string]model.UserProfile, error)
}

// SessionService is the durable registry of playback sessions.
type SessionService struct {
	sessions     SessionStore
	profiles     ProfileStore
	log          logrus.FieldLogger
	storeTimeout time.Duration
	now          func() time.Time
}

func NewSessionService(s SessionStore, p ProfileStore, log logrus.FieldLogger, storeTimeout time.Duration) *SessionService {
	if s == nil || p == nil || log == nil {
		panic("nil dependency passed to NewSessionService")
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &SessionService{
		sessions:     s,
		profiles:     p,
		log:          log.WithField("component", "session_service"),
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateSessionInput opens a playback session for a connection.
type CreateSessionInput struct {
	ScriptID     string  `validate:"required"`
	ConnectionID string  `validate:"required,min=1,max=100"`
	UserID       *string `validate:"omitempty,min=1"`
	Position     float64 `validate:"gte=0"`
	IsPlaying    bool
	SessionToken *string `validate:"omitempty,max=255"`
	SessionType  model.SessionType // default individual
	ClientInfo   map[string]any
}

// PositionUpdate is a partial playback update.  Nil fields are unchanged.
// ConnectionID, when set, limits the update to a session owned by that
// connection; other sessions report NotFound.
type PositionUpdate struct {
	Position     *float64 `validate:"omitempty,gte=0"`
	IsPlaying    *bool
	SentenceID   *string
	ConnectionID *string
}

// CreateSession deactivates any active session of the same connection and
// script and opens a new one.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*model.SyncSession, error) {
	if err := checkStruct(in); err != nil {
		return nil, err
	}
	if in.SessionType == "" {
		in.SessionType = model.SessionIndividual
	}
	if !in.SessionType.Valid() {
		return nil, validationError("unknown session_type %q", in.SessionType)
	}

	now := s.now()
	sess := &model.SyncSession{
		ID:              uuid.NewString(),
		ScriptID:        in.ScriptID,
		UserID:          in.UserID,
		ConnectionID:    in.ConnectionID,
		RoomID:          model.RoomID(in.ScriptID),
		CurrentPosition: in.Position,
		IsPlaying:       in.IsPlaying,
		SessionToken:    in.SessionToken,
		SessionType:     in.SessionType,
		ClientInfo:      orEmpty(in.ClientInfo),
		JoinedAt:        now,
		LastActivity:    now,
	}
	if err := runStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.sessions.Create(ctx, sess)
	}); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session_id":    sess.ID,
		"connection_id": sess.ConnectionID,
		"room_id":       sess.RoomID,
	}).Debug("session created")
	return sess, nil
}

// UpdatePosition records playback progress of an active session.
func (s *SessionService) UpdatePosition(ctx context.Context, sessionID string, upd PositionUpdate) (*model.SyncSession, error) {
	if sessionID == "" {
		return nil, validationError("session_id is required")
	}
	if err := checkStruct(upd); err != nil {
		return nil, err
	}
	var out *model.SyncSession
	err := runStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		var err error
		out, err = s.sessions.UpdatePosition(ctx, sessionID, repository.PositionPatch{
			Position:     upd.Position,
			IsPlaying:    upd.IsPlaying,
			SentenceID:   upd.SentenceID,
			ConnectionID: upd.ConnectionID,
		}, s.now())
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("session not found or inactive")
	}
	return out, err
}

// ListRoomParticipants returns the active sessions of a script in join
// order, with public profiles attached where a user is known.
func (s *SessionService) ListRoomParticipants(ctx context.Context, scriptID string) ([]model.Participant, error) {
	if scriptID == "" {
		return nil, validationError("script_id is required")
	}
	var sessions []model.SyncSession
	if err := runStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		var err error
		sessions, err = s.sessions.ListActiveByScript(ctx, scriptID)
		return err
	}); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, ss := range sessions {
		if ss.UserID != nil && !seen[*ss.UserID] {
			seen[*ss.UserID] = true
			ids = append(ids, *ss.UserID)
		}
	}
	var profiles map[string]model.UserProfile
	if err := runStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		var err error
		profiles, err = s.profiles.ProfilesByID(ctx, ids)
		return err
	}); err != nil {
		return nil, err
	}

	out := make([]model.Participant, 0, len(sessions))
	for _, ss := range sessions {
		p := model.Participant{
			SessionID:       ss.ID,
			UserID:          ss.UserID,
			ConnectionID:    ss.ConnectionID,
			CurrentPosition: ss.CurrentPosition,
			IsPlaying:       ss.IsPlaying,
			JoinedAt:        ss.JoinedAt,
		}
		if ss.UserID != nil {
			if prof, ok := profiles[*ss.UserID]; ok {
				p.UserInfo = &prof
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// EndConnection closes every active session of a connection.
func (s *SessionService) EndConnection(ctx context.Context, connectionID string) (int64, error) {
	var n int64
	err := runStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		var err error
		n, err = s.sessions.DeactivateConnection(ctx, connectionID, s.now())
		return err
	})
	if err == nil && n > 0 {
		s.log.WithFields(logrus.Fields{"connection_id": connectionID, "sessions": n}).Debug("connection sessions ended")
	}
	return n, err
}
