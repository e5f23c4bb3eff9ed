package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bini59/kiko-vooster/internal/model"
)

// SessionRepo manages persistence for sync_sessions.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo with the provided database handle.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// PositionPatch is a partial playback update. Nil fields are left as they are.
// A non-nil ConnectionID restricts the update to sessions of that connection.
type PositionPatch struct {
	Position     *float64
	IsPlaying    *bool
	SentenceID   *string
	ConnectionID *string
}

const sessionColumns = `id, script_id, user_id, connection_id, room_id, current_position, is_playing,
       current_sentence_id, session_token, session_type, client_info, is_active,
       joined_at, last_activity, left_at`

func scanSession(s rowScanner) (model.SyncSession, error) {
	var (
		ss                        model.SyncSession
		userID, sentenceID, token sql.NullString
		info                      sql.NullString
		stype                     string
		leftAt                    sql.NullTime
	)
	err := s.Scan(&ss.ID, &ss.ScriptID, &userID, &ss.ConnectionID, &ss.RoomID, &ss.CurrentPosition, &ss.IsPlaying,
		&sentenceID, &token, &stype, &info, &ss.IsActive,
		&ss.JoinedAt, &ss.LastActivity, &leftAt)
	if err != nil {
		return ss, err
	}
	ss.UserID, ss.CurrentSentenceID, ss.SessionToken = strPtr(userID), strPtr(sentenceID), strPtr(token)
	ss.SessionType = model.SessionType(stype)
	if leftAt.Valid {
		t := leftAt.Time
		ss.LeftAt = &t
	}
	ci, err := decodeJSON(info)
	if err != nil {
		return ss, err
	}
	ss.ClientInfo = ci
	return ss, nil
}

// Create deactivates every active session of (connection_id, script_id)
// and inserts s, in one transaction.
func (r *SessionRepo) Create(ctx context.Context, s *model.SyncSession) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const deactivate = `UPDATE sync_sessions SET is_active = 0, left_at = ?
                         WHERE connection_id = ? AND script_id = ? AND is_active = 1`
	if _, err := tx.ExecContext(ctx, deactivate, s.JoinedAt, s.ConnectionID, s.ScriptID); err != nil {
		return err
	}

	info, err := encodeJSON(s.ClientInfo)
	if err != nil {
		return err
	}
	const ins = `INSERT INTO sync_sessions
        (id, script_id, user_id, connection_id, room_id, current_position, is_playing,
         current_sentence_id, session_token, session_type, client_info, is_active,
         joined_at, last_activity)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins,
		s.ID, s.ScriptID, nullString(s.UserID), s.ConnectionID, s.RoomID, s.CurrentPosition, s.IsPlaying,
		nullString(s.CurrentSentenceID), nullString(s.SessionToken), string(s.SessionType), info,
		s.JoinedAt, s.LastActivity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.IsActive = true
	return nil
}

// GetByID fetches a session regardless of state, or ErrNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.SyncSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sync_sessions WHERE id = ? LIMIT 1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// UpdatePosition applies p to an active session and bumps last_activity.
// ErrNotFound if the session is unknown or inactive.
func (r *SessionRepo) UpdatePosition(ctx context.Context, id string, p PositionPatch, at time.Time) (*model.SyncSession, error) {
	sets := []string{"last_activity = ?"}
	args := []any{at}
	if p.Position != nil {
		sets = append(sets, "current_position = ?")
		args = append(args, *p.Position)
	}
	if p.IsPlaying != nil {
		sets = append(sets, "is_playing = ?")
		args = append(args, *p.IsPlaying)
	}
	if p.SentenceID != nil {
		sets = append(sets, "current_sentence_id = ?")
		args = append(args, *p.SentenceID)
	}
	args = append(args, id)
	where := ` WHERE id = ? AND is_active = 1`
	if p.ConnectionID != nil {
		where += ` AND connection_id = ?`
		args = append(args, *p.ConnectionID)
	}

	q := `UPDATE sync_sessions SET ` + strings.Join(sets, ", ") + where
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return nil, err
	}
	// MySQL reports zero affected rows for no-op updates, so re-read
	// instead of trusting RowsAffected.
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.IsActive || (p.ConnectionID != nil && s.ConnectionID != *p.ConnectionID) {
		return nil, ErrNotFound
	}
	return s, nil
}

// DeactivateConnection ends every active session of a connection and
// returns how many rows changed.
func (r *SessionRepo) DeactivateConnection(ctx context.Context, connectionID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_sessions SET is_active = 0, left_at = ? WHERE connection_id = ? AND is_active = 1`,
		at, connectionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActiveByScript returns the active sessions of a script ordered by
// join time.
func (r *SessionRepo) ListActiveByScript(ctx context.Context, scriptID string) ([]model.SyncSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sync_sessions
          WHERE script_id = ? AND is_active = 1
          ORDER BY joined_at ASC`, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SyncSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountActive returns the number of active sessions of a connection and
// script.
func (r *SessionRepo) CountActive(ctx context.Context, connectionID, scriptID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_sessions WHERE connection_id = ? AND script_id = ? AND is_active = 1`,
		connectionID, scriptID).Scan(&n)
	return n, err
}
