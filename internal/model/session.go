package model

import (
    "strings"
    "time"
)

// SessionType describes the learning context of a playback session.
type SessionType string

const (
    SessionIndividual SessionType = "individual"
    SessionGroup      SessionType = "group"
    SessionClassroom  SessionType = "classroom"
)

// Valid reports whether t is a known session type.
func (t SessionType) Valid() bool {
    switch t {
    case SessionIndividual, SessionGroup, SessionClassroom:
        return true
    }
    return false
}

// RoomID returns the broadcast room shared by every viewer of a script.
func RoomID(scriptID string) string {
    return "sync_" + strings.ReplaceAll(scriptID, "-", "")
}

// SyncSession is the durable record of one client's playback state in a
// script room.  Only one active row may exist per (ConnectionID, ScriptID).
type SyncSession struct {
    ID                string         `json:"id"`                  // sync_sessions.id
    ScriptID          string         `json:"script_id"`           // sync_sessions.script_id
    UserID            *string        `json:"user_id"`             // sync_sessions.user_id (nullable)
    ConnectionID      string         `json:"connection_id"`       // sync_sessions.connection_id
    RoomID            string         `json:"room_id"`             // sync_sessions.room_id
    CurrentPosition   float64        `json:"current_position"`    // sync_sessions.current_position
    IsPlaying         bool           `json:"is_playing"`          // sync_sessions.is_playing
    CurrentSentenceID *string        `json:"current_sentence_id"` // sync_sessions.current_sentence_id
    SessionToken      *string        `json:"session_token"`       // sync_sessions.session_token
    SessionType       SessionType    `json:"session_type"`        // sync_sessions.session_type
    ClientInfo        map[string]any `json:"client_info"`         // sync_sessions.client_info (JSON)
    IsActive          bool           `json:"is_active"`           // sync_sessions.is_active
    JoinedAt          time.Time      `json:"joined_at"`           // sync_sessions.joined_at
    LastActivity      time.Time      `json:"last_activity"`       // sync_sessions.last_activity
    LeftAt            *time.Time     `json:"left_at"`             // sync_sessions.left_at
}

// Participant is an active session enriched with the public profile of its
// user, if any.
type Participant struct {
    SessionID       string       `json:"session_id"`
    UserID          *string      `json:"user_id"`
    ConnectionID    string       `json:"connection_id"`
    CurrentPosition float64      `json:"current_position"`
    IsPlaying       bool         `json:"is_playing"`
    JoinedAt        time.Time    `json:"joined_at"`
    UserInfo        *UserProfile `json:"user_info"`
}
