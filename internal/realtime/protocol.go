// Package realtime keeps the viewers of a script in sync over WebSocket.
// Manager is the in-memory registry of connections and rooms; Coordinator
// runs the per-connection protocol on top of it.
package realtime

import (
	"encoding/json"
	"time"
)

// MessageType is the "type" field of a frame.
type MessageType string

const (
	TypeConnectionAck  MessageType = "connection_ack"
	TypePositionUpdate MessageType = "position_update"
	TypePositionSync   MessageType = "position_sync"
	TypeMappingEdit    MessageType = "mapping_edit"
	TypeMappingUpdate  MessageType = "mapping_update"
	TypeSessionJoin    MessageType = "session_join"
	TypeSessionLeave   MessageType = "session_leave"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeError          MessageType = "error"
)

// Message is the envelope of every outbound frame.
type Message struct {
	Type      MessageType    `json:"type"`
	RoomID    string         `json:"room_id,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage stamps a frame with the current UTC time.
func NewMessage(t MessageType, roomID string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Type: t, RoomID: roomID, Data: data, Timestamp: time.Now().UTC()}
}

// ErrorMessage builds an error frame for a connection in roomID.
func ErrorMessage(roomID, code, msg string) Message {
	return NewMessage(TypeError, roomID, map[string]any{"error": code, "message": msg})
}

// inbound is a client frame before its data is decoded.
type inbound struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type positionData struct {
	Position   *float64 `json:"position"`
	IsPlaying  *bool    `json:"is_playing"`
	SentenceID *string  `json:"sentence_id"`
	SessionID  *string  `json:"session_id"`
}

type mappingEditData struct {
	SentenceID *string  `json:"sentence_id"`
	StartTime  *float64 `json:"start_time"`
	EndTime    *float64 `json:"end_time"`
	EditType   string   `json:"edit_type"`
}

// decodeData unmarshals a frame's data, treating a missing object as empty.
func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func strOrNil(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func idOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
