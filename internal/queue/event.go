// Package queue defines the mapping change events fanned out to every node
// that may hold WebSocket connections for the affected script, and the
// RabbitMQ publisher and consumer that carry them.
package queue

import (
    "context"
    "time"

    "github.com/bini59/kiko-vooster/internal/model"
)

// MappingAction describes what happened to a sentence's active mapping.
type MappingAction string

const (
    ActionCreated MappingAction = "created"
    ActionUpdated MappingAction = "updated"
    ActionDeleted MappingAction = "deleted"
)

// MappingEvent is published after a mapping write has been stored.  It
// contains enough information for every node to broadcast a mapping_update
// frame to the script's room without querying the database.
type MappingEvent struct {
    Action     MappingAction          `json:"action"`
    SentenceID string                 `json:"sentence_id"`
    ScriptID   string                 `json:"script_id"`
    Mapping    *model.SentenceMapping `json:"mapping,omitempty"` // nil on delete
    ActorID    *string                `json:"actor_id,omitempty"`
    Origin     string                 `json:"origin,omitempty"` // node that accepted the write
    OccurredAt time.Time              `json:"occurred_at"`
}

// Sink receives mapping events.  The local room broadcaster and the broker
// publisher both implement it.
type Sink interface {
    Publish(ctx context.Context, ev MappingEvent) error
}
