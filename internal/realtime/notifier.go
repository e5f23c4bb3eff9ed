package realtime

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/queue"
)

// RoomNotifier broadcasts stored mapping changes to the script's room on
// this node.  It is the local queue.Sink.
type RoomNotifier struct {
	manager *Manager
	log     logrus.FieldLogger
}

func NewRoomNotifier(m *Manager, log logrus.FieldLogger) *RoomNotifier {
	return &RoomNotifier{manager: m, log: log.WithField("component", "room_notifier")}
}

func (n *RoomNotifier) Publish(ctx context.Context, ev queue.MappingEvent) error {
	roomID := model.RoomID(ev.ScriptID)
	data := map[string]any{
		"sentence_id": ev.SentenceID,
		"action":      string(ev.Action),
	}
	if ev.Mapping != nil {
		data["mapping"] = ev.Mapping
	}
	sent := n.manager.BroadcastToRoom(ctx, roomID, NewMessage(TypeMappingUpdate, roomID, data))
	n.log.WithFields(logrus.Fields{
		"room_id":     roomID,
		"sentence_id": ev.SentenceID,
		"action":      ev.Action,
		"delivered":   sent,
	}).Debug("mapping update broadcast")
	return nil
}
