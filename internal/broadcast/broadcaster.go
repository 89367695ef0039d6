package broadcast

import (
	"log/slog"

	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/a-essam23/chatrelay/pkg/state"
	"github.com/goccy/go-json"
)

// Broadcaster pushes events to every open connection of a user.
// It only reads the registry; removal belongs to each connection's close path.
type Broadcaster struct {
	registry state.Registry
	logger   *slog.Logger
}

func New(registry state.Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger.With(slog.String("component", "broadcaster")),
	}
}

// BroadcastToUser serializes event once and queues it on each open connection
// of userID. Delivery is best-effort and unacknowledged.
func (b *Broadcaster) BroadcastToUser(userID int64, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", slog.Int64("userID", userID), slog.Any("error", err))
		return
	}
	b.deliver(userID, eventType(event), data)
}

// deliver writes pre-serialized data and returns how many connections accepted it.
func (b *Broadcaster) deliver(userID int64, typ string, data []byte) int {
	conns := b.registry.Get(userID)
	if len(conns) == 0 {
		return 0
	}

	sent := 0
	for _, conn := range conns {
		if !conn.IsOpen() {
			metrics.EventsSkipped.WithLabelValues("closed").Inc()
			continue
		}
		if !conn.Send(data) {
			metrics.EventsSkipped.WithLabelValues("queue_full").Inc()
			continue
		}
		sent++
	}
	if sent > 0 {
		metrics.EventsDelivered.WithLabelValues(typ).Add(float64(sent))
	}
	b.logger.Debug("Delivered event",
		slog.String("type", typ),
		slog.Int64("userID", userID),
		slog.Int("connection_count", sent),
	)
	return sent
}

// BroadcastToMembers serializes event once and delivers it to each user in
// userIDs except skip. Duplicate ids are delivered to once.
func (b *Broadcaster) BroadcastToMembers(userIDs []int64, skip int64, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", slog.Any("error", err))
		return
	}
	typ := eventType(event)
	seen := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == skip {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		b.deliver(id, typ, data)
	}
}

func eventType(event any) string {
	if t, ok := event.(events.Typed); ok {
		return t.EventType()
	}
	return "custom"
}
