package engine

import (
	"fmt"
	"strings"

	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/pkg/pipeline"
)

type groupCallSignalFrame struct {
	GroupID     int64  `json:"groupId" validate:"gt=0"`
	Signal      string `json:"signal" validate:"required"`
	IsVideoCall bool   `json:"isVideoCall"`
}

// GroupCallSignal relays a signal to every other member of a group. Rejects
// in a group never produce a missed call.
func (r *Relay) GroupCallSignal(pctx *pipeline.Cargo) error {
	var frame groupCallSignalFrame
	if err := r.decode(pctx.Payload, &frame); err != nil {
		return err
	}
	frame.Signal = strings.TrimSpace(frame.Signal)
	if frame.Signal == "" {
		return reject("empty signal")
	}
	if err := r.requireMembers(pctx, frame.GroupID, pctx.UserID); err != nil {
		return err
	}

	members, err := r.dir.MembersOf(pctx.Ctx, frame.GroupID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	r.bc.BroadcastToMembers(members, pctx.UserID, events.CallSignal{
		Type:        events.TypeCallSignal,
		FromUserID:  pctx.UserID,
		Signal:      frame.Signal,
		Payload:     rawPayload(pctx.Payload),
		IsVideoCall: frame.IsVideoCall,
		GroupID:     frame.GroupID,
	})
	return nil
}
