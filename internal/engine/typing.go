package engine

import (
	"fmt"

	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/pkg/pipeline"
)

type typingFrame struct {
	ToUserID int64 `json:"toUserId" validate:"gt=0"`
}

type groupFrame struct {
	GroupID int64 `json:"groupId" validate:"gt=0"`
}

// Typing forwards an ephemeral typing indicator to one peer.
func (r *Relay) Typing(pctx *pipeline.Cargo) error {
	var frame typingFrame
	if err := r.decode(pctx.Payload, &frame); err != nil {
		return err
	}
	if frame.ToUserID == pctx.UserID {
		return reject("cannot send typing to self")
	}

	blocked, err := r.dir.IsBlocked(pctx.Ctx, pctx.UserID, frame.ToUserID)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return reject("blocked between %d and %d", pctx.UserID, frame.ToUserID)
	}

	sender, err := r.dir.GetUser(pctx.Ctx, pctx.UserID)
	if err != nil {
		return fmt.Errorf("look up sender: %w", err)
	}

	r.bc.BroadcastToUser(frame.ToUserID, events.Typing{
		Type:        events.TypeTyping,
		FromUserID:  pctx.UserID,
		DisplayName: sender.Name(),
	})
	return nil
}

// GroupTyping forwards a typing indicator to every other member of a group.
func (r *Relay) GroupTyping(pctx *pipeline.Cargo) error {
	var frame groupFrame
	if err := r.decode(pctx.Payload, &frame); err != nil {
		return err
	}
	if err := r.requireMembers(pctx, frame.GroupID, pctx.UserID); err != nil {
		return err
	}

	sender, err := r.dir.GetUser(pctx.Ctx, pctx.UserID)
	if err != nil {
		return fmt.Errorf("look up sender: %w", err)
	}
	members, err := r.dir.MembersOf(pctx.Ctx, frame.GroupID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	r.bc.BroadcastToMembers(members, pctx.UserID, events.GroupTyping{
		Type:        events.TypeGroupTyping,
		GroupID:     frame.GroupID,
		FromUserID:  pctx.UserID,
		DisplayName: sender.Name(),
	})
	return nil
}
