package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/a-essam23/chatrelay/internal/collab"
	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/internal/metrics"
	"github.com/a-essam23/chatrelay/pkg/pipeline"
	"github.com/tidwall/gjson"
)

const signalReject = "reject"

type callSignalFrame struct {
	ToUserID    int64  `json:"toUserId" validate:"gt=0"`
	Signal      string `json:"signal" validate:"required"`
	IsVideoCall bool   `json:"isVideoCall"`
	// nil means a 1:1 call
	GroupID *int64 `json:"groupId" validate:"omitempty,gt=0"`
}

// CallSignal relays offer/answer/ice/reject between two users. A 1:1 reject
// also records a missed call for both parties before the relay.
func (r *Relay) CallSignal(pctx *pipeline.Cargo) error {
	var frame callSignalFrame
	if err := r.decode(pctx.Payload, &frame); err != nil {
		return err
	}
	if frame.ToUserID == pctx.UserID {
		return reject("cannot signal self")
	}
	frame.Signal = strings.TrimSpace(frame.Signal)
	if frame.Signal == "" {
		return reject("empty signal")
	}

	ctx := pctx.Ctx
	if frame.GroupID == nil {
		blocked, err := r.dir.IsBlocked(ctx, pctx.UserID, frame.ToUserID)
		if err != nil {
			return fmt.Errorf("check block: %w", err)
		}
		if blocked {
			return reject("blocked between %d and %d", pctx.UserID, frame.ToUserID)
		}
		allowed, err := r.dir.CanCall(ctx, pctx.UserID, frame.ToUserID)
		if err != nil && !errors.Is(err, collab.ErrNotFound) {
			return fmt.Errorf("check call privacy: %w", err)
		}
		if err == nil && !allowed {
			return reject("privacy settings of %d deny calls", frame.ToUserID)
		}
	} else {
		if err := r.requireMembers(pctx, *frame.GroupID, pctx.UserID, frame.ToUserID); err != nil {
			return err
		}
	}

	if _, err := r.dir.GetUser(ctx, frame.ToUserID); err != nil {
		if errors.Is(err, collab.ErrNotFound) {
			return reject("target %d does not exist", frame.ToUserID)
		}
		return fmt.Errorf("look up target: %w", err)
	}

	if frame.Signal == signalReject && frame.GroupID == nil {
		// the rejecting user is the callee; the target is the original caller
		r.recordMissedCall(pctx, frame.ToUserID, pctx.UserID, frame.IsVideoCall)
	}

	event := events.CallSignal{
		Type:        events.TypeCallSignal,
		FromUserID:  pctx.UserID,
		Signal:      frame.Signal,
		Payload:     rawPayload(pctx.Payload),
		IsVideoCall: frame.IsVideoCall,
	}
	if frame.GroupID != nil {
		event.GroupID = *frame.GroupID
	}
	r.bc.BroadcastToUser(frame.ToUserID, event)
	return nil
}

// recordMissedCall inserts the missed_call row and notifies both parties.
// Failures are logged only: the reject relay goes ahead regardless.
func (r *Relay) recordMissedCall(pctx *pipeline.Cargo, callerID, calleeID int64, isVideo bool) {
	msg, err := r.dir.InsertMissedCallMessage(pctx.Ctx, callerID, calleeID, isVideo)
	if err != nil {
		metrics.MissedCalls.WithLabelValues("failed").Inc()
		pctx.Logger.Error("Failed to record missed call",
			slog.Int64("callerID", callerID),
			slog.Int64("calleeID", calleeID),
			slog.Any("error", err),
		)
		return
	}
	metrics.MissedCalls.WithLabelValues("recorded").Inc()
	msg.SenderAvatarURL = absoluteURL(pctx.Scheme, pctx.Host, msg.SenderAvatarURL)
	r.bc.NotifyMissedCall(*msg)
	pctx.Logger.Info("Recorded missed call",
		slog.Int64("messageID", msg.ID),
		slog.Int64("callerID", callerID),
		slog.Int64("calleeID", calleeID),
	)
}

// requireMembers rejects unless every user belongs to groupID.
func (r *Relay) requireMembers(pctx *pipeline.Cargo, groupID int64, userIDs ...int64) error {
	for _, id := range userIDs {
		ok, err := r.dir.IsMember(pctx.Ctx, id, groupID)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return reject("user %d is not a member of group %d", id, groupID)
		}
	}
	return nil
}

// rawPayload returns the opaque "payload" member of the frame, or nil.
func rawPayload(frame []byte) []byte {
	res := gjson.GetBytes(frame, "payload")
	if !res.Exists() {
		return nil
	}
	return []byte(res.Raw)
}
