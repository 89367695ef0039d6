package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/chatrelay/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const internalTokenHeader = "X-Internal-Token"

const maxNotifyBody = 1 << 20

// Request bodies for POST /internal/notify/{kind}. REST collaborators call
// these after committing their own writes.

type groupMessageNotice struct {
	MemberIDs []int64        `json:"memberIds" validate:"required,dive,gt=0"`
	SenderID  int64          `json:"senderId" validate:"gt=0"`
	Message   models.Message `json:"message"`
}

type reactionNotice struct {
	MessageID  int64                    `json:"messageId" validate:"gt=0"`
	SenderID   int64                    `json:"senderId" validate:"gt=0"`
	ReceiverID int64                    `json:"receiverId" validate:"gt=0"`
	Reactions  []models.ReactionSummary `json:"reactions"`
}

type groupReactionNotice struct {
	MemberIDs []int64                  `json:"memberIds" validate:"required,dive,gt=0"`
	GroupID   int64                    `json:"groupId" validate:"gt=0"`
	MessageID int64                    `json:"messageId" validate:"gt=0"`
	Reactions []models.ReactionSummary `json:"reactions"`
}

type editedNotice struct {
	RecipientID int64          `json:"recipientId" validate:"gt=0"`
	PeerID      int64          `json:"peerId" validate:"gte=0"`
	Message     models.Message `json:"message"`
}

type deletedNotice struct {
	RecipientID int64 `json:"recipientId" validate:"gt=0"`
	PeerID      int64 `json:"peerId" validate:"gte=0"`
	MessageID   int64 `json:"messageId" validate:"gt=0"`
	GroupID     int64 `json:"groupId" validate:"gte=0"`
}

var notifyValidator = validator.New(validator.WithRequiredStructEnabled())

func (a *App) requireInternalToken(next http.Handler) http.Handler {
	want := []byte(a.config.Server.InternalToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(internalTokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			a.logger.Warn("Rejected internal notify call", slog.String("remoteAddr", r.RemoteAddr))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) notifyHandler(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	r.Body = http.MaxBytesReader(w, r.Body, maxNotifyBody)
	bc := a.broadcaster

	var err error
	switch kind {
	case "message":
		var msg models.Message
		if err = decodeNotice(r, &msg); err == nil {
			if msg.ReceiverID <= 0 {
				err = errors.New("message.receiver_id must be positive")
				break
			}
			bc.NotifyNewMessage(msg)
		}
	case "group-message":
		var n groupMessageNotice
		if err = decodeNotice(r, &n); err == nil {
			bc.NotifyNewGroupMessage(n.MemberIDs, n.SenderID, n.Message)
		}
	case "reaction":
		var n reactionNotice
		if err = decodeNotice(r, &n); err == nil {
			bc.NotifyReaction(n.MessageID, n.SenderID, n.ReceiverID, n.Reactions)
		}
	case "group-reaction":
		var n groupReactionNotice
		if err = decodeNotice(r, &n); err == nil {
			bc.NotifyGroupReaction(n.MemberIDs, n.GroupID, n.MessageID, n.Reactions)
		}
	case "message-edited":
		var n editedNotice
		if err = decodeNotice(r, &n); err == nil {
			bc.NotifyMessageEdited(n.RecipientID, n.PeerID, n.Message)
		}
	case "message-deleted":
		var n deletedNotice
		if err = decodeNotice(r, &n); err == nil {
			bc.NotifyMessageDeleted(n.RecipientID, n.PeerID, n.MessageID, n.GroupID)
		}
	default:
		http.Error(w, "Unknown notification kind", http.StatusNotFound)
		return
	}

	if err != nil {
		a.logger.Warn("Invalid notify request", slog.String("kind", kind), slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeNotice(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return notifyValidator.Struct(v)
}
