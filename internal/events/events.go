package events

import (
	"encoding/json"
	"time"

	"github.com/a-essam23/chatrelay/internal/models"
)

// Inbound frame discriminators.
const (
	TypeCallSignal      = "call_signal"
	TypeTyping          = "typing"
	TypeGroupTyping     = "group_typing"
	TypeGroupCallSignal = "group_call_signal"
)

// Outbound event discriminators. call_signal, typing and group_typing reuse the inbound names.
const (
	TypeNewMessage      = "new_message"
	TypeNewGroupMessage = "new_group_message"
	TypeReaction        = "reaction"
	TypeGroupReaction   = "group_reaction"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
)

// Typed lets the broadcaster label metrics without re-reading the payload.
type Typed interface {
	EventType() string
}

type NewMessage struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type NewGroupMessage struct {
	Type    string         `json:"type"`
	GroupID int64          `json:"groupId"`
	Message models.Message `json:"message"`
}

type Reaction struct {
	Type      string                   `json:"type"`
	MessageID int64                    `json:"messageId"`
	PeerID    int64                    `json:"peerId"`
	Reactions []models.ReactionSummary `json:"reactions"`
}

type GroupReaction struct {
	Type      string                   `json:"type"`
	GroupID   int64                    `json:"groupId"`
	MessageID int64                    `json:"messageId"`
	Reactions []models.ReactionSummary `json:"reactions"`
}

type CallSignal struct {
	Type        string          `json:"type"`
	FromUserID  int64           `json:"fromUserId"`
	Signal      string          `json:"signal"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	IsVideoCall bool            `json:"isVideoCall"`
	GroupID     int64           `json:"groupId,omitempty"`
}

type Typing struct {
	Type        string `json:"type"`
	FromUserID  int64  `json:"fromUserId"`
	DisplayName string `json:"displayName"`
}

type GroupTyping struct {
	Type        string `json:"type"`
	GroupID     int64  `json:"groupId"`
	FromUserID  int64  `json:"fromUserId"`
	DisplayName string `json:"displayName"`
}

type MessageEdited struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"messageId"`
	PeerID    int64     `json:"peerId,omitempty"`
	GroupID   int64     `json:"groupId,omitempty"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeleted struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	PeerID    int64  `json:"peerId,omitempty"`
	GroupID   int64  `json:"groupId,omitempty"`
}

func (e NewMessage) EventType() string      { return e.Type }
func (e NewGroupMessage) EventType() string { return e.Type }
func (e Reaction) EventType() string        { return e.Type }
func (e GroupReaction) EventType() string   { return e.Type }
func (e CallSignal) EventType() string      { return e.Type }
func (e Typing) EventType() string          { return e.Type }
func (e GroupTyping) EventType() string     { return e.Type }
func (e MessageEdited) EventType() string   { return e.Type }
func (e MessageDeleted) EventType() string  { return e.Type }
