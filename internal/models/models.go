package models

import "time"

// CallPrivacy controls who may place a call to a user.
type CallPrivacy string

const (
	CallPrivacyEveryone CallPrivacy = "everyone"
	CallPrivacyContacts CallPrivacy = "contacts"
	CallPrivacyNobody   CallPrivacy = "nobody"
)

func (p CallPrivacy) Valid() bool {
	switch p {
	case CallPrivacyEveryone, CallPrivacyContacts, CallPrivacyNobody:
		return true
	default:
		return false
	}
}

type User struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	CallPrivacy CallPrivacy `json:"-"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

const (
	MessageTypeText       = "text"
	MessageTypeMissedCall = "missed_call"
)

// Message is the denormalized message shape pushed to clients.
type Message struct {
	ID                int64      `json:"id"`
	SenderID          int64      `json:"sender_id"`
	ReceiverID        int64      `json:"receiver_id,omitempty"`
	GroupID           int64      `json:"group_id,omitempty"`
	Content           string     `json:"content"`
	MessageType       string     `json:"message_type"`
	SenderDisplayName string     `json:"sender_display_name"`
	SenderAvatarURL   string     `json:"sender_avatar_url,omitempty"`
	IsMine            bool       `json:"is_mine"`
	CreatedAt         time.Time  `json:"created_at"`
	EditedAt          *time.Time `json:"edited_at,omitempty"`
}

// ReactionSummary is one emoji's aggregate on a message.
type ReactionSummary struct {
	Emoji   string  `json:"emoji"`
	Count   int     `json:"count"`
	UserIDs []int64 `json:"user_ids"`
}
