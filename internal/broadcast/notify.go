package broadcast

import (
	"time"

	"github.com/a-essam23/chatrelay/internal/events"
	"github.com/a-essam23/chatrelay/internal/models"
)

// NotifyNewMessage delivers a 1:1 message to its receiver. The sender already
// has its copy from the REST response.
func (b *Broadcaster) NotifyNewMessage(msg models.Message) {
	msg.IsMine = false
	b.BroadcastToUser(msg.ReceiverID, events.NewMessage{Type: events.TypeNewMessage, Message: msg})
}

// NotifyNewGroupMessage delivers a group message to every member except the sender.
func (b *Broadcaster) NotifyNewGroupMessage(memberIDs []int64, senderID int64, msg models.Message) {
	msg.IsMine = false
	b.BroadcastToMembers(memberIDs, senderID, events.NewGroupMessage{
		Type:    events.TypeNewGroupMessage,
		GroupID: msg.GroupID,
		Message: msg,
	})
}

// NotifyMissedCall delivers a missed-call message to both parties: the caller
// sees it as its own outgoing message, the callee as incoming.
func (b *Broadcaster) NotifyMissedCall(msg models.Message) {
	outgoing := msg
	outgoing.IsMine = true
	b.BroadcastToUser(msg.SenderID, events.NewMessage{Type: events.TypeNewMessage, Message: outgoing})

	incoming := msg
	incoming.IsMine = false
	b.BroadcastToUser(msg.ReceiverID, events.NewMessage{Type: events.TypeNewMessage, Message: incoming})
}

// NotifyReaction sends the reaction aggregate to both parties of a 1:1 chat,
// each seeing the other as the peer.
func (b *Broadcaster) NotifyReaction(messageID, senderID, receiverID int64, reactions []models.ReactionSummary) {
	if reactions == nil {
		reactions = []models.ReactionSummary{}
	}
	b.BroadcastToUser(senderID, events.Reaction{
		Type:      events.TypeReaction,
		MessageID: messageID,
		PeerID:    receiverID,
		Reactions: reactions,
	})
	if receiverID == senderID {
		return
	}
	b.BroadcastToUser(receiverID, events.Reaction{
		Type:      events.TypeReaction,
		MessageID: messageID,
		PeerID:    senderID,
		Reactions: reactions,
	})
}

// NotifyGroupReaction sends the reaction aggregate to every member of the group.
func (b *Broadcaster) NotifyGroupReaction(memberIDs []int64, groupID, messageID int64, reactions []models.ReactionSummary) {
	if reactions == nil {
		reactions = []models.ReactionSummary{}
	}
	b.BroadcastToMembers(memberIDs, 0, events.GroupReaction{
		Type:      events.TypeGroupReaction,
		GroupID:   groupID,
		MessageID: messageID,
		Reactions: reactions,
	})
}

// NotifyMessageEdited tells one recipient that msg changed; peerID is the
// conversation partner from the recipient's point of view.
func (b *Broadcaster) NotifyMessageEdited(recipientID, peerID int64, msg models.Message) {
	editedAt := time.Now().UTC()
	if msg.EditedAt != nil {
		editedAt = *msg.EditedAt
	}
	b.BroadcastToUser(recipientID, events.MessageEdited{
		Type:      events.TypeMessageEdited,
		MessageID: msg.ID,
		PeerID:    peerID,
		GroupID:   msg.GroupID,
		Content:   msg.Content,
		EditedAt:  editedAt,
	})
}

// NotifyMessageDeleted tells one recipient that a message is gone.
func (b *Broadcaster) NotifyMessageDeleted(recipientID, peerID, messageID, groupID int64) {
	b.BroadcastToUser(recipientID, events.MessageDeleted{
		Type:      events.TypeMessageDeleted,
		MessageID: messageID,
		PeerID:    peerID,
		GroupID:   groupID,
	})
}
