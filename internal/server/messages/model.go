package messages

import (
	"time"

	"github.com/parleychat/parley/internal/cryptox"
	"github.com/parleychat/parley/internal/protocol"
)

// Message is one persisted chat message. SenderID 0 marks a system
// message; exactly one of ReceiverID and GroupID is set, the other is 0.
// Rows are immutable except for the delivered flag.
type Message struct {
	ID                int64
	SenderID          int64
	ReceiverID        int64
	GroupID           int64
	Content           string
	Type              string
	SenderPublicKey   string
	ReceiverPublicKey string
	Delivered         bool
	CreatedAt         time.Time
}

// ContentFor returns the content as one recipient should see it. An
// encrypted group message is stored as a per-member envelope map and is
// sliced down to the single envelope addressed to the user; everything
// else passes through unchanged.
func (m *Message) ContentFor(userID int64) string {
	if m.Type != protocol.MessageTypeEncrypted || m.GroupID == 0 {
		return m.Content
	}
	part, isMap := cryptox.PickRecipient(m.Content, userID)
	if !isMap {
		return m.Content
	}
	return part
}

// Wire builds the receive_message payload for one viewer. TempID is not
// part of the stored message; the router attaches it on the sender's echo.
func (m *Message) Wire(viewerID int64) protocol.WireMessage {
	return protocol.WireMessage{
		ID:                m.ID,
		SenderID:          m.SenderID,
		ReceiverID:        m.ReceiverID,
		GroupID:           m.GroupID,
		Content:           m.ContentFor(viewerID),
		Type:              m.Type,
		SenderPublicKey:   m.SenderPublicKey,
		ReceiverPublicKey: m.ReceiverPublicKey,
		Delivered:         m.Delivered,
		CreatedAt:         m.CreatedAt,
	}
}
