package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/common"
)

// Validator is implemented by every client-originated payload so the
// transport layer can reject malformed frames before they reach a service.
type Validator interface {
	Validate() error
}

// JoinPayload binds the connection to an authenticated user id.
type JoinPayload struct {
	UserID int64 `json:"userId"`
}

func (p *JoinPayload) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("%w: join requires a user id", common.ErrValidation)
	}
	return nil
}

// GroupPayload carries a bare group reference (get_group_members,
// leave_group, delete_group).
type GroupPayload struct {
	GroupID int64 `json:"groupId"`
}

func (p *GroupPayload) Validate() error {
	if p.GroupID <= 0 {
		return fmt.Errorf("%w: group id is required", common.ErrValidation)
	}
	return nil
}

// GroupUserPayload targets a user inside a group (add_to_group,
// remove_from_group, toggle_mute).
type GroupUserPayload struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"userId"`
}

func (p *GroupUserPayload) Validate() error {
	if p.GroupID <= 0 {
		return fmt.Errorf("%w: group id is required", common.ErrValidation)
	}
	if p.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", common.ErrValidation)
	}
	return nil
}

// GetMessagesPayload requests conversation history, newest last. BeforeID
// pages backwards; zero means "from the newest".
type GetMessagesPayload struct {
	GroupID  int64 `json:"groupId,omitempty"`
	UserID   int64 `json:"userId,omitempty"`
	Limit    int   `json:"limit,omitempty"`
	BeforeID int64 `json:"beforeId,omitempty"`
}

func (p *GetMessagesPayload) Validate() error {
	if (p.GroupID > 0) == (p.UserID > 0) {
		return fmt.Errorf("%w: exactly one of groupId or userId is required", common.ErrValidation)
	}
	if p.Limit < 0 || p.BeforeID < 0 {
		return fmt.Errorf("%w: negative paging values", common.ErrValidation)
	}
	return nil
}

// SendMessagePayload submits a message to either a direct receiver or a
// group, never both. TempID is a client correlation id and is not persisted.
type SendMessagePayload struct {
	ReceiverID        int64  `json:"receiverId,omitempty"`
	GroupID           int64  `json:"groupId,omitempty"`
	Content           string `json:"content"`
	Type              string `json:"type"`
	TempID            string `json:"tempId,omitempty"`
	SenderPublicKey   string `json:"senderPublicKey,omitempty"`
	ReceiverPublicKey string `json:"receiverPublicKey,omitempty"`
}

func (p *SendMessagePayload) Validate() error {
	if (p.ReceiverID > 0) == (p.GroupID > 0) {
		return fmt.Errorf("%w: exactly one of receiverId or groupId is required", common.ErrValidation)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: empty content", common.ErrValidation)
	}
	if p.Type == "" {
		p.Type = MessageTypeText
	}
	// system messages originate on the server only
	if p.Type != MessageTypeText && p.Type != MessageTypeEncrypted {
		return fmt.Errorf("%w: unknown message type %q", common.ErrValidation, p.Type)
	}
	return nil
}

// MarkReadPayload records that the connected user has read a message.
// SenderID routes the read update back to the author's live connection.
type MarkReadPayload struct {
	MessageID int64 `json:"messageId"`
	GroupID   int64 `json:"groupId,omitempty"`
	SenderID  int64 `json:"senderId"`
}

func (p *MarkReadPayload) Validate() error {
	if p.MessageID <= 0 {
		return fmt.Errorf("%w: message id is required", common.ErrValidation)
	}
	if p.SenderID < 0 {
		return fmt.Errorf("%w: bad sender id", common.ErrValidation)
	}
	return nil
}

// MarkDeliveredPayload acknowledges receipt of a message.
type MarkDeliveredPayload struct {
	MessageID int64 `json:"messageId"`
}

func (p *MarkDeliveredPayload) Validate() error {
	if p.MessageID <= 0 {
		return fmt.Errorf("%w: message id is required", common.ErrValidation)
	}
	return nil
}

// SetStatusPayload toggles the caller's invisibility flag.
type SetStatusPayload struct {
	Status string `json:"status"`
}

func (p *SetStatusPayload) Validate() error {
	if p.Status != VisibilityVisible && p.Status != VisibilityInvisible {
		return fmt.Errorf("%w: status must be %q or %q", common.ErrValidation, VisibilityVisible, VisibilityInvisible)
	}
	return nil
}

// SetPublicKeyPayload mirrors the caller's derived public key onto their
// user record for discovery by peers.
type SetPublicKeyPayload struct {
	PublicKey string `json:"publicKey"`
}

func (p *SetPublicKeyPayload) Validate() error {
	if p.PublicKey == "" {
		return fmt.Errorf("%w: public key is required", common.ErrValidation)
	}
	return nil
}

// CreateGroupPayload creates a group. Encrypted groups are private by
// definition.
type CreateGroupPayload struct {
	Name        string `json:"name"`
	IsPublic    bool   `json:"isPublic"`
	IsEncrypted bool   `json:"isEncrypted,omitempty"`
}

func (p *CreateGroupPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: group name is required", common.ErrValidation)
	}
	if p.IsPublic && p.IsEncrypted {
		return fmt.Errorf("%w: public groups cannot be encrypted", common.ErrValidation)
	}
	return nil
}

// UserEntry is one row of a per-viewer user_list push. Status is already
// adjusted for the receiving viewer.
type UserEntry struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Status    string `json:"status"`
	IsAdmin   bool   `json:"isAdmin"`
	PublicKey string `json:"publicKey,omitempty"`
}

// GroupEntry is one row of a group_list push.
type GroupEntry struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsPublic    bool   `json:"isPublic"`
	IsEncrypted bool   `json:"isEncrypted,omitempty"`
}

// MemberEntry is one row of a group_members push.
type MemberEntry struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	IsMuted bool   `json:"isMuted"`
}

// GroupMembersPayload answers get_group_members.
type GroupMembersPayload struct {
	GroupID int64         `json:"groupId"`
	Members []MemberEntry `json:"members"`
}

// WireMessage is the receive_message payload and the element of
// message_history. ReceiverID and GroupID are mutually exclusive; the
// unused one is zero. TempID is echoed back only to the sender.
type WireMessage struct {
	ID                int64     `json:"id"`
	SenderID          int64     `json:"senderId"`
	ReceiverID        int64     `json:"receiverId"`
	GroupID           int64     `json:"groupId"`
	Content           string    `json:"content"`
	Type              string    `json:"type"`
	TempID            string    `json:"tempId,omitempty"`
	SenderPublicKey   string    `json:"senderPublicKey,omitempty"`
	ReceiverPublicKey string    `json:"receiverPublicKey,omitempty"`
	Delivered         bool      `json:"delivered"`
	CreatedAt         time.Time `json:"createdAt"`
}

// MessageHistoryPayload answers get_messages.
type MessageHistoryPayload struct {
	GroupID  int64         `json:"groupId,omitempty"`
	UserID   int64         `json:"userId,omitempty"`
	Messages []WireMessage `json:"messages"`
}

// ReaderEntry identifies who read a message.
type ReaderEntry struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MessageReadUpdatePayload is pushed to a message's author when a
// recipient first marks it read.
type MessageReadUpdatePayload struct {
	MessageID int64       `json:"messageId"`
	GroupID   int64       `json:"groupId,omitempty"`
	Reader    ReaderEntry `json:"reader"`
}

// DeliveryUpdatePayload reports a delivery state transition to the sender:
// "queued" at send time for an offline receiver, "delivered" exactly once
// when that receiver acknowledges.
type DeliveryUpdatePayload struct {
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId,omitempty"`
	Status    string `json:"status"`
	TempID    string `json:"tempId,omitempty"`
}

// ErrorPayload carries a short human-readable reason string.
type ErrorPayload struct {
	Message string `json:"message"`
}
