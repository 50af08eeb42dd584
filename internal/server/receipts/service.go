// Package receipts tracks per-message, per-user delivery and read
// acknowledgments and reports each transition to the sender exactly once.
package receipts

import (
	"context"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/users"
)

// Pusher delivers a frame to a user's live connection, if any.
type Pusher interface {
	Push(userID int64, frame []byte) bool
}

type Service struct {
	repo     Repository
	messages messages.Repository
	users    users.Repository
	pusher   Pusher
	logger   logging.Logger
}

func NewService(repo Repository, messagesRepo messages.Repository, usersRepo users.Repository, pusher Pusher, logger logging.Logger) *Service {
	return &Service{
		repo:     repo,
		messages: messagesRepo,
		users:    usersRepo,
		pusher:   pusher,
		logger:   logger,
	}
}

// MarkDelivered records the acknowledgment and, on the first one only,
// flips the message's delivered flag and notifies the sender. Repeat
// acknowledgments change nothing.
func (s *Service) MarkDelivered(ctx context.Context, messageID, userID int64) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	first, err := s.repo.InsertDelivery(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := s.messages.SetDelivered(ctx, messageID); err != nil {
		s.logger.Warn(ctx, "setting delivered flag failed", "messageID", messageID, "error", err)
	}
	if m.SenderID > 0 && m.SenderID != userID {
		s.pusher.Push(m.SenderID, protocol.MustEncodeFrame(protocol.EventDeliveryUpdate, protocol.DeliveryUpdatePayload{
			MessageID: messageID,
			UserID:    userID,
			Status:    protocol.DeliveryDelivered,
		}))
	}
	return nil
}

// MarkRead records that a user has read a message and, on the first
// read only, pushes the reader's identity to the original sender.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID int64) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	first, err := s.repo.InsertRead(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if m.SenderID == 0 || m.SenderID == readerID {
		return nil
	}
	reader, err := s.users.GetByID(ctx, readerID)
	if err != nil {
		return err
	}
	s.pusher.Push(m.SenderID, protocol.MustEncodeFrame(protocol.EventMessageReadUpdate, protocol.MessageReadUpdatePayload{
		MessageID: messageID,
		GroupID:   m.GroupID,
		Reader: protocol.ReaderEntry{
			ID:     reader.ID,
			Name:   reader.Name,
			Avatar: reader.Avatar,
		},
	}))
	return nil
}
