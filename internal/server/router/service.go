// Package router is the message-submission path: authorize against the
// group rules, persist, then fan out to live connections. A message is
// durable before the first frame referencing its id leaves the server.
package router

import (
	"context"
	"fmt"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/hub"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/notify"
	"github.com/parleychat/parley/internal/server/users"
)

// Directory is the slice of the user service the router needs: receiver
// existence checks and opportunistic key mirroring from snapshots seen
// on messages.
type Directory interface {
	Get(ctx context.Context, id int64) (*users.User, error)
	MirrorKey(ctx context.Context, userID int64, publicKey string)
}

// SubmitInput is one client message after boundary validation: exactly
// one of ReceiverID and GroupID is set, Type is text or eee.
type SubmitInput struct {
	SenderID          int64
	ReceiverID        int64
	GroupID           int64
	Content           string
	Type              string
	TempID            string
	SenderPublicKey   string
	ReceiverPublicKey string
}

type Service struct {
	messages  messages.Repository
	groups    groups.Repository
	directory Directory
	registry  *hub.Registry
	notifier  notify.Notifier
	locks     *common.KeyMutex[int64]
	logger    logging.Logger
}

func NewService(
	messagesRepo messages.Repository,
	groupsRepo groups.Repository,
	directory Directory,
	registry *hub.Registry,
	notifier notify.Notifier,
	locks *common.KeyMutex[int64],
	logger logging.Logger,
) *Service {
	return &Service{
		messages:  messagesRepo,
		groups:    groupsRepo,
		directory: directory,
		registry:  registry,
		notifier:  notifier,
		locks:     locks,
		logger:    logger,
	}
}

// Submit routes one client message. Group traffic runs under the group
// lock shared with the membership mutations, so a sender removed
// concurrently is either still a member for this message or already
// rejected, never half of each.
func (s *Service) Submit(ctx context.Context, in SubmitInput) error {
	if in.SenderPublicKey != "" {
		s.directory.MirrorKey(ctx, in.SenderID, in.SenderPublicKey)
	}
	if in.GroupID != 0 {
		return s.submitGroup(ctx, in)
	}
	return s.submitDirect(ctx, in)
}

// SubmitSystem persists and fans out a membership narration. Sender id 0
// marks the row as system-generated. Callers already hold the group
// lock, so this path must not take it.
func (s *Service) SubmitSystem(ctx context.Context, groupID int64, text string) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	stored, err := s.messages.Create(ctx, &messages.Message{
		GroupID: groupID,
		Content: text,
		Type:    protocol.MessageTypeSystem,
	})
	if err != nil {
		return fmt.Errorf("persisting system message: %w", err)
	}
	return s.fanOutGroup(ctx, group, stored, 0, "")
}

func (s *Service) submitGroup(ctx context.Context, in SubmitInput) error {
	s.locks.Lock(in.GroupID)
	defer s.locks.Unlock(in.GroupID)

	res, err := groups.Resolve(ctx, s.groups, in.GroupID, in.SenderID)
	if err != nil {
		return err
	}
	if !res.IsMember() {
		return common.ErrNotMember
	}
	if res.IsMuted() {
		return common.ErrMuted
	}

	stored, err := s.messages.Create(ctx, &messages.Message{
		SenderID:        in.SenderID,
		GroupID:         in.GroupID,
		Content:         in.Content,
		Type:            in.Type,
		SenderPublicKey: in.SenderPublicKey,
	})
	if err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	s.logger.Debug(ctx, "group message routed", "messageID", stored.ID, "groupID", in.GroupID)

	return s.fanOutGroup(ctx, res.Group, stored, in.SenderID, in.TempID)
}

func (s *Service) submitDirect(ctx context.Context, in SubmitInput) error {
	if _, err := s.directory.Get(ctx, in.ReceiverID); err != nil {
		return err
	}

	stored, err := s.messages.Create(ctx, &messages.Message{
		SenderID:          in.SenderID,
		ReceiverID:        in.ReceiverID,
		Content:           in.Content,
		Type:              in.Type,
		SenderPublicKey:   in.SenderPublicKey,
		ReceiverPublicKey: in.ReceiverPublicKey,
	})
	if err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	s.logger.Debug(ctx, "direct message routed", "messageID", stored.ID, "receiverID", in.ReceiverID)

	// the echo confirms the sender's pending entry with the durable id
	echo := stored.Wire(in.SenderID)
	echo.TempID = in.TempID
	s.registry.Push(in.SenderID, protocol.MustEncodeFrame(protocol.EventReceiveMessage, echo))

	if in.ReceiverID == in.SenderID {
		return nil
	}
	if s.registry.Push(in.ReceiverID, protocol.MustEncodeFrame(protocol.EventReceiveMessage, stored.Wire(in.ReceiverID))) {
		return nil
	}

	// receiver offline: the message waits in history; tell the sender and
	// hand the wake-up to the push channel
	s.registry.Push(in.SenderID, protocol.MustEncodeFrame(protocol.EventDeliveryUpdate, protocol.DeliveryUpdatePayload{
		MessageID: stored.ID,
		UserID:    in.ReceiverID,
		Status:    protocol.DeliveryQueued,
		TempID:    in.TempID,
	}))
	s.notifier.Notify(ctx, notify.Event{
		UserID:    in.ReceiverID,
		SenderID:  in.SenderID,
		MessageID: stored.ID,
		Type:      stored.Type,
	})
	return nil
}

// fanOutGroup pushes the stored message to every connected recipient.
// Encrypted content is sliced per viewer by Wire; the sender's copy is
// the only one carrying the tempId.
func (s *Service) fanOutGroup(ctx context.Context, group *groups.Group, m *messages.Message, senderID int64, tempID string) error {
	var targets []hub.Session
	if group.IsPublic {
		targets = s.registry.Snapshot()
	} else {
		ids, err := s.groups.MemberIDs(ctx, m.GroupID)
		if err != nil {
			return fmt.Errorf("resolving fan-out targets: %w", err)
		}
		for _, id := range ids {
			if sess, ok := s.registry.Get(id); ok {
				targets = append(targets, sess)
			}
		}
	}

	for _, sess := range targets {
		wire := m.Wire(sess.UserID())
		if senderID != 0 && sess.UserID() == senderID {
			wire.TempID = tempID
		}
		sess.Send(protocol.MustEncodeFrame(protocol.EventReceiveMessage, wire))
	}
	return nil
}
