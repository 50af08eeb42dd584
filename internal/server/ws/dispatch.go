package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/router"
	"github.com/parleychat/parley/internal/server/users"
)

// onJoin binds the connection into the presence registry and sends the
// initial lists. The payload's userId must match the token subject; a
// client cannot join as somebody else.
func (c *client) onJoin(ctx context.Context, f *protocol.Frame) error {
	var p protocol.JoinPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	if p.UserID != c.identity.UserID {
		return fmt.Errorf("%w: token subject mismatch", common.ErrUnauthorized)
	}

	name := c.identity.Name
	if name == "" {
		name = fmt.Sprintf("user-%d", c.identity.UserID)
	}
	user, err := c.h.deps.Users.EnsureUser(ctx, &users.User{
		ID:      c.identity.UserID,
		Name:    name,
		Avatar:  c.identity.Avatar,
		IsAdmin: c.identity.IsAdmin,
	})
	if err != nil {
		return err
	}
	c.user = user
	c.h.deps.Registry.Bind(c.session)
	c.h.deps.Logger.Info(ctx, "user joined", "userID", user.ID, "name", user.Name)

	c.h.deps.Lists.PushGroups(ctx, user.ID)
	c.h.deps.Visibility.Broadcast(ctx)
	return nil
}

func (c *client) onGetGroups(ctx context.Context) error {
	list, err := c.h.deps.Lists.GroupList(ctx, c.user.ID)
	if err != nil {
		return err
	}
	c.session.Send(protocol.MustEncodeFrame(protocol.EventGroupList, list))
	return nil
}

func (c *client) onGetGroupMembers(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	infos, err := c.h.deps.Groups.Members(ctx, c.user, p.GroupID)
	if err != nil {
		return err
	}
	members := make([]protocol.MemberEntry, 0, len(infos))
	for _, m := range infos {
		members = append(members, protocol.MemberEntry{
			ID:      m.UserID,
			Name:    m.Name,
			Avatar:  m.Avatar,
			IsMuted: m.IsMuted,
		})
	}
	c.session.Send(protocol.MustEncodeFrame(protocol.EventGroupMembers, protocol.GroupMembersPayload{
		GroupID: p.GroupID,
		Members: members,
	}))
	return nil
}

func (c *client) onGetMessages(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GetMessagesPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	var payload protocol.MessageHistoryPayload
	if p.GroupID != 0 {
		list, err := c.h.deps.Messages.GroupHistory(ctx, c.user, p.GroupID, p.BeforeID, p.Limit)
		if err != nil {
			return err
		}
		payload = protocol.MessageHistoryPayload{GroupID: p.GroupID, Messages: list}
	} else {
		list, err := c.h.deps.Messages.DirectHistory(ctx, c.user, p.UserID, p.BeforeID, p.Limit)
		if err != nil {
			return err
		}
		payload = protocol.MessageHistoryPayload{UserID: p.UserID, Messages: list}
	}
	c.session.Send(protocol.MustEncodeFrame(protocol.EventMessageHistory, payload))
	return nil
}

func (c *client) onSendMessage(ctx context.Context, f *protocol.Frame) error {
	var p protocol.SendMessagePayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Router.Submit(ctx, router.SubmitInput{
		SenderID:          c.user.ID,
		ReceiverID:        p.ReceiverID,
		GroupID:           p.GroupID,
		Content:           p.Content,
		Type:              p.Type,
		TempID:            p.TempID,
		SenderPublicKey:   p.SenderPublicKey,
		ReceiverPublicKey: p.ReceiverPublicKey,
	})
}

func (c *client) onMarkRead(ctx context.Context, f *protocol.Frame) error {
	var p protocol.MarkReadPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Receipts.MarkRead(ctx, p.MessageID, c.user.ID)
}

func (c *client) onMarkDelivered(ctx context.Context, f *protocol.Frame) error {
	var p protocol.MarkDeliveredPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Receipts.MarkDelivered(ctx, p.MessageID, c.user.ID)
}

func (c *client) onSetStatus(ctx context.Context, f *protocol.Frame) error {
	var p protocol.SetStatusPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	invisible := p.Status == protocol.VisibilityInvisible
	if err := c.h.deps.Users.SetVisibility(ctx, c.user.ID, invisible); err != nil {
		return err
	}
	c.user.IsInvisible = invisible
	return nil
}

func (c *client) onSetPublicKey(ctx context.Context, f *protocol.Frame) error {
	var p protocol.SetPublicKeyPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Users.PublishKey(ctx, c.user.ID, p.PublicKey)
}

func (c *client) onCreateGroup(ctx context.Context, f *protocol.Frame) error {
	var p protocol.CreateGroupPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	_, err := c.h.deps.Groups.Create(ctx, c.user, p.Name, p.IsPublic, p.IsEncrypted)
	return err
}

func (c *client) onAddToGroup(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupUserPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Groups.AddMember(ctx, c.user, p.GroupID, p.UserID)
}

func (c *client) onRemoveFromGroup(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupUserPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Groups.RemoveMember(ctx, c.user, p.GroupID, p.UserID)
}

func (c *client) onToggleMute(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupUserPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Groups.ToggleMute(ctx, c.user, p.GroupID, p.UserID)
}

func (c *client) onLeaveGroup(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Groups.Leave(ctx, c.user, p.GroupID)
}

func (c *client) onDeleteGroup(ctx context.Context, f *protocol.Frame) error {
	var p protocol.GroupPayload
	if err := f.Bind(&p); err != nil {
		return err
	}
	return c.h.deps.Groups.Delete(ctx, c.user, p.GroupID)
}

// reason maps an error to the short string the error event carries. Only
// our own sentinel texts reach the wire; anything unexpected collapses to
// a generic internal error and stays in the log.
func reason(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return err.Error()
	case errors.Is(err, common.ErrNotMember):
		return "not a member of this group"
	case errors.Is(err, common.ErrMuted):
		return "you are muted in this group"
	case errors.Is(err, common.ErrNotAdmin):
		return "admin only"
	case errors.Is(err, common.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, common.ErrNotFound):
		return "not found"
	case errors.Is(err, common.ErrAlreadyExists):
		return "already exists"
	default:
		return "internal error"
	}
}
