package cli

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleychat/parley/internal/client/state"
	"github.com/parleychat/parley/internal/cryptox"
	"github.com/parleychat/parley/internal/protocol"
)

const cachePageSize = 50

// parseTarget turns "g<id>" or "u<id>" (also "#<id>" / "@<id>") into a
// conversation key.
func parseTarget(arg string) (state.ConvKey, error) {
	if len(arg) < 2 {
		return state.ConvKey{}, fmt.Errorf("target must be g<id> or u<id>")
	}
	id, err := strconv.ParseInt(arg[1:], 10, 64)
	if err != nil || id <= 0 {
		return state.ConvKey{}, fmt.Errorf("bad target %q", arg)
	}
	switch arg[0] {
	case 'g', '#':
		return state.GroupConv(id), nil
	case 'u', '@':
		return state.DirectConv(id), nil
	}
	return state.ConvKey{}, fmt.Errorf("target must be g<id> or u<id>")
}

func parseUserRef(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimLeft(arg, "u@"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad user %q", arg)
	}
	return id, nil
}

// Open switches to a conversation: the cached tail renders immediately
// and a history fetch refreshes it from the server.
func (a *App) Open(ctx context.Context, target string) error {
	conv, err := parseTarget(target)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	if conv.IsGroup() {
		if _, ok := a.state.Group(conv.GroupID); !ok {
			printlnFn("Unknown group; 'groups' lists what you can see")
			return errNoGroup
		}
	} else if _, ok := a.state.User(conv.PeerID); !ok {
		printlnFn("Unknown user; 'users' lists everyone")
		return errNoConversation
	}

	a.state.Open(conv)

	cached, err := a.cachedConversation(ctx, conv)
	if err != nil {
		a.logger.Warn(ctx, "reading cache failed", "error", err)
	} else if len(cached) > 0 {
		a.state.SetHistory(conv, cached)
	}
	a.renderConversation(conv)

	if conv.IsGroup() {
		// warm the member cache; encrypted sends need it
		_ = a.conn.Send(protocol.EventGetGroupMembers, protocol.GroupPayload{GroupID: conv.GroupID})
	}
	return a.requestHistory(conv)
}

func (a *App) cachedConversation(ctx context.Context, conv state.ConvKey) ([]protocol.WireMessage, error) {
	if conv.IsGroup() {
		return a.store.GroupMessages(ctx, conv.GroupID, cachePageSize)
	}
	return a.store.DirectMessages(ctx, a.identity.UserID, conv.PeerID, cachePageSize)
}

func (a *App) requestHistory(conv state.ConvKey) error {
	p := protocol.GetMessagesPayload{}
	if conv.IsGroup() {
		p.GroupID = conv.GroupID
	} else {
		p.UserID = conv.PeerID
	}
	return a.conn.Send(protocol.EventGetMessages, p)
}

func (a *App) CloseConversation() error {
	a.state.CloseOpen()
	printlnFn("Conversation closed")
	return nil
}

// History re-fetches the open conversation from the server.
func (a *App) History(ctx context.Context) error {
	conv, ok := a.state.Opened()
	if !ok {
		printlnFn("Open a conversation first")
		return errNoConversation
	}
	return a.requestHistory(conv)
}

// Send posts to the open conversation. Encrypted groups encrypt
// transparently; everything else goes out as plain text.
func (a *App) Send(ctx context.Context, text string) error {
	conv, ok := a.state.Opened()
	if !ok {
		printlnFn("Open a conversation first")
		return errNoConversation
	}
	if conv.IsGroup() {
		if g, ok := a.state.Group(conv.GroupID); ok && g.IsEncrypted {
			return a.sendEncrypted(ctx, conv, text)
		}
	}
	return a.submit(conv, text, protocol.MessageTypeText, "", "", "")
}

// SendEncrypted posts end-to-end encrypted regardless of conversation
// kind, requiring unlocked keys and a published peer key.
func (a *App) SendEncrypted(ctx context.Context, text string) error {
	conv, ok := a.state.Opened()
	if !ok {
		printlnFn("Open a conversation first")
		return errNoConversation
	}
	return a.sendEncrypted(ctx, conv, text)
}

func (a *App) sendEncrypted(ctx context.Context, conv state.ConvKey, text string) error {
	ring := a.currentRing()
	if ring == nil {
		printlnFn("Keys are locked; 'unlock' first")
		return errLocked
	}

	if conv.IsGroup() {
		members, ok := a.state.Members(conv.GroupID)
		if !ok {
			printlnFn("Member list not loaded yet; try again in a moment")
			_ = a.conn.Send(protocol.EventGetGroupMembers, protocol.GroupPayload{GroupID: conv.GroupID})
			return errNoGroup
		}
		recipients := map[int64]*ecdh.PublicKey{a.identity.UserID: ring.Public()}
		for _, m := range members {
			if m.ID == a.identity.UserID {
				continue
			}
			u, ok := a.state.User(m.ID)
			if !ok || u.PublicKey == "" {
				printlnFn(fmt.Sprintf("Note: %s has no published key and cannot read this", m.Name))
				continue
			}
			pub, err := cryptox.ParsePublicKey(u.PublicKey)
			if err != nil {
				a.logger.Warn(ctx, "skipping unparsable member key", "userID", m.ID, "error", err)
				continue
			}
			recipients[m.ID] = pub
		}
		content, err := cryptox.SealForRecipients([]byte(text), ring.Private(), recipients)
		if err != nil {
			return err
		}
		return a.submit(conv, content, protocol.MessageTypeEncrypted, ring.PublicKeyString(), "", text)
	}

	peer, ok := a.state.User(conv.PeerID)
	if !ok || peer.PublicKey == "" {
		printlnFn("That user has not published an encryption key")
		return cryptox.ErrMissingKey
	}
	pub, err := cryptox.ParsePublicKey(peer.PublicKey)
	if err != nil {
		return err
	}
	content, err := cryptox.EncryptString(text, ring.Private(), pub)
	if err != nil {
		return err
	}
	return a.submit(conv, content, protocol.MessageTypeEncrypted, ring.PublicKeyString(), peer.PublicKey, text)
}

// submit records the optimistic pending entry and sends the frame. The
// echo will confirm the entry in place by tempId.
func (a *App) submit(conv state.ConvKey, content, typ, senderKey, receiverKey, plaintext string) error {
	tempID := uuid.NewString()
	p := protocol.SendMessagePayload{
		Content:           content,
		Type:              typ,
		TempID:            tempID,
		SenderPublicKey:   senderKey,
		ReceiverPublicKey: receiverKey,
	}
	if conv.IsGroup() {
		p.GroupID = conv.GroupID
	} else {
		p.ReceiverID = conv.PeerID
	}

	a.state.AppendPending(conv, protocol.WireMessage{
		SenderID:          a.identity.UserID,
		ReceiverID:        p.ReceiverID,
		GroupID:           p.GroupID,
		Content:           content,
		Type:              typ,
		TempID:            tempID,
		SenderPublicKey:   senderKey,
		ReceiverPublicKey: receiverKey,
		CreatedAt:         time.Now(),
	}, plaintext)

	return a.conn.Send(protocol.EventSendMessage, p)
}

// MarkRead acknowledges the newest incoming message of the open
// conversation.
func (a *App) MarkRead(ctx context.Context) error {
	conv, ok := a.state.Opened()
	if !ok {
		printlnFn("Open a conversation first")
		return errNoConversation
	}
	entries := a.state.Conversation(conv)
	for i := len(entries) - 1; i >= 0; i-- {
		m := entries[i].Message
		if entries[i].Pending || m.SenderID == a.identity.UserID || m.SenderID == 0 {
			continue
		}
		return a.sendMarkRead(m)
	}
	printlnFn("Nothing to mark read")
	return nil
}

func (a *App) sendMarkRead(m protocol.WireMessage) error {
	return a.conn.Send(protocol.EventMarkRead, protocol.MarkReadPayload{
		MessageID: m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
	})
}
