package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/client/state"
	"github.com/parleychat/parley/internal/cryptox"
	"github.com/parleychat/parley/internal/protocol"
)

// handleFrame runs on the receive goroutine and fans server pushes into
// the state manager, printing what concerns the user right now.
func (a *App) handleFrame(event string, data json.RawMessage) {
	ctx := context.Background()
	switch event {
	case protocol.EventUserList:
		var list []protocol.UserEntry
		if err := json.Unmarshal(data, &list); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.state.SetUsers(list)

	case protocol.EventGroupList:
		var list []protocol.GroupEntry
		if err := json.Unmarshal(data, &list); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.state.SetGroups(list)

	case protocol.EventGroupMembers:
		var p protocol.GroupMembersPayload
		if err := json.Unmarshal(data, &p); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.state.SetMembers(p.GroupID, p.Members)
		if open, ok := a.state.Opened(); ok && open == state.GroupConv(p.GroupID) {
			a.renderMembers(p)
		}

	case protocol.EventReceiveMessage:
		var m protocol.WireMessage
		if err := json.Unmarshal(data, &m); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.onReceive(ctx, m)

	case protocol.EventMessageHistory:
		var p protocol.MessageHistoryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.onHistory(ctx, p)

	case protocol.EventMessageReadUpdate:
		var p protocol.MessageReadUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		printlnFn(fmt.Sprintf("%s read message %d", p.Reader.Name, p.MessageID))

	case protocol.EventDeliveryUpdate:
		var p protocol.DeliveryUpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		a.onDelivery(p)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			a.badFrame(ctx, event, err)
			return
		}
		printlnFn("Server:", p.Message)

	default:
		a.logger.Debug(ctx, "ignoring unknown event", "event", event)
	}
}

func (a *App) badFrame(ctx context.Context, event string, err error) {
	a.logger.Warn(ctx, "dropping undecodable push", "event", event, "error", err)
}

// onReceive files an incoming message: cache it, acknowledge direct
// delivery, and either render it in the open conversation (reading it)
// or announce the unread.
func (a *App) onReceive(ctx context.Context, m protocol.WireMessage) {
	res := a.state.Ingest(m)
	if !res.Stored {
		return
	}

	if m.ID != 0 {
		if err := a.store.SaveMessage(ctx, m); err != nil {
			a.logger.Warn(ctx, "caching message failed", "messageID", m.ID, "error", err)
		}
	}

	incoming := !res.Echo && m.SenderID != a.identity.UserID && m.SenderID != 0
	if incoming && m.GroupID == 0 && m.ReceiverID == a.identity.UserID && m.ID != 0 {
		if err := a.conn.Send(protocol.EventMarkDelivered, protocol.MarkDeliveredPayload{MessageID: m.ID}); err != nil {
			a.logger.Warn(ctx, "delivery ack failed", "messageID", m.ID, "error", err)
		}
	}

	if open, ok := a.state.Opened(); ok && open == res.Conv {
		entry := state.Entry{Message: m}
		if res.Echo {
			// render from the confirmed list so the plaintext tags along
			entries := a.state.Conversation(res.Conv)
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].Message.ID == m.ID {
					entry = entries[i]
					break
				}
			}
		}
		printlnFn(a.renderEntry(entry))
		if incoming && m.ID != 0 {
			if err := a.sendMarkRead(m); err != nil {
				a.logger.Warn(ctx, "read ack failed", "messageID", m.ID, "error", err)
			}
		}
		return
	}

	if res.Unread {
		printlnFn(fmt.Sprintf("New message in %s (%d unread)", a.convLabel(res.Conv), a.state.Unread(res.Conv)))
	}
}

func (a *App) onHistory(ctx context.Context, p protocol.MessageHistoryPayload) {
	conv := state.GroupConv(p.GroupID)
	if p.GroupID == 0 {
		conv = state.DirectConv(p.UserID)
	}
	a.state.SetHistory(conv, p.Messages)
	if err := a.store.SaveMessages(ctx, p.Messages); err != nil {
		a.logger.Warn(ctx, "caching history failed", "error", err)
	}
	if open, ok := a.state.Opened(); ok && open == conv {
		a.renderConversation(conv)
	}
}

func (a *App) onDelivery(p protocol.DeliveryUpdatePayload) {
	switch p.Status {
	case protocol.DeliveryQueued:
		printlnFn("Receiver is offline; message queued")
	case protocol.DeliveryDelivered:
		if p.MessageID != 0 {
			a.state.MarkDelivered(p.MessageID)
		}
		printlnFn(fmt.Sprintf("Message %d delivered", p.MessageID))
	}
}

func (a *App) convLabel(conv state.ConvKey) string {
	if conv.IsGroup() {
		if g, ok := a.state.Group(conv.GroupID); ok {
			return "#" + g.Name
		}
		return fmt.Sprintf("#group-%d", conv.GroupID)
	}
	if u, ok := a.state.User(conv.PeerID); ok {
		return "@" + u.Name
	}
	return fmt.Sprintf("@user-%d", conv.PeerID)
}

func (a *App) renderConversation(conv state.ConvKey) {
	entries := a.state.Conversation(conv)
	printlnFn(fmt.Sprintf("--- %s, %d messages ---", a.convLabel(conv), len(entries)))
	for _, e := range entries {
		printlnFn(a.renderEntry(e))
	}
}

func (a *App) renderEntry(e state.Entry) string {
	m := e.Message

	who := "system"
	switch {
	case m.SenderID == a.identity.UserID:
		who = "me"
	case m.SenderID != 0:
		if u, ok := a.state.User(m.SenderID); ok {
			who = u.Name
		} else {
			who = fmt.Sprintf("user-%d", m.SenderID)
		}
	}

	text := m.Content
	if m.Type == protocol.MessageTypeEncrypted {
		text = a.readableText(e)
	}

	mark := ""
	switch {
	case e.Pending:
		mark = " (pending)"
	case m.SenderID == a.identity.UserID && m.GroupID == 0 && m.Delivered:
		mark = " (delivered)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.CreatedAt.Local().Format("15:04"), who, text, mark)
}

// readableText resolves what an encrypted entry shows: the local
// plaintext for own sends, the decrypted text when the keyring can open
// it, and a short diagnosis otherwise.
func (a *App) readableText(e state.Entry) string {
	if e.Plaintext != "" {
		return e.Plaintext
	}
	ring := a.currentRing()
	if ring == nil {
		return "[locked]"
	}
	text, err := a.state.Decrypt(e.Message, ring.Private())
	if err != nil {
		return "[unreadable: " + decryptFailure(err) + "]"
	}
	return text
}

func decryptFailure(err error) string {
	switch {
	case errors.Is(err, cryptox.ErrAuthFailed):
		return "authentication failed"
	case errors.Is(err, cryptox.ErrMissingKey):
		return "missing key"
	case errors.Is(err, cryptox.ErrMalformedEnvelope):
		return "malformed envelope"
	default:
		return err.Error()
	}
}

func (a *App) renderMembers(p protocol.GroupMembersPayload) {
	printlnFn(fmt.Sprintf("--- %s members ---", a.convLabel(state.GroupConv(p.GroupID))))
	for _, m := range p.Members {
		muted := ""
		if m.IsMuted {
			muted = " (muted)"
		}
		printlnFn(fmt.Sprintf("u%d %s%s", m.ID, m.Name, muted))
	}
}
