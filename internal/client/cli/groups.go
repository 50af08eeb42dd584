package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleychat/parley/internal/client/state"
	"github.com/parleychat/parley/internal/protocol"
)

// Prompt seams, swappable in tests.
var (
	getSimpleText = GetSimpleText
	getSecret     = GetSecret
)

// Users prints the directory. Status is already per-viewer; the server
// decides who appears online.
func (a *App) Users(ctx context.Context) error {
	users := a.state.Users()
	if len(users) == 0 {
		printlnFn("Nobody here yet")
		return nil
	}
	for _, u := range users {
		tags := make([]string, 0, 3)
		if u.ID == a.identity.UserID {
			tags = append(tags, "you")
		}
		if u.IsAdmin {
			tags = append(tags, "admin")
		}
		if u.PublicKey != "" {
			tags = append(tags, "key")
		}
		line := fmt.Sprintf("u%d %s (%s)", u.ID, u.Name, u.Status)
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ", ") + "]"
		}
		if n := a.state.Unread(state.DirectConv(u.ID)); n > 0 {
			line += fmt.Sprintf(", %d unread", n)
		}
		printlnFn(line)
	}
	return nil
}

// Groups prints the groups this account can see.
func (a *App) Groups(ctx context.Context) error {
	groups := a.state.Groups()
	if len(groups) == 0 {
		printlnFn("No groups visible; 'newgroup' creates one")
		return nil
	}
	for _, g := range groups {
		kind := "private"
		switch {
		case g.IsPublic:
			kind = "public"
		case g.IsEncrypted:
			kind = "encrypted"
		}
		line := fmt.Sprintf("g%d %s (%s)", g.ID, g.Name, kind)
		if a.state.LocalMuted(g.ID) {
			line += " [muted]"
		}
		if n := a.state.Unread(state.GroupConv(g.ID)); n > 0 {
			line += fmt.Sprintf(", %d unread", n)
		}
		printlnFn(line)
	}
	return nil
}

func (a *App) openedGroup() (int64, error) {
	conv, ok := a.state.Opened()
	if !ok || !conv.IsGroup() {
		printlnFn("Open a group first")
		return 0, errNoGroup
	}
	return conv.GroupID, nil
}

// Members asks the server for the open group's roster; the push handler
// renders it.
func (a *App) Members(ctx context.Context) error {
	groupID, err := a.openedGroup()
	if err != nil {
		return err
	}
	return a.conn.Send(protocol.EventGetGroupMembers, protocol.GroupPayload{GroupID: groupID})
}

// NewGroup walks the create_group prompts. The server answers with a
// refreshed group_list.
func (a *App) NewGroup(ctx context.Context) error {
	name, err := getSimpleText(a.reader, "Group name", a.out)
	if err != nil {
		return err
	}
	if name == "" {
		printlnFn("Cancelled")
		return nil
	}
	public, err := a.askYesNo("Public group? (y/N)")
	if err != nil {
		return err
	}
	encrypted := false
	if !public {
		if encrypted, err = a.askYesNo("End-to-end encrypted? (y/N)"); err != nil {
			return err
		}
	}
	return a.conn.Send(protocol.EventCreateGroup, protocol.CreateGroupPayload{
		Name:        name,
		IsPublic:    public,
		IsEncrypted: encrypted,
	})
}

func (a *App) askYesNo(prompt string) (bool, error) {
	answer, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// Invite adds a user to the open group.
func (a *App) Invite(ctx context.Context, user string) error {
	return a.groupUserOp(user, protocol.EventAddToGroup)
}

// Kick removes a user from the open group.
func (a *App) Kick(ctx context.Context, user string) error {
	return a.groupUserOp(user, protocol.EventRemoveFromGroup)
}

// ToggleMute flips a member's mute flag in the open group. The server
// checks that the caller is an admin.
func (a *App) ToggleMute(ctx context.Context, user string) error {
	return a.groupUserOp(user, protocol.EventToggleMute)
}

func (a *App) groupUserOp(user, event string) error {
	groupID, err := a.openedGroup()
	if err != nil {
		return err
	}
	userID, err := parseUserRef(user)
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	return a.conn.Send(event, protocol.GroupUserPayload{GroupID: groupID, UserID: userID})
}

// MuteLocal toggles this device's notification mute for the open group.
// Nothing leaves the machine; the flag lives in the local cache.
func (a *App) MuteLocal(ctx context.Context) error {
	groupID, err := a.openedGroup()
	if err != nil {
		return err
	}
	muted := !a.state.LocalMuted(groupID)
	if err := a.store.SetLocalMute(ctx, groupID, muted); err != nil {
		return err
	}
	a.state.SetLocalMute(groupID, muted)
	if muted {
		printlnFn("Notifications muted for this group on this device")
	} else {
		printlnFn("Notifications unmuted")
	}
	return nil
}

// Leave exits the open group. The server posts the system notice.
func (a *App) Leave(ctx context.Context) error {
	groupID, err := a.openedGroup()
	if err != nil {
		return err
	}
	if err := a.conn.Send(protocol.EventLeaveGroup, protocol.GroupPayload{GroupID: groupID}); err != nil {
		return err
	}
	return a.CloseConversation()
}

// DeleteGroup removes the open group entirely. The server enforces
// ownership.
func (a *App) DeleteGroup(ctx context.Context) error {
	groupID, err := a.openedGroup()
	if err != nil {
		return err
	}
	if err := a.conn.Send(protocol.EventDeleteGroup, protocol.GroupPayload{GroupID: groupID}); err != nil {
		return err
	}
	return a.CloseConversation()
}

// SetVisibility switches how other users see this account's presence.
func (a *App) SetVisibility(ctx context.Context, visible bool) error {
	status := protocol.VisibilityVisible
	if !visible {
		status = protocol.VisibilityInvisible
	}
	if err := a.conn.Send(protocol.EventSetStatus, protocol.SetStatusPayload{Status: status}); err != nil {
		return err
	}
	printlnFn("Presence set to", status)
	return nil
}
