package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it
// with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. The real
// App satisfies it; tests provide a lightweight stub.
type execIface interface {
	isUnlocked() bool
	Users(ctx context.Context) error
	Groups(ctx context.Context) error
	Open(ctx context.Context, target string) error
	CloseConversation() error
	History(ctx context.Context) error
	MarkRead(ctx context.Context) error
	Send(ctx context.Context, text string) error
	SendEncrypted(ctx context.Context, text string) error
	Members(ctx context.Context) error
	NewGroup(ctx context.Context) error
	Invite(ctx context.Context, user string) error
	Kick(ctx context.Context, user string) error
	ToggleMute(ctx context.Context, user string) error
	MuteLocal(ctx context.Context) error
	Leave(ctx context.Context) error
	DeleteGroup(ctx context.Context) error
	SetVisibility(ctx context.Context, visible bool) error
	Unlock(ctx context.Context) error
}

func printHelp(a execIface) {
	printlnFn("Conversations: users, groups, open g<id>|u<id>, close, history, read")
	printlnFn("Messaging:     send <text>, sendx <text> (encrypted)")
	printlnFn("Groups:        newgroup, members, invite <user>, kick <user>, mute <user>, mutel, leave, delgroup")
	printlnFn("Account:       visible, invisible, unlock, exit")
	if !a.isUnlocked() {
		printlnFn("Keys are locked; 'unlock' enables encrypted conversations")
	}
}

// runREPL reads lines from the scanner, parses the first token as the
// command, and dispatches to a. Unknown commands are reported back. The
// loop exits on EOF or "exit"/"quit". Handler errors are not fatal here;
// commands print their own diagnostics.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("parley %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printHelp(a)

		case "users", "u":
			_ = a.Users(ctx)

		case "groups", "g":
			_ = a.Groups(ctx)

		case "open", "o":
			if len(args) == 0 {
				printlnFn("Usage: open g<id> | u<id>")
				continue
			}
			_ = a.Open(ctx, args[0])

		case "close":
			_ = a.CloseConversation()

		case "history", "h":
			_ = a.History(ctx)

		case "read":
			_ = a.MarkRead(ctx)

		case "send", "s":
			if len(args) == 0 {
				printlnFn("Usage: send <text>")
				continue
			}
			_ = a.Send(ctx, strings.Join(args, " "))

		case "sendx", "x":
			if len(args) == 0 {
				printlnFn("Usage: sendx <text>")
				continue
			}
			_ = a.SendEncrypted(ctx, strings.Join(args, " "))

		case "members":
			_ = a.Members(ctx)

		case "newgroup":
			_ = a.NewGroup(ctx)

		case "invite":
			if len(args) == 0 {
				printlnFn("Usage: invite <user id>")
				continue
			}
			_ = a.Invite(ctx, args[0])

		case "kick":
			if len(args) == 0 {
				printlnFn("Usage: kick <user id>")
				continue
			}
			_ = a.Kick(ctx, args[0])

		case "mute":
			if len(args) == 0 {
				printlnFn("Usage: mute <user id>")
				continue
			}
			_ = a.ToggleMute(ctx, args[0])

		case "mutel":
			_ = a.MuteLocal(ctx)

		case "leave":
			_ = a.Leave(ctx)

		case "delgroup":
			_ = a.DeleteGroup(ctx)

		case "visible":
			_ = a.SetVisibility(ctx, true)

		case "invisible":
			_ = a.SetVisibility(ctx, false)

		case "unlock":
			_ = a.Unlock(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
