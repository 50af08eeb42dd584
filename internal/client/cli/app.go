// Package cli is the interactive chat client: a REPL over a live server
// connection, with a local cache for offline viewing and a keyring for
// end-to-end encrypted conversations.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/parleychat/parley/internal/client/config"
	"github.com/parleychat/parley/internal/client/conn"
	"github.com/parleychat/parley/internal/client/keyring"
	"github.com/parleychat/parley/internal/client/state"
	"github.com/parleychat/parley/internal/client/store"
	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/auth"
)

// wire is the slice of the connection the commands and the receive loop
// use; tests swap in a fake.
type wire interface {
	Send(event string, payload any) error
	Listen(ctx context.Context, handler conn.Handler) error
	Close() error
}

var (
	errNoConversation = errors.New("no open conversation")
	errNoGroup        = errors.New("no open group")
	errLocked         = errors.New("keys are locked")
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	identity *auth.Identity

	store *store.Store
	state *state.Manager
	conn  wire

	mu   sync.Mutex
	ring *keyring.Keyring

	reader     *bufio.Reader
	out        io.Writer
	listenDone chan struct{}
}

// NewApp builds the client from its configuration. The identity token is
// only introspected here; the server verifies it on connect.
func NewApp(cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.Token == "" {
		return nil, errors.New("no identity token: pass -t or set PARLEY_TOKEN")
	}
	identity, err := auth.ParseIdentity(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return &App{
		config:   cfg,
		logger:   logger,
		identity: identity,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}, nil
}

// Run connects, joins, offers to unlock the keyring, and hands control to
// the REPL until the user exits or the connection dies.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.connect(ctx); err != nil {
		return err
	}

	printlnFn(fmt.Sprintf("Connected to %s as %s (type 'help' for commands)", a.config.ServerURL, a.identity.Name))
	_ = a.Unlock(ctx)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))

	cancel()
	a.Close()
	return nil
}

func (a *App) connect(ctx context.Context) error {
	st, err := store.Open(ctx, a.config.DBPath)
	if err != nil {
		return err
	}
	a.store = st

	if err := a.adoptCache(ctx); err != nil {
		st.Close()
		return err
	}

	a.state = state.NewManager(a.identity.UserID)
	mutes, err := st.LocalMutes(ctx)
	if err != nil {
		st.Close()
		return err
	}
	a.state.SetLocalMutes(mutes)

	c, err := conn.Dial(ctx, a.config.ServerURL, a.config.Token, a.logger)
	if err != nil {
		st.Close()
		return err
	}
	a.conn = c

	if err := a.conn.Send(protocol.EventJoin, protocol.JoinPayload{UserID: a.identity.UserID}); err != nil {
		a.Close()
		return err
	}

	a.listenDone = make(chan struct{})
	go func() {
		defer close(a.listenDone)
		if err := a.conn.Listen(ctx, a.handleFrame); err != nil && ctx.Err() == nil {
			printlnFn("Connection lost:", err)
		}
	}()
	return nil
}

// adoptCache binds the cache file to this account on first use and
// refuses to mix two accounts in one file afterwards.
func (a *App) adoptCache(ctx context.Context) error {
	me := strconv.FormatInt(a.identity.UserID, 10)
	owner, err := a.store.Profile(ctx, store.KeyAccountID)
	if err != nil {
		return err
	}
	if owner == "" {
		if err := a.store.SetProfile(ctx, store.KeyAccountID, me); err != nil {
			return err
		}
		return a.store.SetProfile(ctx, store.KeyAccountName, a.identity.Name)
	}
	if owner != me {
		return fmt.Errorf("cache %s belongs to account %s; pass -f to use another file", a.config.DBPath, owner)
	}
	return nil
}

// Unlock prompts for the encryption secret and derives the message keys.
// An empty secret skips unlocking; a wrong secret is rejected against the
// pinned fingerprint. On success the public key is published for peers.
func (a *App) Unlock(ctx context.Context) error {
	secret, err := getSecret(a.out)
	if err != nil {
		return err
	}
	defer common.Wipe(secret)

	if len(secret) == 0 {
		printlnFn("No secret entered; encrypted conversations stay locked ('unlock' to retry)")
		return nil
	}

	ring, err := keyring.Unlock(ctx, a.store, secret, a.identity.UserID)
	if err != nil {
		printlnFn("Unlock failed:", err)
		return err
	}
	a.setRing(ring)

	if err := a.conn.Send(protocol.EventSetPublicKey, protocol.SetPublicKeyPayload{PublicKey: ring.PublicKeyString()}); err != nil {
		return err
	}
	printlnFn("Keys unlocked, fingerprint", ring.Fingerprint()[:16])
	return nil
}

func (a *App) setRing(r *keyring.Keyring) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring = r
}

func (a *App) currentRing() *keyring.Keyring {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring
}

func (a *App) isUnlocked() bool {
	return a.currentRing() != nil
}

func (a *App) getStatus() string {
	s := a.identity.Name
	if conv, ok := a.state.Opened(); ok {
		s += " " + a.convLabel(conv)
	}
	total := 0
	for _, n := range a.state.Unreads() {
		total += n
	}
	if total > 0 {
		s += fmt.Sprintf(" [%d unread]", total)
	}
	return s
}

// Close tears the connection down and waits for the receive loop before
// closing the cache underneath it.
func (a *App) Close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if a.listenDone != nil {
		<-a.listenDone
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
