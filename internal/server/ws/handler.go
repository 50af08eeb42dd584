// Package ws is the websocket transport: token-authenticated upgrade,
// one reader/writer goroutine pair per connection, and the dispatch from
// wire events to the engine services. Events dispatch inline on the
// connection's read goroutine, so a slow statement stalls only its own
// session.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/auth"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/hub"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/receipts"
	"github.com/parleychat/parley/internal/server/router"
	"github.com/parleychat/parley/internal/server/users"
)

// Deps bundles everything the transport dispatches into.
type Deps struct {
	Secret     []byte
	Users      *users.Service
	Groups     *groups.Service
	Messages   *messages.Service
	Receipts   *receipts.Service
	Router     *router.Service
	Registry   *hub.Registry
	Visibility *hub.Visibility
	Lists      *hub.Lists
	Logger     logging.Logger
}

type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy belongs to the embedding product; the CLI
			// client sends no Origin header at all
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the handshake and upgrades. The identity comes
// from the externally minted token; an unverifiable token never upgrades.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		h:        h,
		identity: identity,
		session:  newSession(identity.UserID, conn),
	}
	go c.session.writePump()
	c.readLoop()
}

func (h *Handler) authenticate(r *http.Request) (*auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
			token = strings.TrimPrefix(ah, "Bearer ")
		}
	}
	if token == "" {
		return nil, common.ErrUnauthorized
	}
	return auth.VerifyToken(token, h.deps.Secret)
}

// client is the per-connection state: the verified identity from the
// handshake, and the stored user once join completed.
type client struct {
	h        *Handler
	identity *auth.Identity
	session  *session
	user     *users.User
}

func (c *client) readLoop() {
	ctx := context.Background()
	conn := c.session.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer c.teardown(ctx)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.h.deps.Logger.Warn(ctx, "connection read failed", "userID", c.identity.UserID, "error", err)
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *client) teardown(ctx context.Context) {
	c.session.Close()
	if c.user == nil {
		return
	}
	// a superseded session must not broadcast its successor away
	if c.h.deps.Registry.Release(c.session) {
		c.h.deps.Logger.Info(ctx, "user disconnected", "userID", c.user.ID)
		c.h.deps.Visibility.Broadcast(ctx)
	}
}

func (c *client) dispatch(ctx context.Context, raw []byte) {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		c.session.Send(protocol.ErrorFrame(reason(err)))
		return
	}
	if err := c.handle(ctx, frame); err != nil {
		c.h.deps.Logger.Debug(ctx, "event rejected",
			"event", frame.Event, "userID", c.identity.UserID, "error", err)
		c.session.Send(protocol.ErrorFrame(reason(err)))
	}
}

func (c *client) handle(ctx context.Context, f *protocol.Frame) error {
	if f.Event == protocol.EventJoin {
		return c.onJoin(ctx, f)
	}
	if c.user == nil {
		return fmt.Errorf("%w: join first", common.ErrUnauthorized)
	}

	switch f.Event {
	case protocol.EventGetGroups:
		return c.onGetGroups(ctx)
	case protocol.EventGetGroupMembers:
		return c.onGetGroupMembers(ctx, f)
	case protocol.EventGetMessages:
		return c.onGetMessages(ctx, f)
	case protocol.EventSendMessage:
		return c.onSendMessage(ctx, f)
	case protocol.EventMarkRead:
		return c.onMarkRead(ctx, f)
	case protocol.EventMarkDelivered:
		return c.onMarkDelivered(ctx, f)
	case protocol.EventSetStatus:
		return c.onSetStatus(ctx, f)
	case protocol.EventSetPublicKey:
		return c.onSetPublicKey(ctx, f)
	case protocol.EventCreateGroup:
		return c.onCreateGroup(ctx, f)
	case protocol.EventAddToGroup:
		return c.onAddToGroup(ctx, f)
	case protocol.EventRemoveFromGroup:
		return c.onRemoveFromGroup(ctx, f)
	case protocol.EventToggleMute:
		return c.onToggleMute(ctx, f)
	case protocol.EventLeaveGroup:
		return c.onLeaveGroup(ctx, f)
	case protocol.EventDeleteGroup:
		return c.onDeleteGroup(ctx, f)
	default:
		return fmt.Errorf("%w: unknown event %q", common.ErrValidation, f.Event)
	}
}
