package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/auth"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/hub"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/notify"
	"github.com/parleychat/parley/internal/server/receipts"
	"github.com/parleychat/parley/internal/server/router"
	"github.com/parleychat/parley/internal/server/users"
)

var testSecret = []byte("handshake-test-secret")

type testServer struct {
	srv   *httptest.Server
	users *memUsers
}

// newTestServer wires the full engine over in-memory repositories and
// serves it from an httptest listener.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.NewText(io.Discard)

	usersRepo := newMemUsers()
	groupsRepo := newMemGroups()
	msgsRepo := newMemMessages()
	rcptRepo := newMemReceipts()

	registry := hub.NewRegistry()
	visibility := hub.NewVisibility(usersRepo, groupsRepo, registry, logger)
	lists := hub.NewLists(groupsRepo, registry, logger)
	locks := common.NewKeyMutex[int64]()

	usersSvc := users.NewService(usersRepo, registry, visibility, logger)
	routerSvc := router.NewService(msgsRepo, groupsRepo, usersSvc, registry, notify.Noop{}, locks, logger)
	groupsSvc := groups.NewService(groupsRepo, usersRepo, routerSvc, lists, locks, logger)
	msgsSvc := messages.NewService(msgsRepo, groupsRepo, 50, logger)
	rcptSvc := receipts.NewService(rcptRepo, msgsRepo, usersRepo, registry, logger)

	h := NewHandler(Deps{
		Secret:     testSecret,
		Users:      usersSvc,
		Groups:     groupsSvc,
		Messages:   msgsSvc,
		Receipts:   rcptSvc,
		Router:     routerSvc,
		Registry:   registry,
		Visibility: visibility,
		Lists:      lists,
		Logger:     logger,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, users: usersRepo}
}

func (ts *testServer) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (ts *testServer) dial(t *testing.T, id *auth.Identity) *websocket.Conn {
	t.Helper()
	tok, err := auth.GenerateToken(id, testSecret, time.Hour)
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(tok), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials and completes the join handshake, consuming the initial
// group_list and user_list pushes.
func (ts *testServer) join(t *testing.T, id *auth.Identity) *websocket.Conn {
	t.Helper()
	conn := ts.dial(t, id)
	send(t, conn, protocol.EventJoin, protocol.JoinPayload{UserID: id.UserID})
	awaitEvent(t, conn, protocol.EventGroupList)
	awaitEvent(t, conn, protocol.EventUserList)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.EncodeFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// awaitEvent reads frames until one with the given event name arrives,
// discarding everything else (stray presence refreshes in particular).
func awaitEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		f, err := protocol.DecodeFrame(raw)
		require.NoError(t, err)
		if f.Event == event {
			return f.Data
		}
	}
}

func decodeJSON[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHandshake_RejectsMissingOrBadToken(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestJoin_SendsInitialState(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, &auth.Identity{UserID: 1, Name: "alice"})

	send(t, conn, protocol.EventJoin, protocol.JoinPayload{UserID: 1})
	awaitEvent(t, conn, protocol.EventGroupList)
	list := decodeJSON[[]protocol.UserEntry](t, awaitEvent(t, conn, protocol.EventUserList))

	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Name)
	assert.Equal(t, protocol.StatusOnline, list[0].Status)
}

func TestJoin_RejectsForeignUserID(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, &auth.Identity{UserID: 1, Name: "alice"})

	send(t, conn, protocol.EventJoin, protocol.JoinPayload{UserID: 2})
	p := decodeJSON[protocol.ErrorPayload](t, awaitEvent(t, conn, protocol.EventError))
	assert.Equal(t, "unauthorized", p.Message)
}

func TestEventsBeforeJoinAreRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, &auth.Identity{UserID: 1, Name: "alice"})

	send(t, conn, protocol.EventGetGroups, nil)
	p := decodeJSON[protocol.ErrorPayload](t, awaitEvent(t, conn, protocol.EventError))
	assert.Equal(t, "unauthorized", p.Message)
}

func TestUnknownEventRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.join(t, &auth.Identity{UserID: 1, Name: "alice"})

	send(t, conn, "bogus", nil)
	p := decodeJSON[protocol.ErrorPayload](t, awaitEvent(t, conn, protocol.EventError))
	assert.Contains(t, p.Message, "unknown event")
}

func TestDirectMessage_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.join(t, &auth.Identity{UserID: 1, Name: "alice"})
	bob := ts.join(t, &auth.Identity{UserID: 2, Name: "bob"})

	send(t, alice, protocol.EventSendMessage, protocol.SendMessagePayload{
		ReceiverID: 2, Content: "hi bob", TempID: "t-1",
	})

	echo := decodeJSON[protocol.WireMessage](t, awaitEvent(t, alice, protocol.EventReceiveMessage))
	assert.Equal(t, "t-1", echo.TempID, "sender echo carries the temp id")
	assert.Equal(t, "hi bob", echo.Content)
	assert.NotZero(t, echo.ID)
	assert.Equal(t, protocol.MessageTypeText, echo.Type, "empty type defaults to text")

	got := decodeJSON[protocol.WireMessage](t, awaitEvent(t, bob, protocol.EventReceiveMessage))
	assert.Empty(t, got.TempID)
	assert.Equal(t, int64(1), got.SenderID)
	assert.Equal(t, echo.ID, got.ID)

	send(t, bob, protocol.EventMarkDelivered, protocol.MarkDeliveredPayload{MessageID: got.ID})
	upd := decodeJSON[protocol.DeliveryUpdatePayload](t, awaitEvent(t, alice, protocol.EventDeliveryUpdate))
	assert.Equal(t, protocol.DeliveryDelivered, upd.Status)
	assert.Equal(t, got.ID, upd.MessageID)
	assert.Equal(t, int64(2), upd.UserID)
}

func TestDirectMessage_OfflineReceiverQueuedThenDelivered(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.join(t, &auth.Identity{UserID: 1, Name: "alice"})
	// bob exists but is not connected
	_, err := ts.users.Upsert(context.Background(), &users.User{ID: 2, Name: "bob"})
	require.NoError(t, err)

	send(t, alice, protocol.EventSendMessage, protocol.SendMessagePayload{
		ReceiverID: 2, Content: "hi bob", TempID: "t-7",
	})
	echo := decodeJSON[protocol.WireMessage](t, awaitEvent(t, alice, protocol.EventReceiveMessage))
	queued := decodeJSON[protocol.DeliveryUpdatePayload](t, awaitEvent(t, alice, protocol.EventDeliveryUpdate))
	assert.Equal(t, protocol.DeliveryQueued, queued.Status)
	assert.Equal(t, echo.ID, queued.MessageID)
	assert.Equal(t, "t-7", queued.TempID)

	// bob connects later, pulls history and acknowledges
	bob := ts.join(t, &auth.Identity{UserID: 2, Name: "bob"})
	send(t, bob, protocol.EventGetMessages, protocol.GetMessagesPayload{UserID: 1})
	history := decodeJSON[protocol.MessageHistoryPayload](t, awaitEvent(t, bob, protocol.EventMessageHistory))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi bob", history.Messages[0].Content)

	send(t, bob, protocol.EventMarkDelivered, protocol.MarkDeliveredPayload{MessageID: history.Messages[0].ID})
	upd := decodeJSON[protocol.DeliveryUpdatePayload](t, awaitEvent(t, alice, protocol.EventDeliveryUpdate))
	assert.Equal(t, protocol.DeliveryDelivered, upd.Status)
}

func TestPublicGroup_CreatePostAndNarration(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.join(t, &auth.Identity{UserID: 9, Name: "root", IsAdmin: true})
	alice := ts.join(t, &auth.Identity{UserID: 1, Name: "alice"})

	send(t, admin, protocol.EventCreateGroup, protocol.CreateGroupPayload{Name: "lobby", IsPublic: true})

	// creation narrates to every connection, then group lists refresh
	sys := decodeJSON[protocol.WireMessage](t, awaitEvent(t, alice, protocol.EventReceiveMessage))
	assert.Equal(t, protocol.MessageTypeSystem, sys.Type)
	assert.Zero(t, sys.SenderID)
	assert.Contains(t, sys.Content, "created the group")

	aliceGroups := decodeJSON[[]protocol.GroupEntry](t, awaitEvent(t, alice, protocol.EventGroupList))
	require.Len(t, aliceGroups, 1)
	assert.True(t, aliceGroups[0].IsPublic)

	_ = awaitEvent(t, admin, protocol.EventReceiveMessage) // admin's copy of the narration
	awaitEvent(t, admin, protocol.EventGroupList)

	// implicit membership: alice never joined lobby but may post
	send(t, alice, protocol.EventSendMessage, protocol.SendMessagePayload{
		GroupID: aliceGroups[0].ID, Content: "hello", Type: protocol.MessageTypeText,
	})
	msg := decodeJSON[protocol.WireMessage](t, awaitEvent(t, admin, protocol.EventReceiveMessage))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, int64(1), msg.SenderID)
}

func TestPrivateGroup_AddLeaveFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.join(t, &auth.Identity{UserID: 1, Name: "alice"})
	bob := ts.join(t, &auth.Identity{UserID: 2, Name: "bob"})

	send(t, alice, protocol.EventCreateGroup, protocol.CreateGroupPayload{Name: "duo"})
	_ = awaitEvent(t, alice, protocol.EventReceiveMessage) // creation narration
	aliceGroups := decodeJSON[[]protocol.GroupEntry](t, awaitEvent(t, alice, protocol.EventGroupList))
	require.Len(t, aliceGroups, 1)
	groupID := aliceGroups[0].ID

	send(t, alice, protocol.EventAddToGroup, protocol.GroupUserPayload{GroupID: groupID, UserID: 2})

	added := decodeJSON[protocol.WireMessage](t, awaitEvent(t, bob, protocol.EventReceiveMessage))
	assert.Contains(t, added.Content, "added bob")
	bobGroups := decodeJSON[[]protocol.GroupEntry](t, awaitEvent(t, bob, protocol.EventGroupList))
	require.Len(t, bobGroups, 1)
	assert.Equal(t, "duo", bobGroups[0].Name)

	send(t, bob, protocol.EventLeaveGroup, protocol.GroupPayload{GroupID: groupID})

	left := decodeJSON[protocol.WireMessage](t, awaitEvent(t, alice, protocol.EventReceiveMessage))
	assert.Contains(t, left.Content, "bob left the group")
	bobGroups = decodeJSON[[]protocol.GroupEntry](t, awaitEvent(t, bob, protocol.EventGroupList))
	assert.Empty(t, bobGroups)
}
