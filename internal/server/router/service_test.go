package router

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/hub"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/notify"
	"github.com/parleychat/parley/internal/server/users"
)

type testSession struct {
	id     int64
	mu     sync.Mutex
	frames [][]byte
}

func (s *testSession) UserID() int64 { return s.id }
func (s *testSession) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}
func (s *testSession) Close() {}

// byEvent decodes every captured frame with the given event name.
func (s *testSession) byEvent(t *testing.T, event string) []json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, raw := range s.frames {
		f, err := protocol.DecodeFrame(raw)
		require.NoError(t, err)
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (s *testSession) received(t *testing.T) []protocol.WireMessage {
	t.Helper()
	var out []protocol.WireMessage
	for _, data := range s.byEvent(t, protocol.EventReceiveMessage) {
		var m protocol.WireMessage
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

type stubMessages struct {
	nextID  int64
	created []*messages.Message
}

func (s *stubMessages) Create(ctx context.Context, m *messages.Message) (*messages.Message, error) {
	s.nextID++
	stored := *m
	stored.ID = s.nextID
	s.created = append(s.created, &stored)
	return &stored, nil
}
func (s *stubMessages) GetByID(ctx context.Context, id int64) (*messages.Message, error) {
	return nil, common.ErrNotFound
}
func (s *stubMessages) SetDelivered(ctx context.Context, id int64) error { return nil }
func (s *stubMessages) ListGroup(ctx context.Context, groupID, beforeID int64, limit int) ([]*messages.Message, error) {
	return nil, nil
}
func (s *stubMessages) ListDirect(ctx context.Context, userA, userB, beforeID int64, limit int) ([]*messages.Message, error) {
	return nil, nil
}

type stubGroups struct {
	group   *groups.Group
	members map[int64]*groups.Member
}

func (s *stubGroups) Create(ctx context.Context, g *groups.Group, creatorID int64) (*groups.Group, error) {
	return g, nil
}
func (s *stubGroups) GetByID(ctx context.Context, id int64) (*groups.Group, error) {
	if s.group == nil || s.group.ID != id {
		return nil, common.ErrNotFound
	}
	return s.group, nil
}
func (s *stubGroups) ListVisible(ctx context.Context, userID int64) ([]*groups.Group, error) {
	return nil, nil
}
func (s *stubGroups) Delete(ctx context.Context, id int64) error { return nil }
func (s *stubGroups) GetMember(ctx context.Context, groupID, userID int64) (*groups.Member, error) {
	if m, ok := s.members[userID]; ok {
		return m, nil
	}
	return nil, common.ErrNotFound
}
func (s *stubGroups) AddMember(ctx context.Context, groupID, userID int64) error    { return nil }
func (s *stubGroups) RemoveMember(ctx context.Context, groupID, userID int64) error { return nil }
func (s *stubGroups) UpsertMute(ctx context.Context, groupID, userID int64, muted bool) error {
	return nil
}
func (s *stubGroups) ListMembers(ctx context.Context, groupID int64) ([]*groups.MemberInfo, error) {
	return nil, nil
}
func (s *stubGroups) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	ids := make([]int64, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	return ids, nil
}
func (s *stubGroups) PrivateCoMembers(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	return nil, nil
}

type fakeDirectory struct {
	users    map[int64]*users.User
	mirrored map[int64]string
}

func (f *fakeDirectory) Get(ctx context.Context, id int64) (*users.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, common.ErrNotFound
}
func (f *fakeDirectory) MirrorKey(ctx context.Context, userID int64, publicKey string) {
	if f.mirrored == nil {
		f.mirrored = map[int64]string{}
	}
	f.mirrored[userID] = publicKey
}

type fakeNotifier struct {
	events []notify.Event
}

func (f *fakeNotifier) Notify(ctx context.Context, ev notify.Event) {
	f.events = append(f.events, ev)
}

func newRouter(msgs *stubMessages, grps *stubGroups, dir *fakeDirectory, registry *hub.Registry, n notify.Notifier) *Service {
	if n == nil {
		n = notify.Noop{}
	}
	return NewService(msgs, grps, dir, registry, n, common.NewKeyMutex[int64](), logging.NewText(io.Discard))
}

func bind(registry *hub.Registry, ids ...int64) map[int64]*testSession {
	out := make(map[int64]*testSession, len(ids))
	for _, id := range ids {
		s := &testSession{id: id}
		registry.Bind(s)
		out[id] = s
	}
	return out
}

func TestSubmit_PublicGroupReachesEveryConnection(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1, 2, 3)
	msgs := &stubMessages{}
	svc := newRouter(msgs, &stubGroups{group: &groups.Group{ID: 5, IsPublic: true}}, &fakeDirectory{}, registry, nil)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, GroupID: 5, Content: "hello all", Type: protocol.MessageTypeText, TempID: "t-1",
	})
	require.NoError(t, err)
	require.Len(t, msgs.created, 1)

	for _, id := range []int64{1, 2, 3} {
		got := sessions[id].received(t)
		require.Len(t, got, 1, "user %d", id)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, "hello all", got[0].Content)
	}
	assert.Equal(t, "t-1", sessions[1].received(t)[0].TempID, "sender echo confirms the pending id")
	assert.Empty(t, sessions[2].received(t)[0].TempID)
}

func TestSubmit_PrivateGroupReachesMembersOnly(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1, 2, 3)
	grps := &stubGroups{
		group: &groups.Group{ID: 5},
		members: map[int64]*groups.Member{
			1: {GroupID: 5, UserID: 1},
			2: {GroupID: 5, UserID: 2},
		},
	}
	svc := newRouter(&stubMessages{}, grps, &fakeDirectory{}, registry, nil)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, GroupID: 5, Content: "members only", Type: protocol.MessageTypeText,
	})
	require.NoError(t, err)

	assert.Len(t, sessions[1].received(t), 1)
	assert.Len(t, sessions[2].received(t), 1)
	assert.Empty(t, sessions[3].received(t), "non-member connection stays silent")
}

func TestSubmit_RejectionsNeverPersist(t *testing.T) {
	grps := &stubGroups{
		group: &groups.Group{ID: 5},
		members: map[int64]*groups.Member{
			2: {GroupID: 5, UserID: 2, IsMuted: true},
		},
	}

	tests := []struct {
		name    string
		in      SubmitInput
		wantErr error
	}{
		{
			name:    "non-member of private group",
			in:      SubmitInput{SenderID: 9, GroupID: 5, Content: "x", Type: protocol.MessageTypeText},
			wantErr: common.ErrNotMember,
		},
		{
			name:    "muted member",
			in:      SubmitInput{SenderID: 2, GroupID: 5, Content: "x", Type: protocol.MessageTypeText},
			wantErr: common.ErrMuted,
		},
		{
			name:    "unknown group",
			in:      SubmitInput{SenderID: 2, GroupID: 77, Content: "x", Type: protocol.MessageTypeText},
			wantErr: common.ErrNotFound,
		},
		{
			name:    "unknown direct receiver",
			in:      SubmitInput{SenderID: 2, ReceiverID: 44, Content: "x", Type: protocol.MessageTypeText},
			wantErr: common.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := &stubMessages{}
			svc := newRouter(msgs, grps, &fakeDirectory{}, hub.NewRegistry(), nil)

			err := svc.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, msgs.created, "rejected message must not be stored")
		})
	}
}

func TestSubmit_EncryptedGroupSlicesPerRecipient(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1, 2)
	grps := &stubGroups{
		group: &groups.Group{ID: 5, IsEncrypted: true},
		members: map[int64]*groups.Member{
			1: {GroupID: 5, UserID: 1},
			2: {GroupID: 5, UserID: 2},
		},
	}
	svc := newRouter(&stubMessages{}, grps, &fakeDirectory{}, registry, nil)

	content := `{"1":{"iv":"QUFBQUFBQUFBQUFB","data":"Zm9yLTE="},"2":{"iv":"QUFBQUFBQUFBQUFB","data":"Zm9yLTI="}}`
	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, GroupID: 5, Content: content, Type: protocol.MessageTypeEncrypted,
	})
	require.NoError(t, err)

	one := sessions[1].received(t)[0].Content
	two := sessions[2].received(t)[0].Content
	assert.Contains(t, one, "Zm9yLTE=")
	assert.NotContains(t, one, "Zm9yLTI=")
	assert.Contains(t, two, "Zm9yLTI=")
	assert.NotContains(t, two, "Zm9yLTE=")
}

func TestSubmit_DirectOnlineReceiver(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1, 2)
	notifier := &fakeNotifier{}
	dir := &fakeDirectory{users: map[int64]*users.User{2: {ID: 2, Name: "bob"}}}
	svc := newRouter(&stubMessages{}, &stubGroups{}, dir, registry, notifier)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, ReceiverID: 2, Content: "hi bob", Type: protocol.MessageTypeText, TempID: "t-9",
	})
	require.NoError(t, err)

	echo := sessions[1].received(t)
	require.Len(t, echo, 1)
	assert.Equal(t, "t-9", echo[0].TempID)
	assert.Equal(t, int64(1), echo[0].ID)

	got := sessions[2].received(t)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].TempID)

	assert.Empty(t, sessions[1].byEvent(t, protocol.EventDeliveryUpdate), "no queued notice for an online receiver")
	assert.Empty(t, notifier.events)
}

func TestSubmit_DirectOfflineReceiverIsQueued(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1)
	notifier := &fakeNotifier{}
	dir := &fakeDirectory{users: map[int64]*users.User{2: {ID: 2, Name: "bob"}}}
	msgs := &stubMessages{}
	svc := newRouter(msgs, &stubGroups{}, dir, registry, notifier)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, ReceiverID: 2, Content: "hi bob", Type: protocol.MessageTypeText, TempID: "t-3",
	})
	require.NoError(t, err)
	require.Len(t, msgs.created, 1, "offline receiver still gets the message persisted")

	updates := sessions[1].byEvent(t, protocol.EventDeliveryUpdate)
	require.Len(t, updates, 1)
	var upd protocol.DeliveryUpdatePayload
	require.NoError(t, json.Unmarshal(updates[0], &upd))
	assert.Equal(t, protocol.DeliveryQueued, upd.Status)
	assert.Equal(t, int64(1), upd.MessageID)
	assert.Equal(t, int64(2), upd.UserID)
	assert.Equal(t, "t-3", upd.TempID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, int64(2), notifier.events[0].UserID)
	assert.Equal(t, int64(1), notifier.events[0].SenderID)
}

func TestSubmit_SelfDirectMessageEchoesOnce(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1)
	dir := &fakeDirectory{users: map[int64]*users.User{1: {ID: 1}}}
	svc := newRouter(&stubMessages{}, &stubGroups{}, dir, registry, nil)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, ReceiverID: 1, Content: "note to self", Type: protocol.MessageTypeText,
	})
	require.NoError(t, err)
	assert.Len(t, sessions[1].received(t), 1)
}

func TestSubmit_MirrorsSenderKeySnapshot(t *testing.T) {
	dir := &fakeDirectory{users: map[int64]*users.User{2: {ID: 2}}}
	svc := newRouter(&stubMessages{}, &stubGroups{}, dir, hub.NewRegistry(), nil)

	err := svc.Submit(context.Background(), SubmitInput{
		SenderID: 1, ReceiverID: 2, Content: "x", Type: protocol.MessageTypeText, SenderPublicKey: "snap",
	})
	require.NoError(t, err)
	assert.Equal(t, "snap", dir.mirrored[1])
}

func TestSubmitSystem_SenderZeroTypeSystem(t *testing.T) {
	registry := hub.NewRegistry()
	sessions := bind(registry, 1, 2)
	grps := &stubGroups{
		group:   &groups.Group{ID: 5},
		members: map[int64]*groups.Member{1: {GroupID: 5, UserID: 1}},
	}
	msgs := &stubMessages{}
	svc := newRouter(msgs, grps, &fakeDirectory{}, registry, nil)

	err := svc.SubmitSystem(context.Background(), 5, "alice left the group")
	require.NoError(t, err)

	require.Len(t, msgs.created, 1)
	assert.Zero(t, msgs.created[0].SenderID)
	assert.Equal(t, protocol.MessageTypeSystem, msgs.created[0].Type)

	got := sessions[1].received(t)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].SenderID)
	assert.Equal(t, protocol.MessageTypeSystem, got[0].Type)
	assert.Empty(t, sessions[2].received(t))
}
