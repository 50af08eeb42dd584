package messages

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/users"
)

type stubGroupsRepo struct {
	group  *groups.Group
	member *groups.Member
}

func (s *stubGroupsRepo) Create(ctx context.Context, g *groups.Group, creatorID int64) (*groups.Group, error) {
	return g, nil
}
func (s *stubGroupsRepo) GetByID(ctx context.Context, id int64) (*groups.Group, error) {
	if s.group == nil || s.group.ID != id {
		return nil, common.ErrNotFound
	}
	return s.group, nil
}
func (s *stubGroupsRepo) ListVisible(ctx context.Context, userID int64) ([]*groups.Group, error) {
	return nil, nil
}
func (s *stubGroupsRepo) Delete(ctx context.Context, id int64) error { return nil }
func (s *stubGroupsRepo) GetMember(ctx context.Context, groupID, userID int64) (*groups.Member, error) {
	if s.member == nil || s.member.UserID != userID {
		return nil, common.ErrNotFound
	}
	return s.member, nil
}
func (s *stubGroupsRepo) AddMember(ctx context.Context, groupID, userID int64) error    { return nil }
func (s *stubGroupsRepo) RemoveMember(ctx context.Context, groupID, userID int64) error { return nil }
func (s *stubGroupsRepo) UpsertMute(ctx context.Context, groupID, userID int64, muted bool) error {
	return nil
}
func (s *stubGroupsRepo) ListMembers(ctx context.Context, groupID int64) ([]*groups.MemberInfo, error) {
	return nil, nil
}
func (s *stubGroupsRepo) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return nil, nil
}
func (s *stubGroupsRepo) PrivateCoMembers(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	return nil, nil
}

type stubMessagesRepo struct {
	list      []*Message
	gotBefore int64
	gotLimit  int
}

func (s *stubMessagesRepo) Create(ctx context.Context, m *Message) (*Message, error) { return m, nil }
func (s *stubMessagesRepo) GetByID(ctx context.Context, id int64) (*Message, error) {
	return nil, common.ErrNotFound
}
func (s *stubMessagesRepo) SetDelivered(ctx context.Context, id int64) error { return nil }
func (s *stubMessagesRepo) ListGroup(ctx context.Context, groupID, beforeID int64, limit int) ([]*Message, error) {
	s.gotBefore, s.gotLimit = beforeID, limit
	return s.list, nil
}
func (s *stubMessagesRepo) ListDirect(ctx context.Context, userA, userB, beforeID int64, limit int) ([]*Message, error) {
	s.gotBefore, s.gotLimit = beforeID, limit
	return s.list, nil
}

func newHistoryService(msgRepo *stubMessagesRepo, groupsRepo *stubGroupsRepo) *Service {
	return NewService(msgRepo, groupsRepo, 50, logging.NewText(io.Discard))
}

func TestGroupHistory_PrivateGroupMembersOnly(t *testing.T) {
	groupsRepo := &stubGroupsRepo{group: &groups.Group{ID: 5}}
	svc := newHistoryService(&stubMessagesRepo{}, groupsRepo)
	viewer := &users.User{ID: 7}

	_, err := svc.GroupHistory(context.Background(), viewer, 5, 0, 0)
	require.ErrorIs(t, err, common.ErrNotMember)

	groupsRepo.member = &groups.Member{GroupID: 5, UserID: 7}
	_, err = svc.GroupHistory(context.Background(), viewer, 5, 0, 0)
	require.NoError(t, err)
}

func TestGroupHistory_AdminBypass(t *testing.T) {
	groupsRepo := &stubGroupsRepo{group: &groups.Group{ID: 5}}
	svc := newHistoryService(&stubMessagesRepo{}, groupsRepo)

	_, err := svc.GroupHistory(context.Background(), &users.User{ID: 1, IsAdmin: true}, 5, 0, 0)
	require.NoError(t, err)
}

func TestGroupHistory_UnknownGroup(t *testing.T) {
	svc := newHistoryService(&stubMessagesRepo{}, &stubGroupsRepo{})

	_, err := svc.GroupHistory(context.Background(), &users.User{ID: 7}, 5, 0, 0)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGroupHistory_SlicesEncryptedContentPerViewer(t *testing.T) {
	content := `{"7":{"iv":"QUFBQUFBQUFBQUFB","data":"Zm9yLTc="},"8":{"iv":"QUFBQUFBQUFBQUFB","data":"Zm9yLTg="}}`
	msgRepo := &stubMessagesRepo{list: []*Message{{
		ID: 1, SenderID: 8, GroupID: 5, Type: protocol.MessageTypeEncrypted, Content: content,
	}}}
	groupsRepo := &stubGroupsRepo{
		group:  &groups.Group{ID: 5, IsEncrypted: true},
		member: &groups.Member{GroupID: 5, UserID: 7},
	}
	svc := newHistoryService(msgRepo, groupsRepo)

	got, err := svc.GroupHistory(context.Background(), &users.User{ID: 7}, 5, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "Zm9yLTc=", "viewer gets their own envelope")
	assert.NotContains(t, got[0].Content, "Zm9yLTg=", "other members' envelopes are stripped")
}

func TestDirectHistory_DefaultsPageSize(t *testing.T) {
	msgRepo := &stubMessagesRepo{}
	svc := newHistoryService(msgRepo, &stubGroupsRepo{})

	_, err := svc.DirectHistory(context.Background(), &users.User{ID: 7}, 9, 123, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(123), msgRepo.gotBefore)
	assert.Equal(t, 50, msgRepo.gotLimit)

	_, err = svc.DirectHistory(context.Background(), &users.User{ID: 7}, 9, 0, 100000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, msgRepo.gotLimit)
}

func TestContentFor_PlainMessagesUntouched(t *testing.T) {
	m := &Message{Type: protocol.MessageTypeText, GroupID: 5, Content: "hello"}
	assert.Equal(t, "hello", m.ContentFor(7))

	// a DM envelope is a single ciphertext, not a recipient map
	dm := &Message{Type: protocol.MessageTypeEncrypted, ReceiverID: 7, Content: `{"iv":"QUFBQUFBQUFBQUFB","data":"eA=="}`}
	assert.Equal(t, dm.Content, dm.ContentFor(7))
}
