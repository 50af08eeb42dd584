package ws

// In-memory repositories backing the transport tests, so a test exercises
// the full stack from dialer to fan-out without a database.

import (
	"context"
	"sort"
	"sync"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/users"
)

type memUsers struct {
	mu sync.Mutex
	m  map[int64]*users.User
}

func newMemUsers() *memUsers { return &memUsers{m: make(map[int64]*users.User)} }

func (r *memUsers) Upsert(ctx context.Context, u *users.User) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[u.ID]; ok {
		cur.Name, cur.Avatar, cur.IsAdmin = u.Name, u.Avatar, u.IsAdmin
		return cur, nil
	}
	cp := *u
	r.m[u.ID] = &cp
	return &cp, nil
}

func (r *memUsers) GetByID(ctx context.Context, id int64) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.m[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}

func (r *memUsers) List(ctx context.Context) ([]*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*users.User, 0, len(r.m))
	for _, u := range r.m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memUsers) SetInvisible(ctx context.Context, id int64, invisible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.m[id]
	if !ok {
		return common.ErrNotFound
	}
	u.IsInvisible = invisible
	return nil
}

func (r *memUsers) SetPublicKey(ctx context.Context, id int64, publicKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.m[id]
	if !ok {
		return common.ErrNotFound
	}
	u.PublicKey = publicKey
	return nil
}

func (r *memUsers) FillPublicKey(ctx context.Context, id int64, publicKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.m[id]; ok && u.PublicKey == "" {
		u.PublicKey = publicKey
	}
	return nil
}

func (r *memUsers) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.m, id)
	return nil
}

type memberKey struct{ group, user int64 }

type memGroups struct {
	mu      sync.Mutex
	next    int64
	groups  map[int64]*groups.Group
	members map[memberKey]*groups.Member
}

func newMemGroups() *memGroups {
	return &memGroups{
		groups:  make(map[int64]*groups.Group),
		members: make(map[memberKey]*groups.Member),
	}
}

func (r *memGroups) Create(ctx context.Context, g *groups.Group, creatorID int64) (*groups.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	cp := *g
	cp.ID = r.next
	cp.CreatedBy = creatorID
	r.groups[cp.ID] = &cp
	if !cp.IsPublic {
		r.members[memberKey{cp.ID, creatorID}] = &groups.Member{GroupID: cp.ID, UserID: creatorID}
	}
	return &cp, nil
}

func (r *memGroups) GetByID(ctx context.Context, id int64) (*groups.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return g, nil
}

func (r *memGroups) ListVisible(ctx context.Context, userID int64) ([]*groups.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*groups.Group
	for _, g := range r.groups {
		if g.IsPublic {
			out = append(out, g)
			continue
		}
		if _, ok := r.members[memberKey{g.ID, userID}]; ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memGroups) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.groups, id)
	for k := range r.members {
		if k.group == id {
			delete(r.members, k)
		}
	}
	return nil
}

func (r *memGroups) GetMember(ctx context.Context, groupID, userID int64) (*groups.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberKey{groupID, userID}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return m, nil
}

func (r *memGroups) AddMember(ctx context.Context, groupID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{groupID, userID}
	if _, ok := r.members[k]; ok {
		return common.ErrAlreadyExists
	}
	r.members[k] = &groups.Member{GroupID: groupID, UserID: userID}
	return nil
}

func (r *memGroups) RemoveMember(ctx context.Context, groupID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{groupID, userID}
	if _, ok := r.members[k]; !ok {
		return common.ErrNotFound
	}
	delete(r.members, k)
	return nil
}

func (r *memGroups) UpsertMute(ctx context.Context, groupID, userID int64, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memberKey{groupID, userID}
	if m, ok := r.members[k]; ok {
		m.IsMuted = muted
		return nil
	}
	r.members[k] = &groups.Member{GroupID: groupID, UserID: userID, IsMuted: muted}
	return nil
}

func (r *memGroups) ListMembers(ctx context.Context, groupID int64) ([]*groups.MemberInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*groups.MemberInfo
	for k, m := range r.members {
		if k.group == groupID {
			out = append(out, &groups.MemberInfo{UserID: m.UserID, IsMuted: m.IsMuted})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *memGroups) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for k := range r.members {
		if k.group == groupID {
			out = append(out, k.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *memGroups) PrivateCoMembers(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]struct{})
	for k := range r.members {
		if k.user != userID {
			continue
		}
		g := r.groups[k.group]
		if g == nil || g.IsPublic {
			continue
		}
		for other := range r.members {
			if other.group == k.group && other.user != userID {
				out[other.user] = struct{}{}
			}
		}
	}
	return out, nil
}

type memMessages struct {
	mu   sync.Mutex
	next int64
	list []*messages.Message
}

func newMemMessages() *memMessages { return &memMessages{} }

func (r *memMessages) Create(ctx context.Context, m *messages.Message) (*messages.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	cp := *m
	cp.ID = r.next
	r.list = append(r.list, &cp)
	return &cp, nil
}

func (r *memMessages) GetByID(ctx context.Context, id int64) (*messages.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.list {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memMessages) SetDelivered(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.list {
		if m.ID == id {
			m.Delivered = true
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memMessages) page(match func(*messages.Message) bool, beforeID int64, limit int) []*messages.Message {
	var out []*messages.Message
	for _, m := range r.list {
		if (beforeID == 0 || m.ID < beforeID) && match(m) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *memMessages) ListGroup(ctx context.Context, groupID, beforeID int64, limit int) ([]*messages.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(m *messages.Message) bool { return m.GroupID == groupID }, beforeID, limit), nil
}

func (r *memMessages) ListDirect(ctx context.Context, userA, userB, beforeID int64, limit int) ([]*messages.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page(func(m *messages.Message) bool {
		if m.GroupID != 0 {
			return false
		}
		return (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA)
	}, beforeID, limit), nil
}

type rcptKey struct{ message, user int64 }

type memReceipts struct {
	mu         sync.Mutex
	deliveries map[rcptKey]bool
	reads      map[rcptKey]bool
}

func newMemReceipts() *memReceipts {
	return &memReceipts{deliveries: make(map[rcptKey]bool), reads: make(map[rcptKey]bool)}
}

func (r *memReceipts) insert(m map[rcptKey]bool, messageID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rcptKey{messageID, userID}
	if m[k] {
		return false, nil
	}
	m[k] = true
	return true, nil
}

func (r *memReceipts) InsertDelivery(ctx context.Context, messageID, userID int64) (bool, error) {
	return r.insert(r.deliveries, messageID, userID)
}

func (r *memReceipts) InsertRead(ctx context.Context, messageID, userID int64) (bool, error) {
	return r.insert(r.reads, messageID, userID)
}
