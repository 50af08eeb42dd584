package hub

import (
	"context"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
)

// Lists pushes group_list frames. Group lists differ per viewer (private
// groups show only to their members), so each push is built fresh.
type Lists struct {
	groups   groups.Repository
	registry *Registry
	logger   logging.Logger
}

func NewLists(groupsRepo groups.Repository, registry *Registry, logger logging.Logger) *Lists {
	return &Lists{groups: groupsRepo, registry: registry, logger: logger}
}

// GroupList builds the group_list payload for one user.
func (l *Lists) GroupList(ctx context.Context, userID int64) ([]protocol.GroupEntry, error) {
	visible, err := l.groups.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.GroupEntry, 0, len(visible))
	for _, g := range visible {
		entries = append(entries, protocol.GroupEntry{
			ID:          g.ID,
			Name:        g.Name,
			IsPublic:    g.IsPublic,
			IsEncrypted: g.IsEncrypted,
		})
	}
	return entries, nil
}

// PushGroups refreshes one user's group list, if they are connected.
func (l *Lists) PushGroups(ctx context.Context, userID int64) {
	s, ok := l.registry.Get(userID)
	if !ok {
		return
	}
	list, err := l.GroupList(ctx, userID)
	if err != nil {
		l.logger.Warn(ctx, "group list push failed", "userID", userID, "error", err)
		return
	}
	s.Send(protocol.MustEncodeFrame(protocol.EventGroupList, list))
}

// BroadcastGroups refreshes every connected user's group list.
func (l *Lists) BroadcastGroups(ctx context.Context) {
	for _, s := range l.registry.Snapshot() {
		list, err := l.GroupList(ctx, s.UserID())
		if err != nil {
			l.logger.Warn(ctx, "group list push failed", "userID", s.UserID(), "error", err)
			continue
		}
		s.Send(protocol.MustEncodeFrame(protocol.EventGroupList, list))
	}
}
