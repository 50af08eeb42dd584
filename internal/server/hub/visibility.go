package hub

import (
	"context"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/users"
)

// Visibility computes, per viewer, the status label of every user. The
// invisibility flag is a presentation feature: admins see the truth,
// private-group co-members see "online", everyone else sees "offline".
type Visibility struct {
	users    users.Repository
	groups   groups.Repository
	registry *Registry
	logger   logging.Logger
}

func NewVisibility(usersRepo users.Repository, groupsRepo groups.Repository, registry *Registry, logger logging.Logger) *Visibility {
	return &Visibility{
		users:    usersRepo,
		groups:   groupsRepo,
		registry: registry,
		logger:   logger,
	}
}

// UserList builds the user_list payload as one viewer should see it.
func (v *Visibility) UserList(ctx context.Context, viewer *users.User) ([]protocol.UserEntry, error) {
	all, err := v.users.List(ctx)
	if err != nil {
		return nil, err
	}
	return v.build(ctx, viewer, all, v.registry.OnlineIDs())
}

// Broadcast recomputes and pushes a fresh user_list to every live
// connection. Called on join, disconnect, visibility change and account
// teardown.
func (v *Visibility) Broadcast(ctx context.Context) {
	all, err := v.users.List(ctx)
	if err != nil {
		v.logger.Error(ctx, "user list broadcast aborted", "error", err)
		return
	}
	byID := make(map[int64]*users.User, len(all))
	for _, u := range all {
		byID[u.ID] = u
	}
	online := v.registry.OnlineIDs()

	for _, s := range v.registry.Snapshot() {
		viewer := byID[s.UserID()]
		if viewer == nil {
			continue
		}
		list, err := v.build(ctx, viewer, all, online)
		if err != nil {
			v.logger.Warn(ctx, "user list build failed", "viewerID", viewer.ID, "error", err)
			continue
		}
		s.Send(protocol.MustEncodeFrame(protocol.EventUserList, list))
	}
}

func (v *Visibility) build(ctx context.Context, viewer *users.User, all []*users.User, online map[int64]struct{}) ([]protocol.UserEntry, error) {
	// fetched once per viewer, and only when an online invisible user
	// actually shows up
	var coMembers map[int64]struct{}

	entries := make([]protocol.UserEntry, 0, len(all))
	for _, u := range all {
		status := protocol.StatusOffline
		_, isOnline := online[u.ID]

		switch {
		case u.ID == viewer.ID:
			status = protocol.StatusOnline
		case !isOnline:
			status = protocol.StatusOffline
		case !u.IsInvisible:
			status = protocol.StatusOnline
		case viewer.IsAdmin:
			status = protocol.StatusInvisible
		default:
			if coMembers == nil {
				m, err := v.groups.PrivateCoMembers(ctx, viewer.ID)
				if err != nil {
					return nil, err
				}
				coMembers = m
			}
			if _, shared := coMembers[u.ID]; shared {
				status = protocol.StatusOnline
			}
		}

		entries = append(entries, protocol.UserEntry{
			ID:        u.ID,
			Name:      u.Name,
			Avatar:    u.Avatar,
			Status:    status,
			IsAdmin:   u.IsAdmin,
			PublicKey: u.PublicKey,
		})
	}
	return entries, nil
}
