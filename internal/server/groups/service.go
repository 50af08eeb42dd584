// Package groups enforces the group authorization rules: implicit public
// membership, explicit private membership, mute flags, and the system
// messages narrating every membership change.
package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/server/users"
)

// Router is the message-submission path system messages travel through,
// same as ordinary traffic. The caller holds the group lock, so the
// router must not take it again.
type Router interface {
	SubmitSystem(ctx context.Context, groupID int64, text string) error
}

// Publisher refreshes group lists on live connections after a mutation.
type Publisher interface {
	BroadcastGroups(ctx context.Context)
	PushGroups(ctx context.Context, userID int64)
}

type Service struct {
	repo      Repository
	users     users.Repository
	router    Router
	publisher Publisher
	locks     *common.KeyMutex[int64]
	logger    logging.Logger
}

func NewService(repo Repository, usersRepo users.Repository, router Router, publisher Publisher, locks *common.KeyMutex[int64], logger logging.Logger) *Service {
	return &Service{
		repo:      repo,
		users:     usersRepo,
		router:    router,
		publisher: publisher,
		locks:     locks,
		logger:    logger,
	}
}

// Create makes a new group. Public group creation is an admin privilege;
// an encrypted group is private by definition.
func (s *Service) Create(ctx context.Context, creator *users.User, name string, isPublic, isEncrypted bool) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", common.ErrValidation)
	}
	if isPublic && !creator.IsAdmin {
		return nil, common.ErrNotAdmin
	}
	if isPublic && isEncrypted {
		return nil, fmt.Errorf("%w: public groups cannot be encrypted", common.ErrValidation)
	}

	group, err := s.repo.Create(ctx, &Group{Name: name, IsPublic: isPublic, IsEncrypted: isEncrypted}, creator.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "group created", "groupID", group.ID, "name", group.Name, "public", group.IsPublic)

	s.locks.Lock(group.ID)
	s.narrate(ctx, group.ID, fmt.Sprintf("%s created the group %q", creator.Name, group.Name))
	s.locks.Unlock(group.ID)
	if group.IsPublic {
		s.publisher.BroadcastGroups(ctx)
	} else {
		s.publisher.PushGroups(ctx, creator.ID)
	}
	return group, nil
}

// AddMember puts a user into a private group. Any member (or an admin)
// may add; adding an invisible user is an admin privilege.
func (s *Service) AddMember(ctx context.Context, actor *users.User, groupID, targetID int64) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	res, err := Resolve(ctx, s.repo, groupID, actor.ID)
	if err != nil {
		return err
	}
	if res.Group.IsPublic {
		return fmt.Errorf("%w: public groups have no explicit members", common.ErrValidation)
	}
	if !actor.IsAdmin && !res.IsMember() {
		return common.ErrNotMember
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsInvisible && !actor.IsAdmin {
		return common.ErrNotAdmin
	}

	if err := s.repo.AddMember(ctx, groupID, targetID); err != nil {
		return err
	}

	s.narrate(ctx, groupID, fmt.Sprintf("%s added %s to the group", actor.Name, target.Name))
	s.publisher.PushGroups(ctx, targetID)
	return nil
}

// RemoveMember takes a user out of a private group. Admin only.
func (s *Service) RemoveMember(ctx context.Context, actor *users.User, groupID, targetID int64) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	group, err := s.repo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return common.ErrNotAdmin
	}
	if group.IsPublic {
		return fmt.Errorf("%w: public groups have no explicit members", common.ErrValidation)
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, groupID, targetID); err != nil {
		return err
	}

	s.narrate(ctx, groupID, fmt.Sprintf("%s removed %s from the group", actor.Name, target.Name))
	s.publisher.PushGroups(ctx, targetID)
	return nil
}

// ToggleMute flips a member's mute flag. Admin only. In a public group
// the membership row exists solely while the mute is on.
func (s *Service) ToggleMute(ctx context.Context, actor *users.User, groupID, targetID int64) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	group, err := s.repo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return common.ErrNotAdmin
	}
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return err
	}

	member, err := s.repo.GetMember(ctx, groupID, targetID)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound):
		member = nil
	default:
		return err
	}

	if !group.IsPublic && member == nil {
		return fmt.Errorf("%w: %s is not a member", common.ErrNotFound, target.Name)
	}

	muted := member == nil || !member.IsMuted
	switch {
	case group.IsPublic && !muted:
		// the row only existed to carry the mute
		if err := s.repo.RemoveMember(ctx, groupID, targetID); err != nil {
			return err
		}
	default:
		if err := s.repo.UpsertMute(ctx, groupID, targetID, muted); err != nil {
			return err
		}
	}

	verb := "muted"
	if !muted {
		verb = "unmuted"
	}
	s.narrate(ctx, groupID, fmt.Sprintf("%s %s %s", actor.Name, verb, target.Name))
	return nil
}

// Leave is a member's voluntary exit from a private group.
func (s *Service) Leave(ctx context.Context, actor *users.User, groupID int64) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	res, err := Resolve(ctx, s.repo, groupID, actor.ID)
	if err != nil {
		return err
	}
	if res.Group.IsPublic {
		return fmt.Errorf("%w: public groups cannot be left", common.ErrValidation)
	}
	if res.Member == nil {
		return common.ErrNotMember
	}

	if err := s.repo.RemoveMember(ctx, groupID, actor.ID); err != nil {
		return err
	}
	s.narrate(ctx, groupID, fmt.Sprintf("%s left the group", actor.Name))
	s.publisher.PushGroups(ctx, actor.ID)
	return nil
}

// Delete removes a group with its messages and memberships. Admin only.
func (s *Service) Delete(ctx context.Context, actor *users.User, groupID int64) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	group, err := s.repo.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin {
		return common.ErrNotAdmin
	}

	memberIDs, err := s.repo.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, groupID); err != nil {
		return err
	}
	s.logger.Info(ctx, "group deleted", "groupID", groupID, "name", group.Name)

	if group.IsPublic {
		s.publisher.BroadcastGroups(ctx)
	} else {
		for _, id := range memberIDs {
			s.publisher.PushGroups(ctx, id)
		}
	}
	return nil
}

// ListVisible returns the groups a user should see in their group list.
func (s *Service) ListVisible(ctx context.Context, userID int64) ([]*Group, error) {
	return s.repo.ListVisible(ctx, userID)
}

// Members lists a group's membership rows. For a private group the
// listing is restricted to members and admins; a public group's rows are
// its muted users only.
func (s *Service) Members(ctx context.Context, viewer *users.User, groupID int64) ([]*MemberInfo, error) {
	res, err := Resolve(ctx, s.repo, groupID, viewer.ID)
	if err != nil {
		return nil, err
	}
	if !res.Group.IsPublic && !viewer.IsAdmin && res.Member == nil {
		return nil, common.ErrNotMember
	}
	return s.repo.ListMembers(ctx, groupID)
}

// narrate appends the system message recording a membership change. The
// change itself is already committed, so a narration failure is logged
// and swallowed.
func (s *Service) narrate(ctx context.Context, groupID int64, text string) {
	if err := s.router.SubmitSystem(ctx, groupID, text); err != nil {
		s.logger.Warn(ctx, "system message failed", "groupID", groupID, "error", err)
	}
}
