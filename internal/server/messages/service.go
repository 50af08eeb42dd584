// Package messages stores the chat history and serves paged, per-viewer
// slices of it.
package messages

import (
	"context"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/protocol"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/users"
)

const maxPageSize = 200

type Service struct {
	repo     Repository
	groups   groups.Repository
	pageSize int
	logger   logging.Logger
}

func NewService(repo Repository, groupsRepo groups.Repository, pageSize int, logger logging.Logger) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Service{repo: repo, groups: groupsRepo, pageSize: pageSize, logger: logger}
}

// GroupHistory returns a page of a group's messages, each sliced down to
// what the viewer may see. Private-group history is restricted to
// members and admins.
func (s *Service) GroupHistory(ctx context.Context, viewer *users.User, groupID, beforeID int64, limit int) ([]protocol.WireMessage, error) {
	res, err := groups.Resolve(ctx, s.groups, groupID, viewer.ID)
	if err != nil {
		return nil, err
	}
	if !res.Group.IsPublic && !viewer.IsAdmin && res.Member == nil {
		return nil, common.ErrNotMember
	}

	list, err := s.repo.ListGroup(ctx, groupID, beforeID, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.wire(list, viewer.ID), nil
}

// DirectHistory returns a page of the conversation between the viewer
// and another user.
func (s *Service) DirectHistory(ctx context.Context, viewer *users.User, otherID, beforeID int64, limit int) ([]protocol.WireMessage, error) {
	list, err := s.repo.ListDirect(ctx, viewer.ID, otherID, beforeID, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return s.wire(list, viewer.ID), nil
}

func (s *Service) wire(list []*Message, viewerID int64) []protocol.WireMessage {
	out := make([]protocol.WireMessage, len(list))
	for i, m := range list {
		out[i] = m.Wire(viewerID)
	}
	return out
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.pageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
