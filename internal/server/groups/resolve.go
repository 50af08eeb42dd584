package groups

import (
	"context"
	"errors"

	"github.com/parleychat/parley/internal/common"
)

// Resolution is the answer to "where does this user stand in this
// group". Membership of a public group is implicit, so Member may be nil
// for an effective member; it is present for a public group only when a
// mute flag had to be stored.
type Resolution struct {
	Group  *Group
	Member *Member
}

// IsMember reports effective membership: everyone belongs to a public
// group, a private group requires a row.
func (r *Resolution) IsMember() bool {
	return r.Group.IsPublic || r.Member != nil
}

func (r *Resolution) IsMuted() bool {
	return r.Member != nil && r.Member.IsMuted
}

// Resolve loads the group and the user's membership row in one place, so
// the "implicit public membership" rule lives here and nowhere else.
// Returns common.ErrNotFound when the group does not exist.
func Resolve(ctx context.Context, repo Repository, groupID, userID int64) (*Resolution, error) {
	group, err := repo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	member, err := repo.GetMember(ctx, groupID, userID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return &Resolution{Group: group, Member: member}, nil
}
