package groups

import "context"

type Repository interface {
	// Create inserts the group and, for a private group, the creator's
	// membership row in the same transaction.
	Create(ctx context.Context, group *Group, creatorID int64) (*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	// ListVisible returns every public group plus the private groups the
	// user belongs to.
	ListVisible(ctx context.Context, userID int64) ([]*Group, error)
	Delete(ctx context.Context, id int64) error

	GetMember(ctx context.Context, groupID, userID int64) (*Member, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	// RemoveMember also drops a row that only existed to carry a
	// public-group mute flag.
	RemoveMember(ctx context.Context, groupID, userID int64) error
	// UpsertMute creates the row if needed and sets the flag.
	UpsertMute(ctx context.Context, groupID, userID int64, muted bool) error
	ListMembers(ctx context.Context, groupID int64) ([]*MemberInfo, error)
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	// PrivateCoMembers returns the ids of users sharing at least one
	// private group with the given user.
	PrivateCoMembers(ctx context.Context, userID int64) (map[int64]struct{}, error)
}
