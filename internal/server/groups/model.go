package groups

import "time"

// Group is a chat room. Public groups admit every user implicitly;
// private groups carry explicit membership rows. Encrypted groups are
// always private.
type Group struct {
	ID          int64
	Name        string
	IsPublic    bool
	IsEncrypted bool
	CreatedBy   int64
	CreatedAt   time.Time
}

// Member is one (group, user) membership row. For a public group a row
// exists only while it carries a mute flag.
type Member struct {
	GroupID int64
	UserID  int64
	IsMuted bool
	AddedAt time.Time
}

// MemberInfo is a membership row joined with the user fields a member
// listing needs.
type MemberInfo struct {
	UserID  int64
	Name    string
	Avatar  string
	IsMuted bool
}
