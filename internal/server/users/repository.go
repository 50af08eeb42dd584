package users

import "context"

type Repository interface {
	// Upsert inserts the user on first join and refreshes the
	// identity-owned fields (name, avatar, admin flag) afterwards.
	Upsert(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	List(ctx context.Context) ([]*User, error)
	SetInvisible(ctx context.Context, id int64, invisible bool) error
	SetPublicKey(ctx context.Context, id int64, publicKey string) error
	// FillPublicKey stores the key only when the user has none yet.
	FillPublicKey(ctx context.Context, id int64, publicKey string) error
	// Remove deletes the user together with their messages; membership
	// and receipt rows go with the user via foreign keys.
	Remove(ctx context.Context, id int64) error
}
