package messages

import "context"

type Repository interface {
	Create(ctx context.Context, m *Message) (*Message, error)
	GetByID(ctx context.Context, id int64) (*Message, error)
	SetDelivered(ctx context.Context, id int64) error
	// ListGroup and ListDirect return up to limit messages older than
	// beforeID (0 = newest), in chronological order.
	ListGroup(ctx context.Context, groupID, beforeID int64, limit int) ([]*Message, error)
	ListDirect(ctx context.Context, userA, userB, beforeID int64, limit int) ([]*Message, error)
}
