package receipts

import "context"

type Repository interface {
	// InsertDelivery and InsertRead append a (message, user) record and
	// report whether this was the first time. Re-marking is a no-op,
	// never an error.
	InsertDelivery(ctx context.Context, messageID, userID int64) (bool, error)
	InsertRead(ctx context.Context, messageID, userID int64) (bool, error)
}
