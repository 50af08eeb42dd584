package receipts

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertDelivery(ctx context.Context, messageID, userID int64) (bool, error) {
	return r.insert(ctx, `
		INSERT INTO message_deliveries (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID)
}

func (r *PostgresRepository) InsertRead(ctx context.Context, messageID, userID int64) (bool, error) {
	return r.insert(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID)
}

func (r *PostgresRepository) insert(ctx context.Context, query string, messageID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
