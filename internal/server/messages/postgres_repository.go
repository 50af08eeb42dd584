package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/common"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const messageColumns = `id, sender_id, receiver_id, group_id, content, type,
	sender_public_key, receiver_public_key, delivered, created_at`

func (r *PostgresRepository) Create(ctx context.Context, m *Message) (*Message, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, group_id, content, type,
			sender_public_key, receiver_public_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.Type,
		m.SenderPublicKey, m.ReceiverPublicKey).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m := &Message{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.Type,
		&m.SenderPublicKey, &m.ReceiverPublicKey, &m.Delivered, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) SetDelivered(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE messages SET delivered = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListGroup(ctx context.Context, groupID, beforeID int64, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE group_id = $1 AND ($2::bigint = 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`
	return r.list(ctx, query, groupID, beforeID, limit)
}

func (r *PostgresRepository) ListDirect(ctx context.Context, userA, userB, beforeID int64, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE group_id = 0
		  AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::bigint = 0 OR id < $3)
		ORDER BY id DESC
		LIMIT $4
	`
	return r.list(ctx, query, userA, userB, beforeID, limit)
}

// list runs a newest-first query and returns the rows flipped back into
// chronological order.
func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.Type,
			&m.SenderPublicKey, &m.ReceiverPublicKey, &m.Delivered, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}
