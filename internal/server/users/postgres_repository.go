package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/dbx"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, user *User) (*User, error) {
	query := `
		INSERT INTO users (id, name, avatar, is_admin, is_invisible)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, avatar = EXCLUDED.avatar, is_admin = EXCLUDED.is_admin
		RETURNING id, name, avatar, is_admin, is_invisible, public_key, created_at
	`
	out := &User{}
	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.Name, user.Avatar, user.IsAdmin, user.IsInvisible).
		Scan(&out.ID, &out.Name, &out.Avatar, &out.IsAdmin, &out.IsInvisible, &out.PublicKey, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, name, avatar, is_admin, is_invisible, public_key, created_at
		FROM users WHERE id = $1
	`
	user := &User{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Name, &user.Avatar, &user.IsAdmin, &user.IsInvisible, &user.PublicKey, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, name, avatar, is_admin, is_invisible, public_key, created_at
		FROM users ORDER BY name, id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Avatar, &u.IsAdmin, &u.IsInvisible, &u.PublicKey, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SetInvisible(ctx context.Context, id int64, invisible bool) error {
	return r.updateOne(ctx, `UPDATE users SET is_invisible = $2 WHERE id = $1`, id, invisible)
}

func (r *PostgresRepository) SetPublicKey(ctx context.Context, id int64, publicKey string) error {
	return r.updateOne(ctx, `UPDATE users SET public_key = $2 WHERE id = $1`, id, publicKey)
}

func (r *PostgresRepository) FillPublicKey(ctx context.Context, id int64, publicKey string) error {
	query := `UPDATE users SET public_key = $2 WHERE id = $1 AND public_key = ''`
	if _, err := r.db.ExecContext(ctx, query, id, publicKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Remove(ctx context.Context, id int64) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		// messages carry no user foreign key (0 marks the system
		// sender), so they are cleaned up explicitly
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE sender_id = $1 OR receiver_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, id int64, arg any) error {
	res, err := r.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
