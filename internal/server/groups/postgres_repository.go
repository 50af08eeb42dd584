package groups

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

func (r *PostgresRepository) Create(ctx context.Context, group *Group, creatorID int64) (*Group, error) {
	err := dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		query := `
			INSERT INTO groups (name, is_public, is_encrypted, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query,
			group.Name, group.IsPublic, group.IsEncrypted, creatorID).
			Scan(&group.ID, &group.CreatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		group.CreatedBy = creatorID

		if group.IsPublic {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			group.ID, creatorID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Group, error) {
	query := `
		SELECT id, name, is_public, is_encrypted, created_by, created_at
		FROM groups WHERE id = $1
	`
	g := &Group{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&g.ID, &g.Name, &g.IsPublic, &g.IsEncrypted, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) ListVisible(ctx context.Context, userID int64) ([]*Group, error) {
	query := `
		SELECT id, name, is_public, is_encrypted, created_by, created_at
		FROM groups
		WHERE is_public
		   OR id IN (SELECT group_id FROM group_members WHERE user_id = $1)
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IsPublic, &g.IsEncrypted, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		// group messages carry no foreign key, membership rows cascade
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE group_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
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

func (r *PostgresRepository) GetMember(ctx context.Context, groupID, userID int64) (*Member, error) {
	query := `
		SELECT group_id, user_id, is_muted, added_at
		FROM group_members WHERE group_id = $1 AND user_id = $2
	`
	m := &Member{}
	err := r.db.QueryRowContext(ctx, query, groupID, userID).
		Scan(&m.GroupID, &m.UserID, &m.IsMuted, &m.AddedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, groupID, userID int64) error {
	query := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, groupID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
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

func (r *PostgresRepository) UpsertMute(ctx context.Context, groupID, userID int64, muted bool) error {
	query := `
		INSERT INTO group_members (group_id, user_id, is_muted)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET is_muted = EXCLUDED.is_muted
	`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID, muted); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListMembers(ctx context.Context, groupID int64) ([]*MemberInfo, error) {
	query := `
		SELECT u.id, u.name, u.avatar, gm.is_muted
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1
		ORDER BY u.name, u.id
	`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*MemberInfo
	for rows.Next() {
		var m MemberInfo
		if err := rows.Scan(&m.UserID, &m.Name, &m.Avatar, &m.IsMuted); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) PrivateCoMembers(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM group_members own
		JOIN group_members other ON other.group_id = own.group_id
		JOIN groups g ON g.id = own.group_id
		WHERE own.user_id = $1 AND NOT g.is_public AND other.user_id <> $1
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
