// Package store is the client's local SQLite cache: profile values that
// survive restarts (account id, key fingerprint), locally muted groups,
// and a message cache for offline viewing.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/parleychat/parley/internal/client/store/migrations"
	"github.com/parleychat/parley/internal/dbx"
	"github.com/parleychat/parley/internal/protocol"
)

// Profile keys.
const (
	KeyAccountID   = "account_id"
	KeyAccountName = "account_name"
	KeyFingerprint = "key_fingerprint"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path and applies
// pending migrations. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache db: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Profile returns the stored value for key, or "" when absent.
func (s *Store) Profile(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM profile WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading profile[%s]: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetProfile(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing profile[%s]: %w", key, err)
	}
	return nil
}

// LocalMutes returns the set of locally muted group ids. A local mute only
// silences unread counting on this device.
func (s *Store) LocalMutes(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM local_mutes`)
	if err != nil {
		return nil, fmt.Errorf("listing local mutes: %w", err)
	}
	defer rows.Close()

	muted := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		muted[id] = true
	}
	return muted, rows.Err()
}

func (s *Store) SetLocalMute(ctx context.Context, groupID int64, muted bool) error {
	var err error
	if muted {
		_, err = s.db.ExecContext(ctx, `INSERT INTO local_mutes (group_id) VALUES (?) ON CONFLICT DO NOTHING`, groupID)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM local_mutes WHERE group_id = ?`, groupID)
	}
	if err != nil {
		return fmt.Errorf("updating local mute for group %d: %w", groupID, err)
	}
	return nil
}

const upsertMessage = `
	INSERT INTO messages (id, sender_id, receiver_id, group_id, content, type,
		sender_public_key, receiver_public_key, delivered, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET delivered = excluded.delivered
`

// SaveMessage caches one message. Re-saving the same id only refreshes the
// delivered flag; the content of a persisted message never changes.
func (s *Store) SaveMessage(ctx context.Context, m protocol.WireMessage) error {
	_, err := s.db.ExecContext(ctx, upsertMessage,
		m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.Type,
		m.SenderPublicKey, m.ReceiverPublicKey, m.Delivered, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("caching message %d: %w", m.ID, err)
	}
	return nil
}

// SaveMessages caches a history page in one transaction.
func (s *Store) SaveMessages(ctx context.Context, msgs []protocol.WireMessage) error {
	return dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		for _, m := range msgs {
			_, err := tx.ExecContext(ctx, upsertMessage,
				m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.Type,
				m.SenderPublicKey, m.ReceiverPublicKey, m.Delivered, m.CreatedAt)
			if err != nil {
				return fmt.Errorf("caching message %d: %w", m.ID, err)
			}
		}
		return nil
	})
}

// GroupMessages returns the newest cached messages of a group in
// chronological order.
func (s *Store) GroupMessages(ctx context.Context, groupID int64, limit int) ([]protocol.WireMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, group_id, content, type,
			sender_public_key, receiver_public_key, delivered, created_at
		FROM (
			SELECT * FROM messages WHERE group_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading group %d cache: %w", groupID, err)
	}
	return scanMessages(rows)
}

// DirectMessages returns the newest cached messages between self and peer
// in chronological order.
func (s *Store) DirectMessages(ctx context.Context, selfID, peerID int64, limit int) ([]protocol.WireMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, group_id, content, type,
			sender_public_key, receiver_public_key, delivered, created_at
		FROM (
			SELECT * FROM messages
			WHERE group_id = 0
			  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, selfID, peerID, peerID, selfID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading direct cache with %d: %w", peerID, err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]protocol.WireMessage, error) {
	defer rows.Close()

	var result []protocol.WireMessage
	for rows.Next() {
		var m protocol.WireMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.Type,
			&m.SenderPublicKey, &m.ReceiverPublicKey, &m.Delivered, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
