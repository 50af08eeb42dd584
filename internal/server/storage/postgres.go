package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/migrations"
	"github.com/parleychat/parley/internal/server/receipts"
	"github.com/parleychat/parley/internal/server/users"
)

type PostgresManager struct {
	db       *sql.DB
	users    users.Repository
	groups   groups.Repository
	messages messages.Repository
	receipts receipts.Repository
}

func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &PostgresManager{
		db:       db,
		users:    users.NewPostgresRepository(db),
		groups:   groups.NewPostgresRepository(db),
		messages: messages.NewPostgresRepository(db),
		receipts: receipts.NewPostgresRepository(db),
	}, nil
}

// RunMigrations applies the embedded schema migrations.
func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, m.db, ".")
}

func (m *PostgresManager) Conn() *sql.DB { return m.db }

func (m *PostgresManager) Close() error { return m.db.Close() }

func (m *PostgresManager) Users() users.Repository { return m.users }

func (m *PostgresManager) Groups() groups.Repository { return m.groups }

func (m *PostgresManager) Messages() messages.Repository { return m.messages }

func (m *PostgresManager) Receipts() receipts.Repository { return m.receipts }
