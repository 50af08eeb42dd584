// Package storage opens the durable store and bundles the repositories
// the services run on.
package storage

import (
	"context"
	"database/sql"

	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/receipts"
	"github.com/parleychat/parley/internal/server/users"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Conn() *sql.DB
	Close() error
	Users() users.Repository
	Groups() groups.Repository
	Messages() messages.Repository
	Receipts() receipts.Repository
}
