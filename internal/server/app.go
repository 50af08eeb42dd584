// Package server assembles and runs the messaging engine: durable
// storage, the presence hub, the services, and the HTTP server carrying
// the websocket transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/server/auth"
	"github.com/parleychat/parley/internal/server/config"
	"github.com/parleychat/parley/internal/server/groups"
	"github.com/parleychat/parley/internal/server/hub"
	"github.com/parleychat/parley/internal/server/messages"
	"github.com/parleychat/parley/internal/server/notify"
	"github.com/parleychat/parley/internal/server/receipts"
	"github.com/parleychat/parley/internal/server/router"
	"github.com/parleychat/parley/internal/server/storage"
	"github.com/parleychat/parley/internal/server/users"
	"github.com/parleychat/parley/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	storage  storage.RepositoryManager
	notifier notify.Notifier
	users    *users.Service
	handler  *ws.Handler
}

// NewApp wires the full engine: storage with migrations applied, the
// push hand-off, the presence hub, every service, and the websocket
// transport on top of them.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	manager, err := storage.NewPostgresManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := manager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.RedisAddr != "" {
		r, err := notify.NewRedis(ctx, cfg.RedisAddr, cfg.RedisChannel, logger.With("module", "notify"))
		if err != nil {
			return nil, err
		}
		notifier = r
	}

	registry := hub.NewRegistry()
	visibility := hub.NewVisibility(manager.Users(), manager.Groups(), registry, logger.With("module", "hub"))
	lists := hub.NewLists(manager.Groups(), registry, logger.With("module", "hub"))
	locks := common.NewKeyMutex[int64]()

	usersSvc := users.NewService(manager.Users(), registry, visibility, logger.With("module", "users"))
	routerSvc := router.NewService(manager.Messages(), manager.Groups(), usersSvc, registry, notifier, locks, logger.With("module", "router"))
	groupsSvc := groups.NewService(manager.Groups(), manager.Users(), routerSvc, lists, locks, logger.With("module", "groups"))
	messagesSvc := messages.NewService(manager.Messages(), manager.Groups(), cfg.HistoryPageSize, logger.With("module", "messages"))
	receiptsSvc := receipts.NewService(manager.Receipts(), manager.Messages(), manager.Users(), registry, logger.With("module", "receipts"))

	handler := ws.NewHandler(ws.Deps{
		Secret:     []byte(cfg.JWTSecret),
		Users:      usersSvc,
		Groups:     groupsSvc,
		Messages:   messagesSvc,
		Receipts:   receiptsSvc,
		Router:     routerSvc,
		Registry:   registry,
		Visibility: visibility,
		Lists:      lists,
		Logger:     logger.With("module", "ws"),
	})

	return &App{
		config:   cfg,
		logger:   logger,
		storage:  manager,
		notifier: notifier,
		users:    usersSvc,
		handler:  handler,
	}, nil
}

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", app.handler.ServeHTTP)
	// account lifecycle belongs to the external identity layer; this is
	// the hook it calls when an account is removed there
	r.Delete("/accounts/{id}", app.handleRemoveAccount)
	return r
}

func (app *App) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	ah := r.Header.Get("Authorization")
	if !strings.HasPrefix(ah, "Bearer ") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := auth.VerifyToken(strings.TrimPrefix(ah, "Bearer "), []byte(app.config.JWTSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !identity.IsAdmin {
		http.Error(w, "admin only", http.StatusForbidden)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad account id", http.StatusBadRequest)
		return
	}

	if err := app.users.RemoveAccount(r.Context(), id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			http.Error(w, "no such account", http.StatusNotFound)
			return
		}
		app.logger.Error(r.Context(), "account removal failed", "userID", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until the context is cancelled or a signal arrives, then
// shuts the HTTP server down gracefully and closes the backends.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{Addr: app.config.Addr, Handler: app.routes()}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "server listening", "addr", app.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		app.close(ctx)
		return err
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown failed", "error", err)
	}
	app.close(shutdownCtx)
	return nil
}

func (app *App) close(ctx context.Context) {
	if c, ok := app.notifier.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			app.logger.Warn(ctx, "closing notifier failed", "error", err)
		}
	}
	if err := app.storage.Close(); err != nil {
		app.logger.Warn(ctx, "closing storage failed", "error", err)
	}
}
