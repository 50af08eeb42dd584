// Package users owns the chat-side user records: mirroring the external
// identity on join, the invisibility toggle, published public keys, and
// account teardown.
package users

import (
	"context"
	"fmt"

	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/cryptox"
	"github.com/parleychat/parley/internal/logging"
)

// Presence is the slice of the connection registry needed to tear down a
// removed account's live session.
type Presence interface {
	CloseUser(id int64)
}

// Publisher re-pushes per-viewer user lists after anything that changes
// what a viewer should see.
type Publisher interface {
	Broadcast(ctx context.Context)
}

type Service struct {
	repo      Repository
	presence  Presence
	publisher Publisher
	logger    logging.Logger
}

func NewService(repo Repository, presence Presence, publisher Publisher, logger logging.Logger) *Service {
	return &Service{
		repo:      repo,
		presence:  presence,
		publisher: publisher,
		logger:    logger,
	}
}

// EnsureUser upserts the identity record carried by a fresh connection
// and returns the stored user, including chat-side state the identity
// layer does not know about.
func (s *Service) EnsureUser(ctx context.Context, user *User) (*User, error) {
	stored, err := s.repo.Upsert(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("upserting user %d: %w", user.ID, err)
	}
	return stored, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.repo.List(ctx)
}

// SetVisibility flips the caller's invisibility flag and refreshes
// everyone's user list.
func (s *Service) SetVisibility(ctx context.Context, userID int64, invisible bool) error {
	if err := s.repo.SetInvisible(ctx, userID, invisible); err != nil {
		return err
	}
	s.logger.Info(ctx, "visibility changed", "userID", userID, "invisible", invisible)
	s.publisher.Broadcast(ctx)
	return nil
}

// PublishKey stores the caller's derived public key on their user record
// so peers can discover it from the user list.
func (s *Service) PublishKey(ctx context.Context, userID int64, publicKey string) error {
	if _, err := cryptox.ParsePublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: not a valid public key", common.ErrValidation)
	}
	if err := s.repo.SetPublicKey(ctx, userID, publicKey); err != nil {
		return err
	}
	s.publisher.Broadcast(ctx)
	return nil
}

// MirrorKey opportunistically fills an empty public_key column from a
// key snapshot seen on a message. Invalid keys are dropped silently.
func (s *Service) MirrorKey(ctx context.Context, userID int64, publicKey string) {
	if _, err := cryptox.ParsePublicKey(publicKey); err != nil {
		s.logger.Debug(ctx, "ignoring malformed key snapshot", "userID", userID)
		return
	}
	if err := s.repo.FillPublicKey(ctx, userID, publicKey); err != nil {
		s.logger.Warn(ctx, "mirroring public key failed", "userID", userID, "error", err)
	}
}

// RemoveAccount deletes the user and their messages, closes their live
// connection and refreshes everyone's user list.
func (s *Service) RemoveAccount(ctx context.Context, userID int64) error {
	if err := s.repo.Remove(ctx, userID); err != nil {
		return err
	}
	s.presence.CloseUser(userID)
	s.logger.Info(ctx, "account removed", "userID", userID)
	s.publisher.Broadcast(ctx)
	return nil
}
