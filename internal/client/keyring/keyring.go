// Package keyring manages the client's derived message key. The first
// unlock pins the key's fingerprint in the local profile, so a wrong
// secret on a later unlock is caught before any message is touched.
package keyring

import (
	"context"
	"crypto/ecdh"
	"crypto/subtle"
	"fmt"

	"github.com/parleychat/parley/internal/client/store"
	"github.com/parleychat/parley/internal/common"
	"github.com/parleychat/parley/internal/cryptox"
)

// profileStore is the slice of the local store the keyring reads and
// writes: the pinned fingerprint.
type profileStore interface {
	Profile(ctx context.Context, key string) (string, error)
	SetProfile(ctx context.Context, key, value string) error
}

// Keyring holds an unlocked key pair. The private half stays in memory
// for the lifetime of the session and is never persisted.
type Keyring struct {
	pair        *cryptox.KeyPair
	fingerprint string
}

// Unlock derives the account's key pair from secret and verifies it
// against the fingerprint pinned in the profile. The first unlock pins
// the fingerprint; later unlocks with a different secret fail with
// common.ErrWrongSecret without attempting any decryption.
func Unlock(ctx context.Context, profile profileStore, secret []byte, accountID int64) (*Keyring, error) {
	pair, err := cryptox.DeriveKeyPair(secret, accountID)
	if err != nil {
		return nil, err
	}
	fp := cryptox.Fingerprint(pair.Public)

	pinned, err := profile.Profile(ctx, store.KeyFingerprint)
	if err != nil {
		return nil, fmt.Errorf("reading pinned fingerprint: %w", err)
	}
	if pinned == "" {
		if err := profile.SetProfile(ctx, store.KeyFingerprint, fp); err != nil {
			return nil, fmt.Errorf("pinning fingerprint: %w", err)
		}
		return &Keyring{pair: pair, fingerprint: fp}, nil
	}
	if subtle.ConstantTimeCompare([]byte(pinned), []byte(fp)) != 1 {
		return nil, common.ErrWrongSecret
	}
	return &Keyring{pair: pair, fingerprint: fp}, nil
}

// Private returns the private half for ECDH.
func (k *Keyring) Private() *ecdh.PrivateKey {
	return k.pair.Private
}

// Public returns the public half.
func (k *Keyring) Public() *ecdh.PublicKey {
	return k.pair.Public
}

// PublicKeyString returns the wire encoding of the public half, the value
// published through set_public_key.
func (k *Keyring) PublicKeyString() string {
	return cryptox.EncodePublicKey(k.pair.Public)
}

// Fingerprint returns the pinned fingerprint of the public half.
func (k *Keyring) Fingerprint() string {
	return k.fingerprint
}
