// Package cryptox implements the deterministic key scheme used for
// end-to-end encrypted messages: a slow, salted derivation from a
// user-supplied secret to a P-256 key pair, and authenticated per-recipient
// encryption over an ECDH shared secret.
package cryptox

import (
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/argon2"
)

// Derivation parameters. Changing any of these changes every derived key,
// so they are versioned through the salt prefix.
const (
	saltPrefix   = "parley/keys:v1|"
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	seedLen      = 32
)

// KeyPair holds both halves of a derived P-256 key pair. The private half
// never leaves the client; the public half may be published for discovery.
type KeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// DeriveKeyPair turns (secret, accountID) into a P-256 key pair,
// deterministically: the same inputs always produce the same pair, so
// encryption capability is recoverable from the remembered secret alone.
//
// The secret is stretched with argon2id, salted with a fixed prefix plus
// the account id so two accounts sharing a secret still derive different
// keys. The 256-bit output seeds the private scalar; in the (~2^-32)
// case where the seed is not a valid scalar it is re-hashed until one is,
// keeping the mapping deterministic.
func DeriveKeyPair(secret []byte, accountID int64) (*KeyPair, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("derive: empty secret")
	}

	salt := []byte(saltPrefix + strconv.FormatInt(accountID, 10))
	seed := argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, seedLen)

	curve := ecdh.P256()
	for {
		priv, err := curve.NewPrivateKey(seed)
		if err == nil {
			return &KeyPair{Private: priv, Public: priv.PublicKey()}, nil
		}
		h := sha256.Sum256(seed)
		seed = h[:]
	}
}

// EncodePublicKey renders a public key as base64 of the uncompressed point,
// the form carried in user records and message key snapshots.
func EncodePublicKey(pub *ecdh.PublicKey) string {
	if pub == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(pub.Bytes())
}

// ParsePublicKey is the inverse of EncodePublicKey.
func ParsePublicKey(s string) (*ecdh.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not base64", ErrMalformedEnvelope)
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not a P-256 point", ErrMalformedEnvelope)
	}
	return pub, nil
}

// Fingerprint returns a stable hex digest of a public key. The client
// stores it on first derivation and compares on later reloads, so a wrong
// secret is rejected up front instead of surfacing as per-message
// decryption failures.
func Fingerprint(pub *ecdh.PublicKey) string {
	sum := sha256.Sum256(pub.Bytes())
	return hex.EncodeToString(sum[:])
}
