package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/common"
)

// Distinguished decryption failures. The client reports these per message;
// none of them is fatal to the session.
var (
	// ErrAuthFailed means the authentication tag did not verify: the
	// envelope was produced with a different key pairing, or tampered with.
	ErrAuthFailed = errors.New("message authentication failed")

	// ErrMissingKey means no counterpart key was available to derive the
	// shared secret.
	ErrMissingKey = errors.New("missing counterpart key")

	// ErrMalformedEnvelope means the envelope could not be parsed at all.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

const nonceSize = 12

// Envelope is one authenticated ciphertext addressed to one recipient.
// Its JSON form ({"iv": ..., "data": ...}, both base64) is what travels in
// the content field of an "eee" message.
type Envelope struct {
	IV   []byte `json:"iv"`
	Data []byte `json:"data"`
}

// Marshal renders the envelope as its wire JSON.
func (e *Envelope) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseEnvelope parses the wire JSON form of an envelope, failing with
// ErrMalformedEnvelope on bad JSON or an impossible nonce.
func ParseEnvelope(s string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(e.IV) != nonceSize || len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: bad field sizes", ErrMalformedEnvelope)
	}
	return &e, nil
}

// sharedCipher derives the ECDH shared secret between the two keys and
// builds an AES-256-GCM AEAD over it. The 32-byte secret is used directly
// as the symmetric key.
func sharedCipher(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) (cipher.AEAD, error) {
	if priv == nil || peer == nil {
		return nil, ErrMissingKey
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext for the holder of peer's private key. A fresh
// random nonce is generated per call, so encrypting the same plaintext
// twice yields different envelopes.
func Encrypt(plaintext []byte, priv *ecdh.PrivateKey, peer *ecdh.PublicKey) (*Envelope, error) {
	aead, err := sharedCipher(priv, peer)
	if err != nil {
		return nil, err
	}
	iv := common.RandBytes(nonceSize)
	return &Envelope{IV: iv, Data: aead.Seal(nil, iv, plaintext, nil)}, nil
}

// Decrypt opens an envelope produced by Encrypt with the mirrored key
// pairing. It fails closed: any tag mismatch returns ErrAuthFailed and no
// plaintext is ever emitted for an unauthenticated envelope.
func Decrypt(env *Envelope, priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	if env == nil || len(env.IV) != nonceSize {
		return nil, ErrMalformedEnvelope
	}
	aead, err := sharedCipher(priv, peer)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.IV, env.Data, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper returning the wire JSON form.
func EncryptString(plaintext string, priv *ecdh.PrivateKey, peer *ecdh.PublicKey) (string, error) {
	env, err := Encrypt([]byte(plaintext), priv, peer)
	if err != nil {
		return "", err
	}
	return env.Marshal()
}

// DecryptString parses the wire JSON form and opens it.
func DecryptString(content string, priv *ecdh.PrivateKey, peer *ecdh.PublicKey) (string, error) {
	env, err := ParseEnvelope(content)
	if err != nil {
		return "", err
	}
	plaintext, err := Decrypt(env, priv, peer)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
