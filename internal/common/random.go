package common

import (
	"crypto/rand"
	"encoding/hex"
)

// RandBytes returns size cryptographically random bytes. It panics if the
// system source of randomness fails, which is not a recoverable condition.
func RandBytes(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandHex returns a random hexadecimal string built from size random bytes,
// so the final string is twice as long as size.
func RandHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Wipe overwrites b with zeros. Use it to drop secrets (passphrases, derived
// keys) from memory as soon as they are no longer needed. A nil slice is a
// no-op.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
