package cryptox

import (
	"crypto/ecdh"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T, secret string, accountID int64) *KeyPair {
	t.Helper()
	kp, err := DeriveKeyPair([]byte(secret), accountID)
	require.NoError(t, err)
	return kp
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	alice := testPair(t, "alice-secret", 1)
	bob := testPair(t, "bob-secret", 2)

	env, err := Encrypt([]byte("hello bob"), alice.Private, bob.Public)
	require.NoError(t, err)

	// decrypt(encrypt(m, a.priv, b.pub), b.priv, a.pub) == m
	plain, err := Decrypt(env, bob.Private, alice.Public)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plain))

	// the sender can open its own envelope with the mirrored pairing
	plain, err = Decrypt(env, alice.Private, bob.Public)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plain))
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	alice := testPair(t, "a", 1)
	bob := testPair(t, "b", 2)

	e1, err := Encrypt([]byte("same plaintext"), alice.Private, bob.Public)
	require.NoError(t, err)
	e2, err := Encrypt([]byte("same plaintext"), alice.Private, bob.Public)
	require.NoError(t, err)

	assert.NotEqual(t, e1.IV, e2.IV)
	assert.NotEqual(t, e1.Data, e2.Data)
}

func TestDecrypt_WrongPairingFailsClosed(t *testing.T) {
	alice := testPair(t, "a", 1)
	bob := testPair(t, "b", 2)
	eve := testPair(t, "e", 3)

	env, err := Encrypt([]byte("for bob only"), alice.Private, bob.Public)
	require.NoError(t, err)

	// wrong key pairing must produce an authentication error, never
	// altered plaintext
	plain, err := Decrypt(env, eve.Private, alice.Public)
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Nil(t, plain)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	alice := testPair(t, "a", 1)
	bob := testPair(t, "b", 2)

	env, err := Encrypt([]byte("payload"), alice.Private, bob.Public)
	require.NoError(t, err)
	env.Data[0] ^= 0xff

	_, err = Decrypt(env, bob.Private, alice.Public)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestDecrypt_MissingKey(t *testing.T) {
	alice := testPair(t, "a", 1)

	env, err := Encrypt([]byte("x"), alice.Private, alice.Public)
	require.NoError(t, err)

	_, err = Decrypt(env, nil, alice.Public)
	require.ErrorIs(t, err, ErrMissingKey)
	_, err = Decrypt(env, alice.Private, (*ecdh.PublicKey)(nil))
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestParseEnvelope_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "garbage"},
		{"wrong nonce size", `{"iv":"AAAA","data":"AAAA"}`},
		{"empty data", `{"iv":"AAAAAAAAAAAAAAAA","data":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEnvelope(tc.content)
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestEncryptDecryptString_WireForm(t *testing.T) {
	alice := testPair(t, "a", 1)
	bob := testPair(t, "b", 2)

	content, err := EncryptString("over the wire", alice.Private, bob.Public)
	require.NoError(t, err)
	assert.Contains(t, content, `"iv"`)

	plain, err := DecryptString(content, bob.Private, alice.Public)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", plain)
}

func TestSealForRecipients_IndependentEnvelopes(t *testing.T) {
	sender := testPair(t, "s", 10)
	m1 := testPair(t, "m1", 11)
	m2 := testPair(t, "m2", 12)

	content, err := SealForRecipients([]byte("group secret"), sender.Private, map[int64]*ecdh.PublicKey{
		10: sender.Public,
		11: m1.Public,
		12: m2.Public,
	})
	require.NoError(t, err)

	// each member (including the sender) gets an envelope only their own
	// private key opens
	type member struct {
		id   int64
		pair *KeyPair
	}
	for _, m := range []member{{10, sender}, {11, m1}, {12, m2}} {
		part, isMap := PickRecipient(content, m.id)
		require.True(t, isMap)
		require.NotEmpty(t, part)

		plain, err := DecryptString(part, m.pair.Private, sender.Public)
		require.NoError(t, err)
		assert.Equal(t, "group secret", plain)
	}

	// m2's envelope must not open with m1's key
	part, _ := PickRecipient(content, 12)
	_, err = DecryptString(part, m1.Private, sender.Public)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestPickRecipient_NonMapContent(t *testing.T) {
	alice := testPair(t, "a", 1)
	bob := testPair(t, "b", 2)

	dm, err := EncryptString("direct", alice.Private, bob.Public)
	require.NoError(t, err)

	_, isMap := PickRecipient(dm, 2)
	assert.False(t, isMap, "a single DM envelope is not a recipient map")

	_, isMap = PickRecipient("plain old text", 2)
	assert.False(t, isMap)
}

func TestPickRecipient_AbsentMember(t *testing.T) {
	sender := testPair(t, "s", 1)
	content, err := SealForRecipients([]byte("x"), sender.Private, map[int64]*ecdh.PublicKey{1: sender.Public})
	require.NoError(t, err)

	part, isMap := PickRecipient(content, 99)
	assert.True(t, isMap)
	assert.Empty(t, part, "a member added after sealing has no envelope")
}
