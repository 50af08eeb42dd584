package cryptox

import (
	"crypto/ecdh"
	"encoding/json"
	"strconv"
)

// Group messages to an encrypted group carry one envelope per member,
// keyed by the member's user id in decimal:
//
//	{"3": {"iv": ..., "data": ...}, "7": {"iv": ..., "data": ...}}
//
// Each envelope is sealed over the pairwise shared secret between the
// sender and that member. The sender seals to itself as well, so it can
// reread its own history.

// SealForRecipients builds the per-member content for an encrypted group
// message. Members without a known public key are skipped; they will see a
// missing-envelope failure, which is the honest outcome for a recipient
// the sender could not encrypt to.
func SealForRecipients(plaintext []byte, priv *ecdh.PrivateKey, recipients map[int64]*ecdh.PublicKey) (string, error) {
	if priv == nil {
		return "", ErrMissingKey
	}
	out := make(map[string]*Envelope, len(recipients))
	for id, pub := range recipients {
		if pub == nil {
			continue
		}
		env, err := Encrypt(plaintext, priv, pub)
		if err != nil {
			return "", err
		}
		out[strconv.FormatInt(id, 10)] = env
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PickRecipient extracts the single envelope addressed to userID from
// per-member content produced by SealForRecipients. The second return
// reports whether content was a recipient map at all; when it is false
// (a direct-message envelope, plaintext, anything else) content should be
// used unchanged. When it is true and the user has no envelope, the first
// return is empty: that member was not encrypted to.
func PickRecipient(content string, userID int64) (string, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return "", false
	}
	// A single envelope is itself a JSON object; tell the two shapes apart
	// by the envelope's fixed field names.
	if _, isEnvelope := raw["iv"]; isEnvelope {
		return "", false
	}
	part, ok := raw[strconv.FormatInt(userID, 10)]
	if !ok {
		return "", true
	}
	return string(part), true
}
