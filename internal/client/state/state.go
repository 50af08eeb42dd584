// Package state holds the client's in-memory view of the session:
// per-conversation ordered message lists with optimistic pending sends,
// unread counters, the user and group directory, and a decrypted-content
// cache. One Manager serves the whole session; the receive loop and the
// REPL share it concurrently.
package state

import (
	"crypto/ecdh"
	"fmt"
	"sync"

	"github.com/parleychat/parley/internal/cryptox"
	"github.com/parleychat/parley/internal/protocol"
)

// ConvKey identifies a conversation: exactly one of GroupID and PeerID is
// set, mirroring the message addressing rule.
type ConvKey struct {
	GroupID int64
	PeerID  int64
}

func GroupConv(groupID int64) ConvKey { return ConvKey{GroupID: groupID} }
func DirectConv(peerID int64) ConvKey { return ConvKey{PeerID: peerID} }

func (k ConvKey) IsGroup() bool { return k.GroupID != 0 }

// Entry is one message in a conversation list. A pending entry is an
// optimistic local send awaiting the server echo; Plaintext carries the
// typed text so an own encrypted send renders without a decrypt pass.
type Entry struct {
	Message   protocol.WireMessage
	Pending   bool
	TempID    string
	Plaintext string
}

// Decrypted is a cached decryption outcome. Failures are cached too, so a
// broken envelope is reported once per message instead of retried forever.
type Decrypted struct {
	Text string
	Err  error
}

// IngestResult tells the caller what Ingest did with a message.
type IngestResult struct {
	Conv   ConvKey
	Stored bool // false when the message was a known duplicate
	Echo   bool // an own pending send was confirmed in place
	Unread bool // the conversation's unread counter was incremented
}

type Manager struct {
	mu     sync.Mutex
	selfID int64

	conversations map[ConvKey][]Entry
	seen          map[ConvKey]map[int64]bool
	index         map[int64]ConvKey
	unread        map[ConvKey]int
	open          ConvKey
	hasOpen       bool

	localMutes map[int64]bool
	decrypted  map[int64]Decrypted

	users      map[int64]protocol.UserEntry
	usersList  []protocol.UserEntry
	groups     map[int64]protocol.GroupEntry
	groupsList []protocol.GroupEntry
	members    map[int64][]protocol.MemberEntry
}

func NewManager(selfID int64) *Manager {
	return &Manager{
		selfID:        selfID,
		conversations: make(map[ConvKey][]Entry),
		seen:          make(map[ConvKey]map[int64]bool),
		index:         make(map[int64]ConvKey),
		unread:        make(map[ConvKey]int),
		localMutes:    make(map[int64]bool),
		decrypted:     make(map[int64]Decrypted),
		users:         make(map[int64]protocol.UserEntry),
		groups:        make(map[int64]protocol.GroupEntry),
		members:       make(map[int64][]protocol.MemberEntry),
	}
}

func (m *Manager) SelfID() int64 { return m.selfID }

// SetUsers replaces the user directory with a fresh user_list push.
func (m *Manager) SetUsers(entries []protocol.UserEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usersList = append([]protocol.UserEntry(nil), entries...)
	m.users = make(map[int64]protocol.UserEntry, len(entries))
	for _, u := range entries {
		m.users[u.ID] = u
	}
}

func (m *Manager) Users() []protocol.UserEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.UserEntry(nil), m.usersList...)
}

func (m *Manager) User(id int64) (protocol.UserEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

// SetGroups replaces the group directory with a fresh group_list push.
func (m *Manager) SetGroups(entries []protocol.GroupEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupsList = append([]protocol.GroupEntry(nil), entries...)
	m.groups = make(map[int64]protocol.GroupEntry, len(entries))
	for _, g := range entries {
		m.groups[g.ID] = g
	}
}

func (m *Manager) Groups() []protocol.GroupEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protocol.GroupEntry(nil), m.groupsList...)
}

func (m *Manager) Group(id int64) (protocol.GroupEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	return g, ok
}

// SetMembers caches a group_members answer; encrypted sends need the
// member set to seal per-recipient envelopes.
func (m *Manager) SetMembers(groupID int64, entries []protocol.MemberEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[groupID] = append([]protocol.MemberEntry(nil), entries...)
}

func (m *Manager) Members(groupID int64) ([]protocol.MemberEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.members[groupID]
	return append([]protocol.MemberEntry(nil), ms...), ok
}

// SetLocalMutes bulk-loads the locally muted groups at startup.
func (m *Manager) SetLocalMutes(muted map[int64]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localMutes = make(map[int64]bool, len(muted))
	for id, v := range muted {
		if v {
			m.localMutes[id] = true
		}
	}
}

func (m *Manager) SetLocalMute(groupID int64, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if muted {
		m.localMutes[groupID] = true
	} else {
		delete(m.localMutes, groupID)
	}
}

func (m *Manager) LocalMuted(groupID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localMutes[groupID]
}

// Open marks conv as the conversation on screen and clears its unread
// counter. Messages arriving for the open conversation never count as
// unread.
func (m *Manager) Open(conv ConvKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = conv
	m.hasOpen = true
	delete(m.unread, conv)
}

func (m *Manager) Opened() (ConvKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.hasOpen
}

func (m *Manager) CloseOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasOpen = false
}

// AppendPending records an optimistic send. msg carries the tempId the
// server will echo back; plaintext is what the user typed, kept so an
// encrypted send renders immediately and after confirmation.
func (m *Manager) AppendPending(conv ConvKey, msg protocol.WireMessage, plaintext string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv] = append(m.conversations[conv], Entry{
		Message:   msg,
		Pending:   true,
		TempID:    msg.TempID,
		Plaintext: plaintext,
	})
}

// conversationOf maps a message to its conversation from this client's
// point of view.
func (m *Manager) conversationOf(msg protocol.WireMessage) ConvKey {
	if msg.GroupID != 0 {
		return GroupConv(msg.GroupID)
	}
	if msg.SenderID == m.selfID {
		return DirectConv(msg.ReceiverID)
	}
	return DirectConv(msg.SenderID)
}

// Ingest files one receive_message push: a pending entry with a matching
// tempId is confirmed in place (order preserved), a known id is dropped as
// a duplicate, anything else is appended. The unread counter moves only
// for messages from others, outside the open conversation, in groups not
// locally muted.
func (m *Manager) Ingest(msg protocol.WireMessage) IngestResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversationOf(msg)
	res := IngestResult{Conv: conv}

	if msg.ID != 0 && m.seen[conv][msg.ID] {
		return res
	}

	if msg.TempID != "" && msg.SenderID == m.selfID {
		entries := m.conversations[conv]
		for i := range entries {
			if entries[i].Pending && entries[i].TempID == msg.TempID {
				if entries[i].Plaintext != "" && msg.ID != 0 && msg.Type == protocol.MessageTypeEncrypted {
					m.decrypted[msg.ID] = Decrypted{Text: entries[i].Plaintext}
				}
				entries[i] = Entry{Message: msg, TempID: msg.TempID, Plaintext: entries[i].Plaintext}
				m.recordSeen(conv, msg.ID)
				res.Stored = true
				res.Echo = true
				return res
			}
		}
	}

	m.conversations[conv] = append(m.conversations[conv], Entry{Message: msg})
	m.recordSeen(conv, msg.ID)
	res.Stored = true

	fromSelf := msg.SenderID == m.selfID
	onScreen := m.hasOpen && m.open == conv
	muted := conv.IsGroup() && m.localMutes[conv.GroupID]
	if !fromSelf && !onScreen && !muted {
		m.unread[conv]++
		res.Unread = true
	}
	return res
}

func (m *Manager) recordSeen(conv ConvKey, id int64) {
	if id == 0 {
		return
	}
	if m.seen[conv] == nil {
		m.seen[conv] = make(map[int64]bool)
	}
	m.seen[conv][id] = true
	m.index[id] = conv
}

// SetHistory replaces the confirmed part of a conversation with a server
// history page, keeping still-unconfirmed pending sends at the tail. The
// decrypted cache survives since message ids are stable.
func (m *Manager) SetHistory(conv ConvKey, msgs []protocol.WireMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.conversations[conv]
	for _, e := range old {
		if !e.Pending {
			delete(m.index, e.Message.ID)
		}
	}

	rebuilt := make([]Entry, 0, len(msgs))
	ids := make(map[int64]bool, len(msgs))
	for _, ms := range msgs {
		if ids[ms.ID] {
			continue
		}
		rebuilt = append(rebuilt, Entry{Message: ms})
		ids[ms.ID] = true
		m.index[ms.ID] = conv
	}
	for _, e := range old {
		if e.Pending {
			rebuilt = append(rebuilt, e)
		}
	}

	m.conversations[conv] = rebuilt
	m.seen[conv] = ids
}

// Conversation returns a copy of the conversation's entries in order.
func (m *Manager) Conversation(conv ConvKey) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.conversations[conv]...)
}

// MarkDelivered flips the delivered flag of a confirmed message and
// reports which conversation it belongs to.
func (m *Manager) MarkDelivered(messageID int64) (ConvKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.index[messageID]
	if !ok {
		return ConvKey{}, false
	}
	entries := m.conversations[conv]
	for i := range entries {
		if !entries[i].Pending && entries[i].Message.ID == messageID {
			entries[i].Message.Delivered = true
			return conv, true
		}
	}
	return conv, false
}

func (m *Manager) Unread(conv ConvKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[conv]
}

// Unreads returns a copy of all non-zero unread counters.
func (m *Manager) Unreads() map[ConvKey]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ConvKey]int, len(m.unread))
	for k, v := range m.unread {
		out[k] = v
	}
	return out
}

// Decrypt resolves the readable text of a message, consulting and filling
// the per-message cache. Non-encrypted messages pass through unchanged.
// The counterpart key is the live directory key when known, falling back
// to the key snapshot pinned on the message: for an own sent direct
// message the receiver's, otherwise the sender's.
func (m *Manager) Decrypt(msg protocol.WireMessage, priv *ecdh.PrivateKey) (string, error) {
	if msg.Type != protocol.MessageTypeEncrypted {
		return msg.Content, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID != 0 {
		if d, ok := m.decrypted[msg.ID]; ok {
			return d.Text, d.Err
		}
	}

	text, err := m.decryptLocked(msg, priv)
	if msg.ID != 0 {
		m.decrypted[msg.ID] = Decrypted{Text: text, Err: err}
	}
	return text, err
}

func (m *Manager) decryptLocked(msg protocol.WireMessage, priv *ecdh.PrivateKey) (string, error) {
	content := msg.Content
	if msg.GroupID != 0 {
		if part, isMap := cryptox.PickRecipient(content, m.selfID); isMap {
			if part == "" {
				return "", fmt.Errorf("%w: no envelope addressed to this account", cryptox.ErrMissingKey)
			}
			content = part
		}
	}

	keyStr := m.counterpartKeyLocked(msg)
	if keyStr == "" {
		return "", cryptox.ErrMissingKey
	}
	peer, err := cryptox.ParsePublicKey(keyStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cryptox.ErrMissingKey, err)
	}
	return cryptox.DecryptString(content, priv, peer)
}

func (m *Manager) counterpartKeyLocked(msg protocol.WireMessage) string {
	counterpartID := msg.SenderID
	snapshot := msg.SenderPublicKey
	if msg.GroupID == 0 && msg.SenderID == m.selfID {
		counterpartID = msg.ReceiverID
		snapshot = msg.ReceiverPublicKey
	}
	if u, ok := m.users[counterpartID]; ok && u.PublicKey != "" {
		return u.PublicKey
	}
	return snapshot
}
