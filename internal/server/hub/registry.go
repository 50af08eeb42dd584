package hub

import "sync"

// Registry is the presence map: user id to live session. It is the
// process-lifetime source of truth for "who is online right now". One
// session per user; a later join supersedes the earlier session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]Session)}
}

// Bind registers the session under its user id. An existing session for
// the same user is closed: last join wins.
func (r *Registry) Bind(s Session) {
	r.mu.Lock()
	old := r.sessions[s.UserID()]
	r.sessions[s.UserID()] = s
	r.mu.Unlock()

	if old != nil && old != s {
		old.Close()
	}
}

// Release removes the binding, but only while it still belongs to the
// releasing session, so a superseded connection's late disconnect cannot
// evict its successor. Reports whether the user actually went offline.
func (r *Registry) Release(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID()] == s {
		delete(r.sessions, s.UserID())
		return true
	}
	return false
}

func (r *Registry) Get(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

func (r *Registry) Online(userID int64) bool {
	_, ok := r.Get(userID)
	return ok
}

// OnlineIDs returns the set of currently connected user ids.
func (r *Registry) OnlineIDs() map[int64]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[int64]struct{}, len(r.sessions))
	for id := range r.sessions {
		ids[id] = struct{}{}
	}
	return ids
}

// Snapshot returns the live sessions at this instant.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Push sends a frame to one user's session, if any.
func (r *Registry) Push(userID int64, frame []byte) bool {
	s, ok := r.Get(userID)
	if !ok {
		return false
	}
	return s.Send(frame)
}

// Broadcast sends a frame to every live session.
func (r *Registry) Broadcast(frame []byte) {
	for _, s := range r.Snapshot() {
		s.Send(frame)
	}
}

// CloseUser drops the user's binding and closes their session, used when
// an account is removed while connected.
func (r *Registry) CloseUser(userID int64) {
	r.mu.Lock()
	s := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if s != nil {
		s.Close()
	}
}
