// Package hub owns the in-process live state: which user is connected
// right now, what each viewer is allowed to know about everyone else's
// presence, and the pushes that keep connected clients' lists fresh.
package hub

// Session is one live transport connection bound to exactly one user.
type Session interface {
	UserID() int64
	// Send enqueues a frame without blocking; false means the session is
	// gone or its queue is full, and the frame was dropped.
	Send(frame []byte) bool
	Close()
}
