package users

import "time"

// User mirrors the authenticated identity record plus the chat-side
// state this service owns: the invisibility flag and the published
// public key.
type User struct {
	ID          int64
	Name        string
	Avatar      string
	IsAdmin     bool
	IsInvisible bool
	PublicKey   string
	CreatedAt   time.Time
}
