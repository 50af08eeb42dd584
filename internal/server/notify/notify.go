// Package notify hands queued direct messages to an external push
// consumer. Delivery of the actual push notification is somebody else's
// job; the engine only publishes the wake-up.
package notify

import "context"

// Event is what the push consumer receives for one queued message. It
// deliberately carries no content: encrypted payloads are opaque anyway,
// and the consumer only needs to know whose device to wake.
type Event struct {
	UserID    int64  `json:"userId"`
	SenderID  int64  `json:"senderId"`
	MessageID int64  `json:"messageId"`
	Type      string `json:"type"`
}

// Notifier is fire-and-forget: implementations log failures instead of
// propagating them, a lost wake-up never fails the send.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Noop is the notifier used when no push channel is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}
