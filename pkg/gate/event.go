// Package gate admits or drops inbound bot events before they reach any
// handler. It extracts an actor identity from the transport's
// heterogeneous update shapes, consults the rate-limit policy engine, and
// forwards or drops with a logged reason.
package gate

import "github.com/kelechio/floodgate/pkg/limiter"

// User is the originating platform account of an event.
type User struct {
	ID int64
}

// Message is a direct message from a user.
type Message struct {
	From   *User
	ChatID int64
	Text   string
}

// Callback is a button press or other interaction callback.
type Callback struct {
	From *User
	Data string
}

// Update is the transport's native event envelope. At most one variant is
// set; an envelope with neither carries no actor identity (channel posts,
// service updates) and bypasses rate limiting.
type Update struct {
	Message  *Message
	Callback *Callback
}

// ActorID extracts the originating actor, reporting false when the update
// is unattributable.
func (u *Update) ActorID() (limiter.Actor, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return limiter.ActorID(u.Message.From.ID), true
	case u.Callback != nil && u.Callback.From != nil:
		return limiter.ActorID(u.Callback.From.ID), true
	default:
		return "", false
	}
}
