package dialog

import (
	"time"

	"sipdialog/sip"
)

// Peer is the transport handle a dialog sends outbound messages through.
// It is responsible for serializing the message and filling the
// "%(protocol)s" placeholder left in a default Via header.
type Peer interface {
	SendMessage(msg sip.Message) error
}

// Registry is the narrow view of the owning application a dialog needs
// to keep its own registration current. A real application also looks
// dialogs up by ID to route inbound messages, but that lookup happens on
// the application side, not through this interface, so Dialog never
// holds a cyclic reference back to anything that holds Dialog.
type Registry interface {
	Insert(id ID, entry any)
	Delete(id ID) error
}

// Scheduler runs fn after d elapses and returns a cancel function. The
// cancel function is safe to call more than once and safe to call after
// fn has already run.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Defaults is the application-wide configuration a dialog consults when
// the caller does not override a value explicitly.
type Defaults interface {
	UserAgent() string
	DialogClosingDelay() time.Duration
}

// App is the full collaborator contract a dialog needs from its owning
// application.
type App interface {
	Registry
	Scheduler
	Defaults
}
