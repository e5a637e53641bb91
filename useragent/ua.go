// Package useragent provides UA, the concrete dialog.App collaborator: a
// process-wide dialog registry, a time.AfterFunc-backed scheduler, and the
// application defaults (User-Agent header value, default dialog closing
// delay) every dialog consults.
package useragent

import (
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"sipdialog/dialog"
	"sipdialog/sip"
)

// receiver is the subset of dialog.Dialog/dialog.InviteDialog's surface UA
// needs to route an inbound message: it never imports a concrete dialog
// type, only this duck-typed shape, so adding a third dialog variant never
// requires a change here.
type receiver interface {
	ReceiveMessage(msg sip.Message) error
}

// UA is the application-level collaborator a Dialog/InviteDialog depends
// on through the dialog.App interface, plus the inbound dispatch this
// package adds on top of it.
type UA struct {
	name string
	ip   net.IP
	host string

	closingDelay time.Duration
	log          *slog.Logger

	onRequest func(req *sip.Request)

	mu      sync.Mutex
	dialogs map[dialog.ID]any
}

// Option configures a UA at construction time.
type Option func(*UA) error

// WithUserAgent sets the value reported in the User-Agent header of every
// request/response the UA's dialogs build.
func WithUserAgent(name string) Option {
	return func(u *UA) error {
		u.name = name
		return nil
	}
}

// WithClosingDelay overrides the default delay a dialog waits, after its
// last activity, before tearing itself down.
func WithClosingDelay(d time.Duration) Option {
	return func(u *UA) error {
		u.closingDelay = d
		return nil
	}
}

// WithIP resolves and records the UA's local IP. host:port or a bare
// host/IP are both accepted. The recorded address is not read back by
// this package or the transports; Via and Contact headers are built from
// the dialog's own Contact.
func WithIP(addr string) Option {
	return func(u *UA) error {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return err
		}
		u.ip = resolved.IP
		u.host = strings.Split(resolved.IP.String(), "%")[0]
		return nil
	}
}

// WithLogger overrides the slog.Logger used for dispatch-level logging.
func WithLogger(l *slog.Logger) Option {
	return func(u *UA) error {
		u.log = l
		return nil
	}
}

// WithUnmatchedRequestHandler installs the callback invoked when an
// inbound request matches no registered dialog -- the hook an application
// uses to spin up a new InviteDialog for an incoming INVITE or answer a
// bare OPTIONS ping.
func WithUnmatchedRequestHandler(fn func(req *sip.Request)) Option {
	return func(u *UA) error {
		u.onRequest = fn
		return nil
	}
}

// New builds a UA, applying options in order and defaulting User-Agent,
// the closing delay and the logger when left unset.
func New(opts ...Option) (*UA, error) {
	u := &UA{
		name:         "sipdialog",
		closingDelay: 32 * time.Second,
		log:          slog.Default(),
		dialogs:      make(map[dialog.ID]any),
	}
	for _, o := range opts {
		if err := o(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// UserAgent implements dialog.Defaults.
func (u *UA) UserAgent() string { return u.name }

// DialogClosingDelay implements dialog.Defaults.
func (u *UA) DialogClosingDelay() time.Duration { return u.closingDelay }

// Insert implements dialog.Registry.
func (u *UA) Insert(id dialog.ID, entry any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dialogs[id] = entry
}

// Delete implements dialog.Registry.
func (u *UA) Delete(id dialog.ID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.dialogs[id]; !ok {
		return sip.ErrDialogNotFound
	}
	delete(u.dialogs, id)
	return nil
}

// Schedule implements dialog.Scheduler using a plain time.AfterFunc timer.
func (u *UA) Schedule(d time.Duration, fn func()) (cancel func()) {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// Lookup returns the dialog registered under id, if any.
func (u *UA) Lookup(id dialog.ID) (any, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	entry, ok := u.dialogs[id]
	return entry, ok
}

// Count returns the number of live dialogs, for health/diagnostics.
func (u *UA) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.dialogs)
}

// Dispatch routes an inbound message to the dialog it belongs to, whichever
// side's tag is in From and which in To, including a dialog still
// registered without the remote tag. A request matching no dialog goes to
// onRequest, if set; a response matching no dialog is dropped, logged at
// debug.
func (u *UA) Dispatch(msg sip.Message) {
	from, err := msg.FromDetails()
	if err != nil {
		u.log.Debug("ua: dropping message with no From", "err", err)
		return
	}
	to, err := msg.ToDetails()
	if err != nil {
		u.log.Debug("ua: dropping message with no To", "err", err)
		return
	}
	callID, err := msg.CallID()
	if err != nil {
		u.log.Debug("ua: dropping message with no Call-ID", "err", err)
		return
	}
	fromTag, _ := from.Tag()
	toTag, _ := to.Tag()

	// NewID sorts its two tag arguments internally, so looking it up under
	// both orderings would just hash to the same ID twice.
	id := dialog.NewID(fromTag, toTag, callID)
	entry, ok := u.Lookup(id)
	if !ok && fromTag != "" && toTag != "" {
		// A dialog that has not learned the remote tag yet is still
		// registered under its local tag alone: the From tag of a
		// response, the To tag of a request.
		localTag := fromTag
		if _, isReq := msg.(*sip.Request); isReq {
			localTag = toTag
		}
		entry, ok = u.Lookup(dialog.NewID(localTag, "", callID))
	}
	if ok {
		if r, ok := entry.(receiver); ok {
			if err := r.ReceiveMessage(msg); err != nil {
				u.log.Error("ua: dialog rejected message", "call_id", callID, "err", err)
			}
			return
		}
	}

	req, ok := msg.(*sip.Request)
	if !ok {
		u.log.Debug("ua: response matches no dialog", "call_id", callID)
		return
	}
	if u.onRequest != nil {
		u.onRequest(req)
		return
	}
	u.log.Debug("ua: request matches no dialog and no handler installed", "call_id", callID)
}
