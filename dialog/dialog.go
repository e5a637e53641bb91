package dialog

import (
	"context"
	"strconv"

	"sipdialog/sip"
)

// Dialog is the non-INVITE dialog variant: REGISTER, SUBSCRIBE, NOTIFY
// and similar long-lived request/response relationships. Inbound
// messages are delivered as an ordered queue a consumer drains with
// Recv.
type Dialog struct {
	*DialogBase
	inboundQueue chan sip.Message
}

// NewDialog constructs a Dialog and prepares its original message from
// method/from/to/contact. The dialog is not yet registered with app;
// the caller inserts it under ID() once constructed.
func NewDialog(
	app App,
	method sip.RequestMethod,
	from, to sip.Contact,
	callID string,
	peer Peer,
	contact *sip.Contact,
	headers *sip.Headers,
	payload []byte,
	password string,
	cseq uint32,
	inboundDialog bool,
) *Dialog {
	base := newDialogBase(app, method, from, to, callID, peer, contact, headers, payload, password, cseq, inboundDialog)
	d := &Dialog{
		DialogBase:   base,
		inboundQueue: make(chan sip.Message, 64),
	}
	d.SetRegistryEntry(d, func() {
		_, _ = d.Close(context.Background(), nil, false)
	})
	return d
}

// Start issues the original request, optionally overriding Expires.
func (d *Dialog) Start(ctx context.Context, expires *int) (*sip.Response, error) {
	headers := d.OriginalMessage().Headers().Clone()
	if expires != nil {
		headers.Set("Expires", strconv.Itoa(*expires))
	}
	method, _ := d.OriginalMessage().Method()
	return d.Request(ctx, method, headers, d.OriginalMessage().Payload())
}

// Refresh re-issues the original request with a fresh Expires, defaulting
// to 1800 seconds.
func (d *Dialog) Refresh(ctx context.Context, headers *sip.Headers, expiresSeconds int) (*sip.Response, error) {
	if headers == nil {
		headers = sip.NewHeaders()
	}
	if !headers.Has("Expires") {
		if expiresSeconds == 0 {
			expiresSeconds = 1800
		}
		headers.Set("Expires", strconv.Itoa(expiresSeconds))
	}
	method, _ := d.OriginalMessage().Method()
	return d.Request(ctx, method, headers, nil)
}

// Notify issues a NOTIFY request, filling in the usual dialog-event
// defaults when the caller omits them.
func (d *Dialog) Notify(ctx context.Context, headers *sip.Headers) (*sip.Response, error) {
	if headers == nil {
		headers = sip.NewHeaders()
	}
	if !headers.Has("Event") {
		headers.Set("Event", "dialog")
	}
	if !headers.Has("Content-Type") {
		headers.Set("Content-Type", "application/dialog-info+xml")
	}
	if !headers.Has("Subscription-State") {
		headers.Set("Subscription-State", "active")
	}
	return d.Request(ctx, sip.NOTIFY, headers, nil)
}

// Cancel sends a bare CANCEL, outside any transaction.
func (d *Dialog) Cancel() error {
	req := d.prepareRequest(sip.CANCEL, nil, nil, nil, nil, nil)
	return d.peer.SendMessage(req)
}

// Shutdown closes d with its default (non-fast, no extra headers) behavior.
// It satisfies the closer interface WithDialog requires.
func (d *Dialog) Shutdown(ctx context.Context) error {
	_, err := d.Close(ctx, nil, false)
	return err
}

// Close is idempotent. A non-fast close of an outbound REGISTER/SUBSCRIBE
// dialog first deregisters with Expires: 0 before tearing down.
func (d *Dialog) Close(ctx context.Context, headers *sip.Headers, fast bool) (*sip.Response, error) {
	if !d.markClosed() {
		return nil, nil
	}

	method, _ := d.OriginalMessage().Method()
	if !fast && !d.DialogBase.inbound && (method == sip.REGISTER || method == sip.SUBSCRIBE) {
		if headers == nil {
			headers = sip.NewHeaders()
		}
		if !headers.Has("Expires") {
			headers.Set("Expires", "0")
		}
		result, err := d.Request(ctx, method, headers, nil)
		d.closeBase()
		return result, err
	}

	d.closeBase()
	return nil, nil
}

// Recv blocks for the next queued inbound message.
func (d *Dialog) Recv(ctx context.Context) (sip.Message, error) {
	select {
	case msg := <-d.inboundQueue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveMessage is the Peer-facing entry point: cancel any pending
// scheduled close (activity resets it), bump the dialog's CSeq watermark
// to the highest seen, then route to response or request handling. An
// ACK has no in-scope tracked transaction, so it is simply dropped.
func (d *Dialog) ReceiveMessage(msg sip.Message) error {
	d.closing.stop()
	if cseq, err := msg.CSeq(); err == nil {
		d.mu.Lock()
		if d.cseq < cseq {
			d.cseq = cseq
		}
		d.mu.Unlock()
	}

	switch m := msg.(type) {
	case *sip.Response:
		d.receiveResponse(m)
		return nil
	case *sip.Request:
		method, _ := m.Method()
		if method == sip.ACK {
			return nil
		}
		return d.receiveRequest(m)
	default:
		return nil
	}
}

func (d *Dialog) receiveRequest(msg *sip.Request) error {
	select {
	case d.inboundQueue <- msg:
	default:
		logger().Warn("dialog: inbound queue full, dropping message", "call_id", d.callID)
	}
	d.maybeClose(msg)
	return nil
}
