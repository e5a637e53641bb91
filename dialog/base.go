package dialog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sipdialog/sip"
	"sipdialog/transaction"
)

type txKey struct {
	method sip.RequestMethod
	cseq   uint32
}

// DialogBase is the shared core of Dialog and InviteDialog: identity,
// the transaction table, auth, closure and the request/reply plumbing.
// The two variants embed it and add their own message routing.
type DialogBase struct {
	app     App
	peer    Peer
	callID  string
	inbound bool

	mu             sync.Mutex
	fromDetails    sip.Contact
	toDetails      sip.Contact
	contactDetails *sip.Contact
	cseq           uint32
	transactions   map[txKey]*transaction.Transaction
	auth           *Challenge
	closed         bool

	originalMsg *sip.Request
	closing     scheduledTask

	// closeFunc is set by the embedding Dialog/InviteDialog after
	// construction so closeLater's timer can call the variant's own
	// Close, which DialogBase cannot name without an import cycle.
	closeFunc func()

	// registryEntry is the embedding Dialog/InviteDialog itself, set
	// right after construction, so re-keying in the registry inserts
	// the concrete dialog rather than this base.
	registryEntry any
}

// SetRegistryEntry records the concrete Dialog/InviteDialog that embeds
// this base, for insertion into the registry on re-key, and the close
// function the closing timer invokes.
func (d *DialogBase) SetRegistryEntry(entry any, closeFunc func()) {
	d.registryEntry = entry
	d.closeFunc = closeFunc
}

func newDialogBase(
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
	inbound bool,
) *DialogBase {
	d := &DialogBase{
		app:          app,
		peer:         peer,
		callID:       callID,
		inbound:      inbound,
		fromDetails:  from,
		toDetails:    to,
		cseq:         cseq,
		transactions: make(map[txKey]*transaction.Transaction),
	}
	if contact != nil {
		d.contactDetails = contact
	}
	d.originalMsg = d.prepareRequest(method, nil, headers, payload, &cseqOverride{v: cseq, has: cseq != 0}, nil)
	_ = password // not retained: Authorize and ValidateAuth take the password as an argument
	return d
}

// cseqOverride distinguishes "caller supplied an explicit CSeq" from
// "auto-increment", matching the source's `if not cseq: self.cseq += 1`.
type cseqOverride struct {
	v   uint32
	has bool
}

// ID returns this dialog's current registry key.
func (d *DialogBase) ID() ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	localTag, _ := d.fromDetails.Tag()
	remoteTag, _ := d.toDetails.Tag()
	return NewID(localTag, remoteTag, d.callID)
}

func (d *DialogBase) CallID() string { return d.callID }

func (d *DialogBase) OriginalMessage() *sip.Request { return d.originalMsg }

// prepareRequest builds an outbound request carrying this dialog's
// current From/To/Contact, generating the next CSeq unless override
// supplies one explicitly.
func (d *DialogBase) prepareRequest(
	method sip.RequestMethod,
	contactDetails *sip.Contact,
	headers *sip.Headers,
	payload []byte,
	override *cseqOverride,
	toDetails *sip.Contact,
) *sip.Request {
	d.mu.Lock()
	if override == nil || !override.has {
		d.cseq++
	}
	seq := d.cseq
	if override != nil && override.has {
		seq = override.v
	}
	if contactDetails != nil {
		d.contactDetails = contactDetails
	}
	from := d.fromDetails
	to := d.toDetails
	if toDetails != nil {
		to = *toDetails
	}
	contact := d.contactDetails
	d.mu.Unlock()

	if headers == nil {
		headers = sip.NewHeaders()
	}
	if !headers.Has("User-Agent") {
		headers.Set("User-Agent", d.app.UserAgent())
	}
	headers.Set("Call-ID", d.callID)

	req := sip.NewRequest(method, from, to, contact, headers, payload)
	req.SetCSeq(seq)
	return req
}

// prepareResponse builds a response to req carrying this dialog's
// current Contact, mirroring the request's Via.
func (d *DialogBase) prepareResponse(
	req *sip.Request,
	statusCode int,
	statusMessage string,
	payload []byte,
	headers *sip.Headers,
	contactDetails *sip.Contact,
	compact bool,
) (*sip.Response, error) {
	d.mu.Lock()
	if contactDetails != nil {
		d.contactDetails = contactDetails
	}
	from := d.toDetails
	to := d.fromDetails
	contact := d.contactDetails
	d.mu.Unlock()

	if headers == nil {
		headers = sip.NewHeaders()
	}
	if !headers.Has("User-Agent") {
		headers.Set("User-Agent", d.app.UserAgent())
	}
	headers.Set("Call-ID", d.callID)
	if via, ok := req.Headers().Get("Via"); ok {
		headers.Set("Via", via)
	}

	cseq, err := req.CSeq()
	if err != nil {
		return nil, err
	}
	method, err := req.Method()
	if err != nil {
		return nil, err
	}

	resp := sip.NewResponse(statusCode, statusMessage, cseq, method, from, to, contact, headers, payload)
	resp.Compact = compact
	return resp, nil
}

// Request issues method as a new transaction (or, for ACK, a bare send)
// and blocks for the final response.
func (d *DialogBase) Request(ctx context.Context, method sip.RequestMethod, headers *sip.Headers, payload []byte) (*sip.Response, error) {
	req := d.prepareRequest(method, nil, headers, payload, nil, nil)
	if method == sip.ACK {
		return nil, d.peer.SendMessage(req)
	}
	return d.startUnreliableTransaction(ctx, req, method)
}

func (d *DialogBase) startUnreliableTransaction(ctx context.Context, req *sip.Request, method sip.RequestMethod) (*sip.Response, error) {
	tx := transaction.New(req)
	cseq, _ := req.CSeq()
	key := txKey{method: method, cseq: cseq}

	d.mu.Lock()
	d.transactions[key] = tx
	d.mu.Unlock()

	resp, err := tx.Start(ctx, d.peer)
	d.endTransaction(tx)
	return resp, err
}

// endTransaction removes t from the transaction table if it is still the
// entry registered under its own key.
func (d *DialogBase) endTransaction(t *transaction.Transaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := txKey{method: t.Method, cseq: t.CSeq}
	if cur, ok := d.transactions[key]; ok && cur == t {
		delete(d.transactions, key)
	}
}

// ack mirrors the matching response's Via and To and sends a bare ACK,
// which is never tracked as a transaction.
func (d *DialogBase) ack(resp *sip.Response, headers *sip.Headers) error {
	if headers == nil {
		headers = sip.NewHeaders()
	}
	if via, ok := resp.Headers().Get("Via"); ok {
		headers.Set("Via", via)
	}
	cseq, err := resp.CSeq()
	if err != nil {
		return err
	}
	to, err := resp.ToDetails()
	if err != nil {
		return err
	}
	req := d.prepareRequest(sip.ACK, nil, headers, nil, &cseqOverride{v: cseq, has: true}, &to)
	return d.peer.SendMessage(req)
}

// Reply sends a response to an inbound request.
func (d *DialogBase) Reply(req *sip.Request, statusCode int, statusMessage string, payload []byte, headers *sip.Headers, contactDetails *sip.Contact, compact bool) error {
	resp, err := d.prepareResponse(req, statusCode, statusMessage, payload, headers, contactDetails, compact)
	if err != nil {
		return err
	}
	return d.peer.SendMessage(resp)
}

// Unauthorized answers req with a 401 challenge, remembering the
// challenge for the eventual retry's ValidateAuth check. A previously
// remembered challenge is kept (not regenerated) if req already carries
// an Authorization header, so a second malformed attempt is checked
// against the same nonce rather than a fresh one.
func (d *DialogBase) Unauthorized(req *sip.Request, realm, algorithm string) error {
	d.mu.Lock()
	if !req.Headers().Has("Authorization") || d.auth == nil {
		method, _ := req.Method()
		c := newChallenge(method, realm, algorithm)
		d.auth = &c
	}
	auth := *d.auth
	d.mu.Unlock()

	headers := sip.NewHeaders()
	headers.Set("WWW-Authenticate", auth.String())
	return d.Reply(req, 401, "", nil, headers, nil, false)
}

// ValidateAuth reports whether req carries an Authorization header whose
// digest validates against the remembered challenge, password, and req's
// own payload. CANCEL is always accepted, since it cannot carry
// credentials.
func (d *DialogBase) ValidateAuth(req *sip.Request, password string) bool {
	method, _ := req.Method()
	if method == sip.CANCEL {
		return true
	}

	d.mu.Lock()
	chal := d.auth
	d.mu.Unlock()
	if chal == nil {
		return false
	}

	raw, ok := req.Headers().Get("Authorization")
	if !ok {
		return false
	}
	cred, err := ParseCredentials(raw)
	if err != nil {
		return false
	}
	return chal.ValidateAuthorization(cred, password, req.Payload())
}

// Authorize answers a 401/407 challenge received on an outbound request
// (its WWW-Authenticate or, failing that, Proxy-Authenticate header),
// building the Authorization header value for the retry.
func (d *DialogBase) Authorize(resp *sip.Response, uri, username, password string) (string, error) {
	wwwAuth, ok := resp.Headers().Get("WWW-Authenticate")
	if !ok {
		wwwAuth, ok = resp.Headers().Get("Proxy-Authenticate")
	}
	if !ok {
		return "", fmt.Errorf("%w: WWW-Authenticate/Proxy-Authenticate", sip.ErrMissingHeader)
	}
	method, _ := resp.Method()
	return BuildAuthorizationHeader(wwwAuth, string(method), uri, username, password)
}

// closeLater schedules close() to run after delay, cancelling any
// previously pending close. delay <= 0 uses the application's default
// closing delay.
func (d *DialogBase) closeLater(delay time.Duration) {
	if delay <= 0 {
		delay = d.app.DialogClosingDelay()
	}
	cancel := d.app.Schedule(delay, func() {
		if d.closeFunc != nil {
			d.closeFunc()
		}
	})
	d.closing.set(cancel)
}

// maybeClose applies the closing policy after an inbound request: a
// non-inbound REGISTER/SUBSCRIBE schedules close at 1.1x its Expires (or
// the default delay if Expires is absent/zero), NOTIFY never schedules a
// close on its own, anything else uses the default delay.
func (d *DialogBase) maybeClose(msg sip.Message) {
	method, err := msg.Method()
	if err != nil {
		return
	}
	switch {
	case (method == sip.REGISTER || method == sip.SUBSCRIBE) && !d.inbound:
		expire, _ := strconv.Atoi(msg.Headers().GetOr("Expires", "0"))
		if expire > 0 {
			d.closeLater(time.Duration(float64(expire)*1.1*float64(time.Second)))
		} else {
			d.closeLater(0)
		}
	case method == sip.NOTIFY:
	default:
		d.closeLater(0)
	}
}

// closeBase cancels any pending close, closes every live transaction and
// removes this dialog from the registry. Idempotent: safe to call after
// it already ran.
func (d *DialogBase) closeBase() {
	d.closing.stop()

	d.mu.Lock()
	txs := make([]*transaction.Transaction, 0, len(d.transactions))
	for _, t := range d.transactions {
		txs = append(txs, t)
	}
	d.mu.Unlock()

	for _, t := range txs {
		t.Close()
	}

	if err := d.app.Delete(d.ID()); err != nil {
		logger().Debug("dialog: registry delete miss on close", "call_id", d.callID, "err", err)
	}
}

// connectionLost completes every live transaction with ErrConnectionLost.
func (d *DialogBase) connectionLost() {
	d.mu.Lock()
	txs := make([]*transaction.Transaction, 0, len(d.transactions))
	for _, t := range d.transactions {
		txs = append(txs, t)
	}
	d.mu.Unlock()

	for _, t := range txs {
		t.Error(sip.ErrConnectionLost)
	}
}

// markClosed transitions closed from false to true and reports whether
// this call made the transition, so Close() implementations are
// idempotent.
func (d *DialogBase) markClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.closed = true
	return true
}

// forceMarkClosed sets closed without running any of the teardown Close
// performs, matching the source's direct `self._closed = True` when a
// BYE arrives after the dialog already reached Terminated.
func (d *DialogBase) forceMarkClosed() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// receiveResponse looks up the transaction matching msg's method and
// CSeq and delivers msg to it. A response with no matching transaction
// is dropped (logged at debug, except for ACK which is always silent:
// ACKs are never tracked).
func (d *DialogBase) receiveResponse(msg *sip.Response) {
	d.rekeyOnRemoteTag(msg)

	method, err := msg.Method()
	if err != nil {
		return
	}
	cseq, err := msg.CSeq()
	if err != nil {
		return
	}

	d.mu.Lock()
	tx, ok := d.transactions[txKey{method: method, cseq: cseq}]
	d.mu.Unlock()

	if !ok {
		if method != sip.ACK {
			logger().Debug("dialog: response without matching transaction", "method", method, "cseq", cseq)
		}
		return
	}
	tx.Incoming(msg)
}

// rekeyOnRemoteTag re-keys this dialog in the registry the first time a
// message reveals the remote party's tag: the To tag of a response, the
// From tag of a request.
func (d *DialogBase) rekeyOnRemoteTag(msg sip.Message) {
	d.mu.Lock()
	if _, ok := d.toDetails.Tag(); ok {
		d.mu.Unlock()
		return
	}
	remote, err := msg.ToDetails()
	if _, isReq := msg.(*sip.Request); isReq {
		remote, err = msg.FromDetails()
	}
	if err != nil {
		d.mu.Unlock()
		return
	}
	remoteTag, ok := remote.Tag()
	if !ok {
		d.mu.Unlock()
		return
	}
	oldID := d.ulockedID()
	d.toDetails.SetTag(remoteTag)
	newID := d.ulockedID()
	d.mu.Unlock()

	if err := d.app.Delete(oldID); err != nil {
		logger().Debug("dialog: old registry key missing on re-key", "call_id", d.callID, "err", err)
	}
	d.app.Insert(newID, d.registryEntry)
}

// ulockedID computes ID() without taking d.mu; callers must already hold it.
func (d *DialogBase) ulockedID() ID {
	localTag, _ := d.fromDetails.Tag()
	remoteTag, _ := d.toDetails.Tag()
	return NewID(localTag, remoteTag, d.callID)
}

