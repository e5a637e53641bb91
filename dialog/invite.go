package dialog

import (
	"context"
	"sync"
	"time"

	"sipdialog/sip"
)

// readyWaiter is the one-shot future InviteDialog.Ready waits on: the
// final response that resolved the INVITE, delivered at most once.
type readyWaiter struct {
	once sync.Once
	done chan struct{}
	msg  *sip.Response
}

func newReadyWaiter() *readyWaiter { return &readyWaiter{done: make(chan struct{})} }

func (w *readyWaiter) deliver(msg *sip.Response) {
	w.once.Do(func() {
		w.msg = msg
		close(w.done)
	})
}

func (w *readyWaiter) isDone() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *readyWaiter) wait(ctx context.Context) (*sip.Response, error) {
	select {
	case <-w.done:
		return w.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InviteDialog is the INVITE client state machine: Calling -> Proceeding
// -> Completed/Terminated, with a dual queue (the raw inbound sequence a
// consumer drains with Recv, and the ready() future resolved by the
// eventual final response).
type InviteDialog struct {
	*DialogBase
	queue chan sip.Message

	smu    sync.Mutex
	state  CallState
	waiter *readyWaiter
}

// NewInviteDialog constructs an InviteDialog, always for method INVITE.
func NewInviteDialog(
	app App,
	from, to sip.Contact,
	callID string,
	peer Peer,
	contact *sip.Contact,
	headers *sip.Headers,
	payload []byte,
	password string,
	cseq uint32,
	inboundDialog bool,
) *InviteDialog {
	base := newDialogBase(app, sip.INVITE, from, to, callID, peer, contact, headers, payload, password, cseq, inboundDialog)
	d := &InviteDialog{
		DialogBase: base,
		queue:      make(chan sip.Message, 256),
		state:      Calling,
		waiter:     newReadyWaiter(),
	}
	d.SetRegistryEntry(d, func() {
		_, _ = d.Close(context.Background(), 0)
	})
	return d
}

// State returns the current INVITE client transaction state.
func (d *InviteDialog) State() CallState {
	d.smu.Lock()
	defer d.smu.Unlock()
	return d.state
}

// Start sends the original INVITE directly, bypassing the transaction
// table: its responses are routed through the state machine below
// instead of a generic Transaction.
func (d *InviteDialog) Start(ctx context.Context) error {
	return d.peer.SendMessage(d.OriginalMessage())
}

// Recv blocks for the next queued inbound message, regardless of state.
func (d *InviteDialog) Recv(ctx context.Context) (sip.Message, error) {
	select {
	case msg := <-d.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForTerminate drains queued messages until Ready has resolved and
// the queue has run dry, or ctx is done. A per-message dequeue timeout
// stops the drain early, since a hung peer shouldn't block forever.
func (d *InviteDialog) WaitForTerminate(ctx context.Context, perMessageTimeout time.Duration) []sip.Message {
	var out []sip.Message
	for {
		if d.waiter.isDone() && len(d.queue) == 0 {
			return out
		}
		select {
		case msg := <-d.queue:
			out = append(out, msg)
		case <-time.After(perMessageTimeout):
			logger().Warn("invite dialog: timeout waiting for a response from the server")
			return out
		case <-ctx.Done():
			return out
		}
	}
}

// Ready awaits the final response that resolves the INVITE. A non-200
// final response fails with *sip.InviteFailedError.
func (d *InviteDialog) Ready(ctx context.Context) error {
	resp, err := d.waiter.wait(ctx)
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return &sip.InviteFailedError{Status: resp.StatusCode(), Message: resp.StatusMessage()}
	}
	return nil
}

// ReceiveMessage is the Peer-facing entry point. Every message is first
// enqueued for Recv/WaitForTerminate, then dispatched per the current
// state: Calling/Proceeding consult the transition table (ack and
// possibly resolve Ready on a final response); Completed absorbs any
// further response with a bare ack; Terminated routes like the base
// dialog's response/request handling.
func (d *InviteDialog) ReceiveMessage(msg sip.Message) error {
	d.rekeyOnRemoteTag(msg)

	select {
	case d.queue <- msg:
	default:
		logger().Warn("invite dialog: queue full, dropping message", "call_id", d.callID)
	}

	d.smu.Lock()
	state := d.state
	d.smu.Unlock()

	switch state {
	case Calling, Proceeding:
		resp, ok := msg.(*sip.Response)
		if !ok {
			return nil
		}
		newState, action := transitionInvite(state, resp.StatusCode())
		d.smu.Lock()
		d.state = newState
		d.smu.Unlock()

		switch action {
		case ActionAckAndDeliver:
			d.ack(resp, nil)
			d.waiter.deliver(resp)
		case ActionAck:
			d.ack(resp, nil)
		}
		return nil

	case Completed:
		if resp, ok := msg.(*sip.Response); ok {
			d.ack(resp, nil)
		}
		return nil

	case Terminated:
		switch m := msg.(type) {
		case *sip.Response:
			d.receiveResponse(m)
			return nil
		case *sip.Request:
			method, _ := m.Method()
			if method == sip.ACK {
				return nil
			}
			return d.receiveRequestTerminated(m)
		}
		return nil

	default:
		return nil
	}
}

// receiveRequestTerminated handles an in-dialog request (typically a
// BYE) once the call has reached Terminated: the peer's From-tag
// becomes this side's remembered tag for the other party, a BYE marks
// the dialog closed outright, and the usual close policy still applies.
func (d *InviteDialog) receiveRequestTerminated(msg *sip.Request) error {
	if from, err := msg.FromDetails(); err == nil {
		if tag, ok := from.Tag(); ok {
			d.mu.Lock()
			d.toDetails.SetTag(tag)
			d.mu.Unlock()
		}
	}
	if method, _ := msg.Method(); method == sip.BYE {
		d.forceMarkClosed()
	}
	d.maybeClose(msg)
	return nil
}

// Shutdown closes d with a default teardown timeout. It satisfies the
// closer interface WithDialog requires.
func (d *InviteDialog) Shutdown(ctx context.Context) error {
	_, err := d.Close(ctx, 5*time.Second)
	return err
}

// Close is idempotent. From Terminated it sends a BYE; from anything
// but Completed it sends CANCEL; from Completed it tears down directly.
// A repeated call only re-runs the teardown, which is what finishes a
// dialog that an inbound BYE marked closed.
func (d *InviteDialog) Close(ctx context.Context, timeout time.Duration) (*sip.Response, error) {
	if !d.markClosed() {
		d.closeBase()
		return nil, nil
	}

	state := d.State()
	var req *sip.Request
	switch {
	case state == Terminated:
		req = d.prepareRequest(sip.BYE, nil, nil, nil, nil, nil)
	case state != Completed:
		req = d.prepareRequest(sip.CANCEL, nil, nil, nil, nil, nil)
	}

	if req == nil {
		d.closeBase()
		return nil, nil
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method, _ := req.Method()
	resp, err := d.startUnreliableTransaction(runCtx, req, method)
	d.closeBase()
	return resp, err
}
