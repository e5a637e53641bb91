// Package transaction implements the unreliable client transaction: a
// single outbound request correlated with its eventual final response by
// (method, CSeq). Retransmission and the full RFC 3261 transaction-timer
// state machine are out of scope; this is the minimal "start() awaitable"
// subset the dialog layer needs.
package transaction

import (
	"context"
	"log/slog"
	"sync"

	"sipdialog/sip"
)

var defLogger *slog.Logger

// SetDefaultLogger sets the logger used by this package.
func SetDefaultLogger(l *slog.Logger) { defLogger = l }

func logger() *slog.Logger {
	if defLogger != nil {
		return defLogger
	}
	return slog.Default()
}

// Peer is the minimal collaborator a Transaction needs to dispatch its
// request: a transport handle capable of writing a message out.
type Peer interface {
	SendMessage(msg sip.Message) error
}

// Transaction is an outbound request and the future completed by its
// matching final response.
type Transaction struct {
	Request *sip.Request
	Method  sip.RequestMethod
	CSeq    uint32

	mu       sync.Mutex
	done     chan struct{}
	resp     *sip.Response
	err      error
	finished bool
}

// New wraps req as a new, not-yet-started transaction.
func New(req *sip.Request) *Transaction {
	method, _ := req.Method()
	cseq, _ := req.CSeq()
	return &Transaction{
		Request: req,
		Method:  method,
		CSeq:    cseq,
		done:    make(chan struct{}),
	}
}

// Start sends req via peer and blocks until a final response arrives, ctx
// is done (-> sip.ErrTimeout), or the transaction is closed/errored.
func (t *Transaction) Start(ctx context.Context, peer Peer) (*sip.Response, error) {
	if err := peer.SendMessage(t.Request); err != nil {
		t.errorOut(err)
		return nil, err
	}

	select {
	case <-t.done:
		t.mu.Lock()
		resp, err := t.resp, t.err
		t.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		t.errorOut(sip.ErrTimeout)
		return nil, sip.ErrTimeout
	}
}

// Incoming feeds a received response into the transaction. Provisional
// (1xx) responses are logged but never complete the future; only a final
// (>=200) response does, and only the first one (later duplicates, e.g. a
// retransmitted 486, are dropped).
func (t *Transaction) Incoming(resp *sip.Response) {
	if sip.IsProvisional(resp.StatusCode()) {
		logger().Debug("transaction: provisional response", "status", resp.StatusCode())
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.resp = resp
	t.finished = true
	close(t.done)
}

// Close completes the transaction with sip.ErrClosed if it has not
// already completed. Idempotent.
func (t *Transaction) Close() {
	t.errorOut(sip.ErrClosed)
}

// errorOut completes the transaction's future with err, unless it has
// already completed.
func (t *Transaction) errorOut(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.err = err
	t.finished = true
	close(t.done)
}

// Error completes the transaction with err. Exported for owners (e.g. a
// Dialog reacting to connection loss) that need to force-fail a live
// transaction from the outside.
func (t *Transaction) Error(err error) { t.errorOut(err) }
