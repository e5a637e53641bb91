package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipdialog/sip"
)

type fakePeer struct {
	sent    chan sip.Message
	sendErr error
}

func newFakePeer() *fakePeer { return &fakePeer{sent: make(chan sip.Message, 1)} }

func (p *fakePeer) SendMessage(msg sip.Message) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent <- msg
	return nil
}

func mustRequest(t *testing.T) *sip.Request {
	t.Helper()
	from, err := sip.ParseContact(`<sip:alice@example.com>;tag=abc`)
	require.NoError(t, err)
	to, err := sip.ParseContact(`<sip:bob@example.com>`)
	require.NoError(t, err)
	req := sip.NewRequest(sip.OPTIONS, from, to, nil, nil, nil)
	req.SetCSeq(1)
	return req
}

func TestStartCompletesOnFinalResponse(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()

	resultCh := make(chan *sip.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := tx.Start(context.Background(), peer)
		resultCh <- resp
		errCh <- err
	}()

	select {
	case <-peer.sent:
	case <-time.After(time.Second):
		t.Fatal("request never sent")
	}

	from, _ := req.FromDetails()
	to, _ := req.ToDetails()
	resp := sip.NewResponse(200, "", 1, sip.OPTIONS, from, to, nil, nil, nil)
	tx.Incoming(resp)

	select {
	case got := <-resultCh:
		require.NoError(t, <-errCh)
		assert.Equal(t, 200, got.StatusCode())
	case <-time.After(time.Second):
		t.Fatal("Start never returned")
	}
}

func TestStartIgnoresProvisionalResponses(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()

	done := make(chan struct{})
	go func() {
		tx.Start(context.Background(), peer)
		close(done)
	}()

	<-peer.sent

	from, _ := req.FromDetails()
	to, _ := req.ToDetails()
	provisional := sip.NewResponse(100, "", 1, sip.OPTIONS, from, to, nil, nil, nil)
	tx.Incoming(provisional)

	select {
	case <-done:
		t.Fatal("Start completed on a provisional response")
	case <-time.After(50 * time.Millisecond):
	}

	final := sip.NewResponse(200, "", 1, sip.OPTIONS, from, to, nil, nil, nil)
	tx.Incoming(final)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start never completed after final response")
	}
}

func TestStartFailsOnSendError(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()
	peer.sendErr = sip.ErrConnectionLost

	_, err := tx.Start(context.Background(), peer)
	assert.ErrorIs(t, err, sip.ErrConnectionLost)
}

func TestStartFailsOnContextTimeout(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tx.Start(ctx, peer)
	assert.ErrorIs(t, err, sip.ErrTimeout)
}

func TestCloseIsIdempotentAndFailsPendingStart(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()

	resultErr := make(chan error, 1)
	go func() {
		_, err := tx.Start(context.Background(), peer)
		resultErr <- err
	}()
	<-peer.sent

	tx.Close()
	tx.Close() // idempotent

	select {
	case err := <-resultErr:
		assert.ErrorIs(t, err, sip.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Start never returned after Close")
	}
}

func TestIncomingAfterFinalIsDropped(t *testing.T) {
	req := mustRequest(t)
	tx := New(req)
	peer := newFakePeer()

	go tx.Start(context.Background(), peer)
	<-peer.sent

	from, _ := req.FromDetails()
	to, _ := req.ToDetails()
	first := sip.NewResponse(200, "", 1, sip.OPTIONS, from, to, nil, nil, nil)
	second := sip.NewResponse(486, "", 1, sip.OPTIONS, from, to, nil, nil, nil)

	tx.Incoming(first)
	tx.Incoming(second)

	tx.mu.Lock()
	got := tx.resp
	tx.mu.Unlock()
	assert.Equal(t, 200, got.StatusCode())
}
