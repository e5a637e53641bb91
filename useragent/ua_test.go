package useragent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipdialog/dialog"
	"sipdialog/sip"
)

type fakeReceiver struct {
	received []sip.Message
}

func (r *fakeReceiver) ReceiveMessage(msg sip.Message) error {
	r.received = append(r.received, msg)
	return nil
}

func TestNewAppliesOptionsAndDefaults(t *testing.T) {
	u, err := New(WithUserAgent("sipdialog-test/1.0"), WithClosingDelay(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "sipdialog-test/1.0", u.UserAgent())
	assert.Equal(t, 5*time.Second, u.DialogClosingDelay())
}

func TestNewDefaultsWhenNoOptionsGiven(t *testing.T) {
	u, err := New()
	require.NoError(t, err)
	assert.NotEmpty(t, u.UserAgent())
	assert.Greater(t, u.DialogClosingDelay(), time.Duration(0))
}

func TestInsertLookupDelete(t *testing.T) {
	u, err := New()
	require.NoError(t, err)

	id := dialog.NewID("a", "b", "call-1")
	u.Insert(id, "entry")

	entry, ok := u.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "entry", entry)

	require.NoError(t, u.Delete(id))
	_, ok = u.Lookup(id)
	assert.False(t, ok)

	err = u.Delete(id)
	assert.ErrorIs(t, err, sip.ErrDialogNotFound)
}

func TestDispatchRoutesToMatchingDialogEitherTagOrder(t *testing.T) {
	u, err := New()
	require.NoError(t, err)

	recv := &fakeReceiver{}
	id := dialog.NewID("alice-tag", "bob-tag", "call-1")
	u.Insert(id, recv)

	from := sip.Contact{Address: mustURI(t, "sip:bob@example.com"), Params: sip.NewParams()}
	from.SetTag("bob-tag")
	to := sip.Contact{Address: mustURI(t, "sip:alice@example.com"), Params: sip.NewParams()}
	to.SetTag("alice-tag")

	headers := sip.NewHeaders()
	headers.Set("Call-ID", "call-1")
	req := sip.NewRequest(sip.BYE, from, to, nil, headers, nil)
	req.SetCSeq(2)

	u.Dispatch(req)
	require.Len(t, recv.received, 1)
}

func TestDispatchCallsUnmatchedRequestHandler(t *testing.T) {
	var handled *sip.Request
	u, err := New(WithUnmatchedRequestHandler(func(req *sip.Request) { handled = req }))
	require.NoError(t, err)

	from := sip.Contact{Address: mustURI(t, "sip:alice@example.com"), Params: sip.NewParams()}
	from.SetTag("alice-tag")
	to := sip.Contact{Address: mustURI(t, "sip:bob@example.com"), Params: sip.NewParams()}

	headers := sip.NewHeaders()
	headers.Set("Call-ID", "call-unmatched")
	req := sip.NewRequest(sip.INVITE, from, to, nil, headers, nil)
	req.SetCSeq(1)

	u.Dispatch(req)
	require.NotNil(t, handled)
	assert.Equal(t, "call-unmatched", headers.GetOr("Call-ID", ""))
}

func mustURI(t *testing.T, raw string) sip.Uri {
	t.Helper()
	u, err := sip.ParseURI(raw)
	require.NoError(t, err)
	return u
}
