package sip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustContact(t *testing.T, raw string) Contact {
	t.Helper()
	c, err := ParseContact(raw)
	require.NoError(t, err)
	return c
}

func TestRequestEncodeRoundTrip(t *testing.T) {
	from := mustContact(t, `"Alice" <sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	contact := mustContact(t, `<sip:alice@192.0.2.1:5060>`)

	req := NewRequest(INVITE, from, to, &contact, nil, []byte("v=0"))
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)

	parsed, err := ParseMessage(encoded)
	require.NoError(t, err)

	parsedReq, ok := parsed.(*Request)
	require.True(t, ok)

	gotFrom, err := parsedReq.FromDetails()
	require.NoError(t, err)
	gotTo, err := parsedReq.ToDetails()
	require.NoError(t, err)
	gotCSeq, err := parsedReq.CSeq()
	require.NoError(t, err)
	gotMethod, err := parsedReq.Method()
	require.NoError(t, err)

	assert.Equal(t, "alice", gotFrom.Address.User)
	tag, _ := gotFrom.Tag()
	assert.Equal(t, "abc", tag)
	assert.Equal(t, "bob", gotTo.Address.User)
	assert.Equal(t, uint32(1), gotCSeq)
	assert.Equal(t, INVITE, gotMethod)
	assert.Equal(t, []byte("v=0"), parsedReq.Payload())
}

func TestResponseEncodeRoundTrip(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>;tag=xyz`)

	resp := NewResponse(200, "", 1, INVITE, from, to, nil, nil, nil)
	encoded, err := resp.Encode()
	require.NoError(t, err)

	parsed, err := ParseMessage(encoded)
	require.NoError(t, err)
	parsedResp, ok := parsed.(*Response)
	require.True(t, ok)

	assert.Equal(t, 200, parsedResp.StatusCode())
	assert.Equal(t, "OK", parsedResp.StatusMessage())
	gotCSeq, err := parsedResp.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), gotCSeq)
	gotMethod, err := parsedResp.Method()
	require.NoError(t, err)
	assert.Equal(t, INVITE, gotMethod)
}

func TestEncodeContentLengthMatchesPayload(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	req := NewRequest(OPTIONS, from, to, nil, nil, []byte("hello world"))
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "Content-Length: 11\r\n")
}

func TestEncodeEmptyPayloadContentLengthZero(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	req := NewRequest(OPTIONS, from, to, nil, nil, nil)
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "Content-Length: 0\r\n")
}

func TestEncodeMaxForwardsDefault(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	req := NewRequest(OPTIONS, from, to, nil, nil, nil)
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "Max-Forwards: 70\r\n")
}

func TestEncodeGeneratesCallIDWhenAbsent(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	req := NewRequest(OPTIONS, from, to, nil, nil, nil)
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "Call-ID:")
}

func TestEncodeDefaultViaTemplateWhenMissing(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	contact := mustContact(t, `<sip:alice@192.0.2.1:5060>`)
	req := NewRequest(OPTIONS, from, to, &contact, nil, nil)
	req.SetCSeq(1)

	encoded, err := req.Encode()
	require.NoError(t, err)
	out := string(encoded)
	assert.Contains(t, out, "Via: SIP/2.0/%(protocol)s 192.0.2.1:5060;branch=")

	branchLine := ""
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "Via:") {
			branchLine = line
			break
		}
	}
	idx := strings.Index(branchLine, "branch=")
	require.True(t, idx >= 0)
	branch := branchLine[idx+len("branch="):]
	assert.GreaterOrEqual(t, len(branch), 10)
}

func TestResponseFromRequestMirrorsHeaders(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>`)
	contact := mustContact(t, `<sip:alice@192.0.2.1:5060>`)
	req := NewRequest(INVITE, from, to, &contact, nil, nil)
	req.SetCSeq(1)
	req.Headers().Set("Via", "SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bK1")

	resp, err := ResponseFromRequest(req, 200, "", nil, nil)
	require.NoError(t, err)

	gotFrom, _ := resp.FromDetails()
	gotTo, _ := resp.ToDetails()
	assert.Equal(t, "alice", gotFrom.Address.User)
	assert.Equal(t, "bob", gotTo.Address.User)
	via, ok := resp.Headers().Get("Via")
	require.True(t, ok)
	assert.Contains(t, via, "z9hG4bK1")
}

func TestCompactResponseEncodesAliases(t *testing.T) {
	from := mustContact(t, `<sip:alice@example.com>;tag=abc`)
	to := mustContact(t, `<sip:bob@example.com>;tag=xyz`)
	resp := NewResponse(200, "", 1, INVITE, from, to, nil, nil, nil)
	resp.Compact = true

	encoded, err := resp.Encode()
	require.NoError(t, err)
	out := string(encoded)
	assert.Contains(t, out, "\r\nf: ")
	assert.Contains(t, out, "\r\nt: ")
	assert.Contains(t, out, "\r\ni: ")
	assert.Contains(t, out, "\r\nl: ")
}

func TestParseMalformedStartLine(t *testing.T) {
	_, err := ParseMessage([]byte("NOT A SIP LINE\r\nFoo: bar\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestParseMissingCSeqFails(t *testing.T) {
	raw := []byte("INVITE sip:bob@example.com SIP/2.0\r\nFrom: <sip:alice@example.com>;tag=abc\r\nTo: <sip:bob@example.com>\r\n\r\n")
	_, err := ParseMessage(raw)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
