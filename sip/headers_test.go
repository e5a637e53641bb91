package sip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersCaseInsensitiveDisplayCasePreserved(t *testing.T) {
	h := NewHeaders()
	h.Set("content-type", "application/sdp")
	h.Set("Content-Type", "text/plain")

	v, ok := h.Get("CONTENT-TYPE")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)
	assert.Equal(t, []string{"Content-Type"}, h.Names())
}

func TestHeadersMultiValuedPreservesOrder(t *testing.T) {
	h := NewHeaders()
	h.Add("Via", "SIP/2.0/UDP host1;branch=z9hG4bKa")
	h.Add("Via", "SIP/2.0/UDP host2;branch=z9hG4bKb")

	values := h.Values("Via")
	require.Len(t, values, 2)
	assert.Contains(t, values[0], "host1")
	assert.Contains(t, values[1], "host2")
}

func TestCompactAliasNormalizedOnAdd(t *testing.T) {
	h := NewHeaders()
	h.Add("v", "SIP/2.0/UDP host;branch=z9hG4bKa")
	h.Add("f", "<sip:alice@example.com>")
	h.Add("t", "<sip:bob@example.com>")
	h.Add("i", "abc123@example.com")
	h.Add("l", "0")
	h.Add("c", "application/sdp")

	assert.True(t, h.Has("Via"))
	assert.True(t, h.Has("From"))
	assert.True(t, h.Has("To"))
	assert.True(t, h.Has("Call-ID"))
	assert.True(t, h.Has("Content-Length"))
	assert.True(t, h.Has("Content-Type"))
}

func TestWriteWireOrdersViaFirstThenSorted(t *testing.T) {
	h := NewHeaders()
	h.Set("Content-Type", "application/sdp")
	h.Add("Via", "SIP/2.0/UDP host1;branch=1")
	h.Add("Via", "SIP/2.0/UDP host2;branch=2")
	h.Set("Call-ID", "abc")
	h.Set("Accept", "*/*")

	var b strings.Builder
	h.WriteWire(&b, false)
	lines := strings.Split(strings.TrimRight(b.String(), "\r\n"), "\r\n")

	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "host1")
	assert.Contains(t, lines[1], "host2")
	assert.True(t, strings.HasPrefix(lines[2], "Accept:"))
	assert.True(t, strings.HasPrefix(lines[3], "Call-ID:"))
}

func TestWriteWireCompactAliasesEveryHeaderRegardlessOfVia(t *testing.T) {
	h := NewHeaders()
	h.Set("Via", "SIP/2.0/UDP host;branch=1")
	h.Set("From", "<sip:alice@example.com>")
	h.Set("Subject", "hello")

	var b strings.Builder
	h.WriteWire(&b, true)
	out := b.String()

	assert.Contains(t, out, "v: ")
	assert.Contains(t, out, "f: ")
	assert.Contains(t, out, "s: ")
	assert.NotContains(t, out, "Via:")
	assert.NotContains(t, out, "From:")
	assert.NotContains(t, out, "Subject:")
}
