package sip

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Message is a SIP Request or Response, with lazily-cached semantic
// accessors. Accessors parse from the raw header map on first access and
// cache the result; setters update the cache directly and the cache is
// written back into the header map at Encode time.
type Message interface {
	Headers() *Headers

	FromDetails() (Contact, error)
	SetFromDetails(Contact)
	ToDetails() (Contact, error)
	SetToDetails(Contact)
	ContactDetails() (*Contact, error)
	SetContactDetails(Contact)

	CSeq() (uint32, error)
	SetCSeq(uint32)
	Method() (RequestMethod, error)
	SetMethod(RequestMethod)

	CallID() (string, error)

	Payload() []byte
	SetPayload([]byte)

	FirstLine() string
	Encode() ([]byte, error)
	String() string
}

// message holds the shared lazily-cached state embedded by Request and
// Response.
type message struct {
	headers *Headers
	payload []byte

	fromDetails    *Contact
	toDetails      *Contact
	contactDetails *Contact
	hasContact     bool // distinguishes "no Contact header" from "not cached yet"
	cseq           *uint32
	method         *RequestMethod
}

func newMessageBase(headers *Headers, payload []byte) *message {
	if headers == nil {
		headers = NewHeaders()
	}
	return &message{headers: headers, payload: payload}
}

func (m *message) Headers() *Headers { return m.headers }

func (m *message) FromDetails() (Contact, error) {
	if m.fromDetails != nil {
		return *m.fromDetails, nil
	}
	raw, ok := m.headers.Get("From")
	if !ok {
		return Contact{}, fmt.Errorf("%w: From", ErrMissingHeader)
	}
	c, err := ParseContact(raw)
	if err != nil {
		return Contact{}, err
	}
	m.fromDetails = &c
	return c, nil
}

func (m *message) SetFromDetails(c Contact) { m.fromDetails = &c }

func (m *message) ToDetails() (Contact, error) {
	if m.toDetails != nil {
		return *m.toDetails, nil
	}
	raw, ok := m.headers.Get("To")
	if !ok {
		return Contact{}, fmt.Errorf("%w: To", ErrMissingHeader)
	}
	c, err := ParseContact(raw)
	if err != nil {
		return Contact{}, err
	}
	m.toDetails = &c
	return c, nil
}

func (m *message) SetToDetails(c Contact) { m.toDetails = &c }

func (m *message) ContactDetails() (*Contact, error) {
	if m.contactDetails != nil {
		return m.contactDetails, nil
	}
	if m.hasContact {
		return nil, nil
	}
	raw, ok := m.headers.Get("Contact")
	if !ok {
		m.hasContact = true
		return nil, nil
	}
	c, err := ParseContact(raw)
	if err != nil {
		return nil, err
	}
	m.contactDetails = &c
	return m.contactDetails, nil
}

func (m *message) SetContactDetails(c Contact) {
	m.contactDetails = &c
	m.hasContact = true
}

func (m *message) CSeq() (uint32, error) {
	if m.cseq != nil {
		return *m.cseq, nil
	}
	raw, ok := m.headers.Get("CSeq")
	if !ok {
		return 0, fmt.Errorf("%w: CSeq", ErrMissingHeader)
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: CSeq %q", ErrMalformedMessage, raw)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: CSeq %q", ErrMalformedMessage, raw)
	}
	v := uint32(n)
	m.cseq = &v
	if len(fields) > 1 {
		meth := RequestMethod(strings.ToUpper(fields[1]))
		m.method = &meth
	}
	return v, nil
}

func (m *message) SetCSeq(cseq uint32) { m.cseq = &cseq }

func (m *message) Method() (RequestMethod, error) {
	if m.method != nil {
		return *m.method, nil
	}
	if _, err := m.CSeq(); err == nil && m.method != nil {
		return *m.method, nil
	}
	return "", fmt.Errorf("%w: CSeq/method", ErrMissingHeader)
}

func (m *message) SetMethod(method RequestMethod) { m.method = &method }

func (m *message) CallID() (string, error) {
	if v, ok := m.headers.Get("Call-ID"); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: Call-ID", ErrMissingHeader)
}

func (m *message) Payload() []byte { return m.payload }

func (m *message) SetPayload(p []byte) { m.payload = p }

// flushCache writes the cached accessor values back into the header map,
// then fills in the standing invariants every outbound message must
// satisfy: Content-Length, a default Max-Forwards, a generated Call-ID,
// and a default Via.
func (m *message) flushCache() {
	if m.fromDetails != nil {
		m.headers.Set("From", m.fromDetails.String())
	}
	if m.toDetails != nil {
		m.headers.Set("To", m.toDetails.String())
	}
	if m.contactDetails != nil {
		m.headers.Set("Contact", m.contactDetails.String())
	}
	if m.cseq != nil && m.method != nil {
		m.headers.Set("CSeq", fmt.Sprintf("%d %s", *m.cseq, *m.method))
	}

	m.headers.Set("Content-Length", strconv.Itoa(len(m.payload)))

	if !m.headers.Has("Max-Forwards") {
		m.headers.Set("Max-Forwards", "70")
	}

	if !m.headers.Has("Call-ID") {
		m.headers.Set("Call-ID", NewCallID())
	}

	if !m.headers.Has("Via") {
		host := "0.0.0.0"
		if m.contactDetails != nil {
			host = FormatHostAndPort(m.contactDetails.Address.Host, m.contactDetails.Address.Port)
		}
		m.headers.Set("Via", fmt.Sprintf("SIP/2.0/%%(protocol)s %s;branch=%s", host, GenBranch(10)))
	}
}

// NewCallID returns a fresh globally-unique Call-ID token.
func NewCallID() string {
	return uuid.New().String()
}

// GenBranch returns a random lower-case hex token of at least n characters,
// used for Via branch params and tags.
func GenBranch(n int) string {
	if n < 10 {
		n = 10
	}
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed token rather than panicking a live dialog.
		return strings.Repeat("a", n)
	}
	tok := hex.EncodeToString(buf)
	if len(tok) > n {
		tok = tok[:n]
	}
	return tok
}

// Request is a SIP request message.
type Request struct {
	*message
	method     RequestMethod
	requestURI string
	firstLine  string
}

// NewRequest builds a request with the given From/To/Contact details. The
// request URI is always the To URI.
func NewRequest(method RequestMethod, from, to Contact, contact *Contact, headers *Headers, payload []byte) *Request {
	base := newMessageBase(headers, payload)
	base.fromDetails = &from
	base.toDetails = &to
	if contact != nil {
		base.contactDetails = contact
		base.hasContact = true
	}
	meth := method
	base.method = &meth

	r := &Request{
		message:    base,
		method:     method,
		requestURI: to.Address.String(),
	}
	r.firstLine = fmt.Sprintf("%s %s SIP/2.0", method, r.requestURI)
	return r
}

func (r *Request) RequestURI() string { return r.requestURI }

func (r *Request) FirstLine() string { return r.firstLine }

// SetToDetails overrides message.SetToDetails to keep the request line's
// URI in sync.
func (r *Request) SetToDetails(c Contact) {
	r.message.SetToDetails(c)
	r.requestURI = c.Address.String()
	r.firstLine = fmt.Sprintf("%s %s SIP/2.0", r.method, r.requestURI)
}

func (r *Request) Method() (RequestMethod, error) { return r.method, nil }

func (r *Request) SetMethod(method RequestMethod) {
	r.method = method
	r.message.SetMethod(method)
	r.firstLine = fmt.Sprintf("%s %s SIP/2.0", method, r.requestURI)
}

func (r *Request) Encode() ([]byte, error) { return encodeMessage(r, r.message, false) }

func (r *Request) String() string {
	b, _ := r.Encode()
	return string(b)
}

// Response is a SIP response message. Compact, when true, causes Encode
// to emit every header with a compact alias under its one-character form.
type Response struct {
	*message
	statusCode    int
	statusMessage string
	method        RequestMethod
	firstLine     string
	Compact       bool
}

// NewResponse builds a response. If statusMessage is empty, the default
// reason phrase for statusCode is used.
func NewResponse(statusCode int, statusMessage string, cseq uint32, method RequestMethod, from, to Contact, contact *Contact, headers *Headers, payload []byte) *Response {
	if statusMessage == "" {
		statusMessage = StatusMessage(statusCode)
	}
	base := newMessageBase(headers, payload)
	base.fromDetails = &from
	base.toDetails = &to
	if contact != nil {
		base.contactDetails = contact
		base.hasContact = true
	}
	base.cseq = &cseq
	meth := method
	base.method = &meth

	resp := &Response{
		message:       base,
		statusCode:    statusCode,
		statusMessage: statusMessage,
		method:        method,
	}
	resp.firstLine = fmt.Sprintf("SIP/2.0 %d %s", statusCode, statusMessage)
	return resp
}

// ResponseFromRequest builds a response mirroring From/To/Contact/CSeq/Via
// of req.
func ResponseFromRequest(req *Request, statusCode int, statusMessage string, payload []byte, headers *Headers) (*Response, error) {
	if headers == nil {
		headers = NewHeaders()
	}
	if !headers.Has("Via") {
		if v, ok := req.Headers().Get("Via"); ok {
			headers.Set("Via", v)
		}
		for _, v := range req.Headers().Values("Via")[1:] {
			headers.Add("Via", v)
		}
	}

	from, err := req.FromDetails()
	if err != nil {
		return nil, err
	}
	to, err := req.ToDetails()
	if err != nil {
		return nil, err
	}
	contact, err := req.ContactDetails()
	if err != nil {
		return nil, err
	}
	cseq, err := req.CSeq()
	if err != nil {
		return nil, err
	}
	method, err := req.Method()
	if err != nil {
		return nil, err
	}

	return NewResponse(statusCode, statusMessage, cseq, method, from, to, contact, headers, payload), nil
}

func (r *Response) StatusCode() int { return r.statusCode }

func (r *Response) SetStatusCode(code int) {
	r.statusCode = code
	r.firstLine = fmt.Sprintf("SIP/2.0 %d %s", r.statusCode, r.statusMessage)
}

func (r *Response) StatusMessage() string { return r.statusMessage }

func (r *Response) SetStatusMessage(msg string) {
	r.statusMessage = msg
	r.firstLine = fmt.Sprintf("SIP/2.0 %d %s", r.statusCode, r.statusMessage)
}

func (r *Response) FirstLine() string { return r.firstLine }

func (r *Response) Method() (RequestMethod, error) { return r.method, nil }

func (r *Response) SetMethod(method RequestMethod) {
	r.method = method
	r.message.SetMethod(method)
}

func (r *Response) Encode() ([]byte, error) { return encodeMessage(r, r.message, r.Compact) }

func (r *Response) String() string {
	b, _ := r.Encode()
	return string(b)
}

// encodeMessage implements the shared Encode() body for Request/Response:
// flush cached accessors back into the header map, apply the standing
// invariants, then write first-line + headers + blank line + payload.
func encodeMessage(m Message, base *message, compact bool) ([]byte, error) {
	base.flushCache()

	var b strings.Builder
	b.WriteString(m.FirstLine())
	b.WriteString("\r\n")
	base.headers.WriteWire(&b, compact)
	b.WriteString("\r\n")

	out := []byte(b.String())
	out = append(out, base.payload...)
	return out, nil
}

// ParseMessage parses a raw wire message (header block + optional body)
// into a Request or Response. The Content-Length declared in the headers
// is trusted to slice the body from raw; a body shorter than the declared
// length is kept as received.
func ParseMessage(raw []byte) (Message, error) {
	sep := []byte("\r\n\r\n")
	idx := indexOf(raw, sep)
	var headerBlock, body []byte
	if idx < 0 {
		headerBlock = raw
	} else {
		headerBlock = raw[:idx+2] // keep trailing CRLF of last header line
		body = raw[idx+4:]
	}

	startLine, headers, err := ParseHeaderBlock(headerBlock)
	if err != nil {
		return nil, err
	}
	if cl, ok := headers.Get("Content-Length"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(cl)); err == nil && n >= 0 && n < len(body) {
			body = body[:n]
		}
	}

	parsed, err := ParseStartLine(startLine)
	if err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case StartLineResponse:
		cseqRaw, ok := headers.Get("CSeq")
		if !ok {
			return nil, fmt.Errorf("%w: response missing CSeq", ErrMalformedMessage)
		}
		fields := strings.Fields(cseqRaw)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: CSeq %q", ErrMalformedMessage, cseqRaw)
		}
		_, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: CSeq %q", ErrMalformedMessage, cseqRaw)
		}
		base := newMessageBase(headers, body)
		resp := &Response{
			message:       base,
			statusCode:    parsed.StatusCode,
			statusMessage: parsed.StatusMessage,
			method:        RequestMethod(strings.ToUpper(fields[1])),
			firstLine:     startLine,
		}
		return resp, nil
	case StartLineRequest:
		if !headers.Has("CSeq") {
			return nil, fmt.Errorf("%w: request missing CSeq", ErrMalformedMessage)
		}
		base := newMessageBase(headers, body)
		req := &Request{
			message:    base,
			method:     RequestMethod(parsed.Method),
			requestURI: parsed.RequestURI,
			firstLine:  startLine,
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: unknown start line %q", ErrMalformedMessage, startLine)
	}
}

func indexOf(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 || n < m {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
