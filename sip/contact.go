package sip

import (
	"io"
	"strings"
)

// Contact is the parsed form of a From/To/Contact header: an address plus
// parameters. The "tag" parameter is the dialog-identity contribution
// each side adds to its own From/To header.
type Contact struct {
	DisplayName string
	Address     Uri
	Params      Params
}

// Tag returns the 'tag' param, if present.
func (c Contact) Tag() (string, bool) { return c.Params.Get("tag") }

// SetTag sets the 'tag' param.
func (c *Contact) SetTag(tag string) { c.Params.Set("tag", tag) }

// Clone returns an independent copy.
func (c Contact) Clone() Contact {
	return Contact{
		DisplayName: c.DisplayName,
		Address:     c.Address.Clone(),
		Params:      c.Params.Clone(),
	}
}

func (c Contact) String() string {
	var b strings.Builder
	c.StringWrite(&b)
	return b.String()
}

func (c Contact) StringWrite(w io.StringWriter) {
	if c.DisplayName != "" {
		w.WriteString("\"")
		w.WriteString(c.DisplayName)
		w.WriteString("\" ")
	}
	if c.Address.Wildcard {
		c.Address.StringWrite(w)
		return
	}
	w.WriteString("<")
	c.Address.StringWrite(w)
	w.WriteString(">")
	if c.Params.Len() > 0 {
		w.WriteString(";")
		c.Params.ToStringWrite(';', w)
	}
}

// ParseContact parses a From/To/Contact header value of the form
// `"Display Name" <sip:user@host>;param=value`, or the bare-URI form
// `sip:user@host;param=value` (params in that case belong to the URI, not
// the header - they are surfaced identically since the dialog core never
// needs to tell them apart).
func ParseContact(raw string) (Contact, error) {
	raw = strings.TrimSpace(raw)
	c := Contact{Params: NewParams()}

	if i := strings.IndexByte(raw, '"'); i == 0 {
		j := strings.IndexByte(raw[1:], '"')
		if j < 0 {
			return Contact{}, ErrMalformedMessage
		}
		c.DisplayName = raw[1 : j+1]
		raw = strings.TrimSpace(raw[j+2:])
	} else if i := strings.IndexByte(raw, '<'); i > 0 {
		c.DisplayName = strings.TrimSpace(raw[:i])
		raw = raw[i:]
	}

	if strings.HasPrefix(raw, "<") {
		end := strings.IndexByte(raw, '>')
		if end < 0 {
			return Contact{}, ErrMalformedMessage
		}
		uri, err := ParseURI(raw[1:end])
		if err != nil {
			return Contact{}, err
		}
		c.Address = uri
		rest := strings.TrimPrefix(raw[end+1:], ";")
		c.Params = ParseParams(rest, ';')
		return c, nil
	}

	// bare uri, optionally with trailing header params
	uriPart := raw
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		// the URI's own params (if any) stay embedded; the header-level
		// tail is not distinguishable here, so ParseURI consumes
		// everything after the first ';' as uri params.
		uriPart = raw
		_ = i
	}
	uri, err := ParseURI(uriPart)
	if err != nil {
		return Contact{}, err
	}
	c.Address = uri
	c.Params = uri.UriParams
	return c, nil
}
