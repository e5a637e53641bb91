package sip

import (
	"io"
	"sort"
	"strings"
)

// CompactToLong is the fixed compact-alias table, the complete mapping
// published in the IANA SIP Parameters registry.
var CompactToLong = map[string]string{
	"v": "Via",
	"f": "From",
	"t": "To",
	"i": "Call-ID",
	"m": "Contact",
	"l": "Content-Length",
	"c": "Content-Type",
	"e": "Content-Encoding",
	"s": "Subject",
	"k": "Supported",
	"x": "Session-Expires",
	"r": "Refer-To",
	"b": "Referred-By",
	"j": "Reject-Contact",
	"a": "Accept-Contact",
	"o": "Event",
	"u": "Allow-Events",
	"d": "Request-Disposition",
	"y": "Identity",
}

// LongToCompact is the inverse of CompactToLong.
var LongToCompact = func() map[string]string {
	m := make(map[string]string, len(CompactToLong))
	for k, v := range CompactToLong {
		m[v] = k
	}
	return m
}()

// headerEntry is one stored header value, keeping the most-recently-seen
// casing of its name for display.
type headerEntry struct {
	name   string // display-case name, as last set
	values []string
}

// Headers is a case-insensitive, multi-valued, order-preserving header
// map. Keys compare case-insensitively; iteration order is insertion
// order of distinct names, with repeated Set calls on an existing name
// replacing it in place and Add appending another value under the same
// name.
type Headers struct {
	order []string // lowercased keys, in first-seen order
	data  map[string]*headerEntry
}

// NewHeaders returns an empty header map.
func NewHeaders() *Headers {
	return &Headers{data: make(map[string]*headerEntry)}
}

func normalizeName(name string) string {
	if long, ok := CompactToLong[strings.ToLower(name)]; ok && len(name) == 1 {
		return long
	}
	return name
}

// Set replaces all values for name with a single value, creating the
// header if absent.
func (h *Headers) Set(name, value string) {
	name = normalizeName(name)
	key := strings.ToLower(name)
	if e, ok := h.data[key]; ok {
		e.name = name
		e.values = []string{value}
		return
	}
	h.data[key] = &headerEntry{name: name, values: []string{value}}
	h.order = append(h.order, key)
}

// Add appends another value under name, turning it into a multi-valued
// header in insertion order. Applies especially to Via.
func (h *Headers) Add(name, value string) {
	name = normalizeName(name)
	key := strings.ToLower(name)
	if e, ok := h.data[key]; ok {
		e.name = name
		e.values = append(e.values, value)
		return
	}
	h.data[key] = &headerEntry{name: name, values: []string{value}}
	h.order = append(h.order, key)
}

// Get returns the first value for name, if any.
func (h *Headers) Get(name string) (string, bool) {
	key := strings.ToLower(normalizeName(name))
	if e, ok := h.data[key]; ok && len(e.values) > 0 {
		return e.values[0], true
	}
	return "", false
}

// GetOr returns the first value for name, or def.
func (h *Headers) GetOr(name, def string) string {
	if v, ok := h.Get(name); ok {
		return v
	}
	return def
}

// Values returns all values for name, in insertion order. Nil if absent.
func (h *Headers) Values(name string) []string {
	key := strings.ToLower(normalizeName(name))
	if e, ok := h.data[key]; ok {
		return e.values
	}
	return nil
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	key := strings.ToLower(normalizeName(name))
	_, ok := h.data[key]
	return ok
}

// Del removes name entirely.
func (h *Headers) Del(name string) {
	key := strings.ToLower(normalizeName(name))
	if _, ok := h.data[key]; !ok {
		return
	}
	delete(h.data, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Names returns the display-case header names, in insertion order.
func (h *Headers) Names() []string {
	names := make([]string, 0, len(h.order))
	for _, key := range h.order {
		names = append(names, h.data[key].name)
	}
	return names
}

// Clone returns an independent deep copy.
func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	for _, key := range h.order {
		e := h.data[key]
		values := make([]string, len(e.values))
		copy(values, e.values)
		c.data[key] = &headerEntry{name: e.name, values: values}
		c.order = append(c.order, key)
	}
	return c
}

// WriteWire writes the header block: Via headers first (their own
// multi-value order preserved), then every other header in ascending
// case-insensitive name order; each terminated by CRLF. If compact is
// true, every header with a compact alias is emitted under its
// one-character form regardless of whether it is Via.
func (h *Headers) WriteWire(w io.StringWriter, compact bool) {
	others := make([]string, 0, len(h.order))
	for _, key := range h.order {
		if key != "via" {
			others = append(others, key)
		}
	}
	sort.Strings(others)

	writeOne := func(key string) {
		e := h.data[key]
		name := e.name
		if compact {
			if alias, ok := LongToCompact[name]; ok {
				name = alias
			}
		}
		for _, v := range e.values {
			w.WriteString(name)
			w.WriteString(": ")
			w.WriteString(v)
			w.WriteString("\r\n")
		}
	}

	if e, ok := h.data["via"]; ok {
		_ = e
		writeOne("via")
	}
	for _, key := range others {
		writeOne(key)
	}
}
