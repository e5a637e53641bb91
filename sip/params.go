package sip

import (
	"io"
	"strings"
)

// abnf lists the characters that force a param value to be quoted when
// rendered back to the wire.
const abnf = " \t;,\"="

// ParamKV is a single key/value parameter pair, order-preserving.
type ParamKV struct {
	K string
	V string
}

// Params is an ordered set of key/value parameters, as found on Contact,
// From, To and Via headers (e.g. ";tag=abc;expires=10"). Order of first
// appearance is preserved; lookups are exact-match on the key.
type Params []ParamKV

// NewParams returns an empty parameter set.
func NewParams() Params { return make(Params, 0, 4) }

func (p Params) index(key string) int {
	for i, kv := range p {
		if kv.K == key {
			return i
		}
	}
	return -1
}

// Get returns the value for key and whether it was present.
func (p Params) Get(key string) (string, bool) {
	if i := p.index(key); i >= 0 {
		return p[i].V, true
	}
	return "", false
}

// GetOr returns the value for key, or def if it is absent.
func (p Params) GetOr(key, def string) string {
	if v, ok := p.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (p Params) Has(key string) bool { return p.index(key) >= 0 }

// Set adds or overwrites key with val, preserving its original position if
// it already existed.
func (p *Params) Set(key, val string) {
	if i := p.index(key); i >= 0 {
		(*p)[i].V = val
		return
	}
	*p = append(*p, ParamKV{K: key, V: val})
}

// Remove deletes key, if present.
func (p *Params) Remove(key string) {
	if i := p.index(key); i >= 0 {
		*p = append((*p)[:i], (*p)[i+1:]...)
	}
}

// Len returns the number of params.
func (p Params) Len() int { return len(p) }

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	c := make(Params, len(p))
	copy(c, p)
	return c
}

// ToStringWrite writes the params joined by sep (';' typically), each
// quoted when its value needs it.
func (p Params) ToStringWrite(sep byte, w io.StringWriter) {
	for i, kv := range p {
		if i > 0 {
			w.WriteString(string(sep))
		}
		w.WriteString(kv.K)
		if kv.V == "" {
			continue
		}
		w.WriteString("=")
		if strings.ContainsAny(kv.V, abnf) {
			w.WriteString("\"")
			w.WriteString(kv.V)
			w.WriteString("\"")
		} else {
			w.WriteString(kv.V)
		}
	}
}

// String renders the params joined by ';'.
func (p Params) String() string {
	var b strings.Builder
	p.ToStringWrite(';', &b)
	return b.String()
}

// ParseParams parses a ';'-separated (or other sep) list of key[=value]
// pairs. Quoted values have their surrounding quotes stripped.
func ParseParams(s string, sep byte) Params {
	p := NewParams()
	if s == "" {
		return p
	}
	for _, part := range strings.Split(s, string(sep)) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			k := part[:i]
			v := strings.Trim(part[i+1:], "\"")
			p.Set(k, v)
		} else {
			p.Set(part, "")
		}
	}
	return p
}
