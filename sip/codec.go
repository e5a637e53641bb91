package sip

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Start-line patterns for requests and responses.
var (
	requestLineRE  = regexp.MustCompile(`^(?P<method>[A-Za-z]+) (?P<uri>.+) SIP/2.0$`)
	responseLineRE = regexp.MustCompile(`^SIP/2.0 (?P<code>\d{3}) (?P<message>.+)$`)
)

// StartLineKind distinguishes a parsed start line.
type StartLineKind int

const (
	StartLineRequest StartLineKind = iota
	StartLineResponse
)

// ParsedStartLine is the result of classifying a message's first line.
type ParsedStartLine struct {
	Kind          StartLineKind
	Method        string
	RequestURI    string
	StatusCode    int
	StatusMessage string
}

// ParseStartLine classifies line as a SIP request or response start line.
// Anything else fails with ErrMalformedMessage.
func ParseStartLine(line string) (ParsedStartLine, error) {
	if m := responseLineRE.FindStringSubmatch(line); m != nil {
		code := 0
		fmt.Sscanf(m[1], "%d", &code)
		return ParsedStartLine{
			Kind:          StartLineResponse,
			StatusCode:    code,
			StatusMessage: m[2],
		}, nil
	}
	if m := requestLineRE.FindStringSubmatch(line); m != nil {
		return ParsedStartLine{
			Kind:       StartLineRequest,
			Method:     strings.ToUpper(m[1]),
			RequestURI: m[2],
		}, nil
	}
	return ParsedStartLine{}, fmt.Errorf("%w: start line %q", ErrMalformedMessage, line)
}

// ParseHeaderBlock parses a raw, CRLF-separated header block (start line
// included) into the start line and the normalized header map: compact
// aliases are expanded, and a header seen more than once becomes a
// multi-valued entry in insertion order.
func ParseHeaderBlock(raw []byte) (string, *Headers, error) {
	text := strings.TrimRight(string(raw), "\r\n")
	lines := strings.Split(text, "\r\n")
	if len(lines) == 0 {
		log.Debug().Msg("sip: empty header block")
		return "", nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	startLine := lines[0]
	headers := NewHeaders()
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		i := strings.Index(line, ": ")
		if i < 0 {
			// tolerate "Name:value" without the mandated single space,
			// seen from real-world UAs in the wild.
			if j := strings.IndexByte(line, ':'); j >= 0 {
				i = j
				headers.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
				continue
			}
			log.Debug().Str("line", line).Msg("sip: dropping unparsable header line")
			continue
		}
		name := line[:i]
		value := line[i+2:]
		headers.Add(name, value)
	}

	return startLine, headers, nil
}
