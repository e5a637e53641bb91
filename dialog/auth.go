package dialog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/icholy/digest"
	uuid "github.com/satori/go.uuid"

	"sipdialog/sip"
)

// Challenge is the WWW-Authenticate descriptor a dialog remembers after
// issuing a 401 to an inbound request, so a retried request with the
// same nonce can be validated against it.
type Challenge struct {
	Nonce     string
	Realm     string
	Method    sip.RequestMethod
	Algorithm string
}

// newChallenge builds a fresh challenge for method, defaulting realm to
// "sip" and algorithm to "md5" the way the dialog core's unauthorized()
// does.
func newChallenge(method sip.RequestMethod, realm, algorithm string) Challenge {
	if realm == "" {
		realm = "sip"
	}
	if algorithm == "" {
		algorithm = "md5"
	}
	return Challenge{Nonce: genNonce(), Realm: realm, Method: method, Algorithm: algorithm}
}

// genNonce returns a 10-character nonce token.
func genNonce() string {
	id, err := uuid.NewV4()
	if err != nil {
		return sip.GenBranch(10)
	}
	raw := strings.ReplaceAll(id.String(), "-", "")
	if len(raw) > 10 {
		raw = raw[:10]
	}
	return raw
}

func (c Challenge) String() string {
	return fmt.Sprintf(`Digest realm="%s",nonce="%s",algorithm=%s`, c.Realm, c.Nonce, strings.ToUpper(c.Algorithm))
}

// Credentials is the parsed form of an inbound Authorization header.
type Credentials struct {
	Username  string
	Realm     string
	Nonce     string
	URI       string
	Response  string
	Algorithm string
}

// ParseCredentials parses a `Digest k="v",...` Authorization header value.
func ParseCredentials(raw string) (Credentials, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "Digest")
	raw = strings.TrimSpace(raw)

	fields := map[string]string{}
	for _, part := range splitAuthFields(raw) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		fields[strings.ToLower(key)] = val
	}

	cred := Credentials{
		Username:  fields["username"],
		Realm:     fields["realm"],
		Nonce:     fields["nonce"],
		URI:       fields["uri"],
		Response:  fields["response"],
		Algorithm: fields["algorithm"],
	}
	if cred.Username == "" || cred.Response == "" {
		return Credentials{}, fmt.Errorf("%w: malformed Authorization", sip.ErrMalformedMessage)
	}
	return cred, nil
}

// splitAuthFields splits a comma-separated "k=v" list, tolerating commas
// embedded inside quoted values.
func splitAuthFields(s string) []string {
	var fields []string
	inQuotes := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	return fields
}

// ValidateAuthorization reports whether cred's digest response matches
// what password would produce against this challenge and payload, using
// the RFC 2617 MD5 auth-int algorithm: response = MD5(HA1:nonce:HA2)
// where HA1 = MD5(username:realm:password) and
// HA2 = MD5(method:uri:MD5(payload)). Folding the entity body into HA2
// this way, rather than the plain "auth" HA2 = MD5(method:uri), is what
// ties the validated response to the message payload the caller passed.
//
// icholy/digest only builds a credential for an outbound request, it has
// no inverse "verify a received credential" entry point, so this side of
// the exchange is computed directly with crypto/md5.
func (c Challenge) ValidateAuthorization(cred Credentials, password string, payload []byte) bool {
	if cred.Nonce != c.Nonce {
		return false
	}
	ha1 := md5Hex(cred.Username + ":" + c.Realm + ":" + password)
	ha2 := md5Hex(string(c.Method) + ":" + cred.URI + ":" + md5Hex(string(payload)))
	expected := md5Hex(ha1 + ":" + cred.Nonce + ":" + ha2)
	return expected == cred.Response
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BuildAuthorizationHeader answers a WWW-Authenticate challenge received
// on an outbound request, producing the Authorization header value to
// retry the request with. Grounded on the client-side digest flow the
// teacher runs in its own 401/407 retry path.
func BuildAuthorizationHeader(wwwAuthenticate, method, uri, username, password string) (string, error) {
	chal, err := digest.ParseChallenge(wwwAuthenticate)
	if err != nil {
		return "", fmt.Errorf("dialog: parse challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("dialog: build digest: %w", err)
	}
	return cred.String(), nil
}
