package dialog

import "sort"

// ID is a dialog's identity: the unordered pair of tags plus the Call-ID.
// A freshly created outbound dialog has no remote tag yet, represented
// here as the empty string; once the peer's tag is learned the dialog
// re-keys under a new ID built with it.
//
// Represented as a single comparable string rather than a struct so it
// can be used directly as a map key without a custom Equal/Hash.
type ID string

// NewID builds the canonical ID for (localTag, remoteTag, callID). Tag
// order does not matter: NewID(a, b, c) == NewID(b, a, c).
func NewID(localTag, remoteTag, callID string) ID {
	tags := [2]string{localTag, remoteTag}
	sort.Strings(tags[:])
	return ID(tags[0] + "\x00" + tags[1] + "\x00" + callID)
}
