package sip

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by this package's collaborators (transaction,
// dialog), which wrap them with context via fmt.Errorf("...: %w", ...).
var (
	// ErrMalformedMessage: start line or CSeq unparsable.
	ErrMalformedMessage = errors.New("sip: malformed message")
	// ErrMissingHeader: a Message was constructed without required
	// From/To/CSeq context.
	ErrMissingHeader = errors.New("sip: missing required header")
	// ErrTimeout: a request exceeded its deadline.
	ErrTimeout = errors.New("sip: timeout")
	// ErrConnectionLost: the transport signaled loss.
	ErrConnectionLost = errors.New("sip: connection lost")
	// ErrAuthRejected: validateAuth returned false.
	ErrAuthRejected = errors.New("sip: auth rejected")
	// ErrClosed: operation attempted on a closed dialog/transaction.
	ErrClosed = errors.New("sip: closed")
	// ErrDialogNotFound: a registry lookup/delete found no entry under the
	// requested ID.
	ErrDialogNotFound = errors.New("sip: dialog not found")
)

// InviteFailedError reports a final non-200 response completing an
// INVITE's ready future.
type InviteFailedError struct {
	Status  int
	Message string
}

func (e *InviteFailedError) Error() string {
	return fmt.Sprintf("sip: invite failed with %d %s", e.Status, e.Message)
}
