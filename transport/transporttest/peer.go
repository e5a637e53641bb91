// Package transporttest provides a recording fake of dialog.Peer for
// tests outside the dialog package itself, so transport-adjacent code
// (useragent, cmd) does not need a live socket to exercise send paths.
package transporttest

import (
	"sync"

	"sipdialog/sip"
)

// RecordingPeer implements dialog.Peer by appending every sent message to
// Sent instead of touching the network. Err, if set, is returned by
// SendMessage without recording the message.
type RecordingPeer struct {
	mu   sync.Mutex
	Sent []sip.Message
	Err  error
}

func (p *RecordingPeer) SendMessage(msg sip.Message) error {
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	p.Sent = append(p.Sent, msg)
	p.mu.Unlock()
	return nil
}

// Count returns the number of messages recorded so far.
func (p *RecordingPeer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}

// Last returns the most recently recorded message, or nil if none.
func (p *RecordingPeer) Last() sip.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sent) == 0 {
		return nil
	}
	return p.Sent[len(p.Sent)-1]
}
