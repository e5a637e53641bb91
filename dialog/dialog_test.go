package dialog

import (
	"sync"
	"testing"
	"time"

	"sipdialog/sip"
	"sipdialog/transport/transporttest"
)

// fakeDialogPeer aliases the shared recording Peer test double so it can
// be used by its original name throughout this package's tests.
type fakeDialogPeer = transporttest.RecordingPeer

// fakeApp is a minimal in-memory App used by every test in this package:
// a registry map guarded by a mutex, a scheduler that only records the
// requested delay without ever invoking fn (tests that care about timing
// read the delay back rather than waiting on a callback), and fixed
// defaults.
type fakeApp struct {
	mu        sync.Mutex
	entries   map[ID]any
	deletes   []ID
	schedules []time.Duration
	ua        string
	closeWait time.Duration
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		entries:   make(map[ID]any),
		ua:        "test-agent/1.0",
		closeWait: time.Minute,
	}
}

func (a *fakeApp) Insert(id ID, entry any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[id] = entry
}

func (a *fakeApp) Delete(id ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes = append(a.deletes, id)
	if _, ok := a.entries[id]; !ok {
		return errNotFound
	}
	delete(a.entries, id)
	return nil
}

func (a *fakeApp) Schedule(d time.Duration, fn func()) (cancel func()) {
	a.mu.Lock()
	a.schedules = append(a.schedules, d)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeApp) UserAgent() string              { return a.ua }
func (a *fakeApp) DialogClosingDelay() time.Duration { return a.closeWait }

func (a *fakeApp) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func mustContact(t *testing.T, uri string) sip.Contact {
	t.Helper()
	u, err := sip.ParseURI(uri)
	if err != nil {
		t.Fatalf("parse uri %q: %v", uri, err)
	}
	return sip.Contact{Address: u, Params: sip.NewParams()}
}
