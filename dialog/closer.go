package dialog

import (
	"context"
	"sync"
)

// scheduledTask wraps the cancel function a Scheduler.Schedule call
// returns so it can be cancelled idempotently, including after it has
// already fired. Rescheduling cancels whatever was previously pending.
type scheduledTask struct {
	mu     sync.Mutex
	cancel func()
}

func (t *scheduledTask) set(cancel func()) {
	t.mu.Lock()
	prev := t.cancel
	t.cancel = cancel
	t.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (t *scheduledTask) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// closer is implemented by Dialog and InviteDialog.
type closer interface {
	Shutdown(ctx context.Context) error
}

// WithDialog runs fn against d and always closes d afterwards, win or
// lose, the Go equivalent of a with-block scoped around a dialog. A
// close failure is logged, never shadows fn's own error.
func WithDialog[D closer](ctx context.Context, d D, fn func(D) error) error {
	err := fn(d)
	if cerr := d.Shutdown(ctx); cerr != nil {
		logger().Warn("dialog: close during WithDialog failed", "err", cerr)
	}
	return err
}
