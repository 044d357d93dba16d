package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Poller runs a reconciliation function on a fixed interval until stopped.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every starts fn on every tick of interval. fn is never run concurrently
// with itself. The first run happens after one interval.
func Every(ctx context.Context, clock clockwork.Clock, interval time.Duration, fn func(context.Context)) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				fn(ctx)
			}
		}
	}()

	return p
}

// Stop cancels the poller. It does not wait for an in-flight run, so it is
// safe to call from inside fn.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.once.Do(p.cancel)
}

// Done is closed once the poll loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }
