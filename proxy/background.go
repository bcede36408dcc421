package proxy

import (
	stdlibcontext "context"
	"sync"
	"time"
)

const defaultBackgroundTimeout = 30 * time.Second

type BackgroundOptions struct {
	// Sync runs the deferred work before returning, for hosts that
	// cannot keep work running after the response.
	Sync bool

	// Timeout of a single piece of deferred work. Default: 30 seconds.
	Timeout time.Duration
}

// Background runs the work deferred by the request handling, e.g. the
// enqueueing of revalidation jobs, without delaying the response.
type Background struct {
	options BackgroundOptions
	wg      sync.WaitGroup
}

func NewBackground(o BackgroundOptions) *Background {
	if o.Timeout <= 0 {
		o.Timeout = defaultBackgroundTimeout
	}

	return &Background{options: o}
}

func (b *Background) run(f func(stdlibcontext.Context)) {
	ctx, cancel := stdlibcontext.WithTimeout(stdlibcontext.Background(), b.options.Timeout)
	defer cancel()
	f(ctx)
}

// Go runs f in the background, or right away in sync mode.
func (b *Background) Go(f func(stdlibcontext.Context)) {
	if b.options.Sync {
		b.run(f)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(f)
	}()
}

// Flush waits for the running work until ctx is done.
func (b *Background) Flush(ctx stdlibcontext.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
