package proxy

import (
	stdlibcontext "context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackground(t *testing.T) {
	b := NewBackground(BackgroundOptions{})
	release := make(chan struct{})
	var done atomic.Int32
	for range 3 {
		b.Go(func(stdlibcontext.Context) {
			<-release
			done.Add(1)
		})
	}

	assert.Equal(t, int32(0), done.Load(), "must not block")

	ctx, cancel := stdlibcontext.WithTimeout(stdlibcontext.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Flush(ctx), stdlibcontext.DeadlineExceeded)

	close(release)
	require.NoError(t, b.Flush(stdlibcontext.Background()))
	assert.Equal(t, int32(3), done.Load())
}

func TestBackgroundSync(t *testing.T) {
	b := NewBackground(BackgroundOptions{Sync: true, Timeout: time.Second})
	var deadline time.Time
	var done bool
	b.Go(func(ctx stdlibcontext.Context) {
		deadline, _ = ctx.Deadline()
		done = true
	})

	assert.True(t, done)
	assert.False(t, deadline.IsZero())
}
