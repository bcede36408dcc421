package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/edgerender/logging/loggingtest"
	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/metrics/metricstest"
)

func newQueue(t *testing.T, o Options) *Queue {
	t.Helper()
	q, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close(context.Background()) })
	return q
}

func TestConsumerRequired(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestDedupe(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	m := &metricstest.MockMetrics{}

	q := newQueue(t, Options{
		Metrics: m,
		Consumer: ConsumerFunc(func(context.Context, Job) error {
			if calls.Add(1) == 1 {
				close(started)
			}

			<-release
			return nil
		}),
	})

	j := NewJob("/blog/x", "www.example.org", `"abc"`, 1000)
	require.NoError(t, q.Enqueue(context.Background(), j))
	<-started

	require.NoError(t, q.Enqueue(context.Background(), NewJob("/blog/x", "www.example.org", `"abc"`, 1000)))
	close(release)
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	duplicates, _ := m.Counter(fmt.Sprintf(metrics.KeyRevalidation, "duplicate"))
	assert.Equal(t, int64(1), duplicates)
	succeeded, _ := m.Counter(fmt.Sprintf(metrics.KeyRevalidation, "succeeded"))
	assert.Equal(t, int64(1), succeeded)
	depth, _ := m.Gauge(metrics.KeyQueueDepth)
	assert.Equal(t, float64(0), depth)
}

func TestRequeueAfterDone(t *testing.T) {
	done := make(chan struct{}, 2)
	q := newQueue(t, Options{Consumer: ConsumerFunc(func(context.Context, Job) error {
		done <- struct{}{}
		return nil
	})})

	j := NewJob("/blog/x", "www.example.org", `"abc"`, 1000)
	require.NoError(t, q.Enqueue(context.Background(), j))
	<-done

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pending) == 0
	}, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), j))
	<-done
}

func TestFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	q := newQueue(t, Options{
		Shards: 1,
		Buffer: 1,
		Consumer: ConsumerFunc(func(context.Context, Job) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		}),
	})

	defer close(release)

	require.NoError(t, q.Enqueue(context.Background(), NewJob("/a", "", "", 1)))
	<-started
	require.NoError(t, q.Enqueue(context.Background(), NewJob("/b", "", "", 1)))
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob("/c", "", "", 1)), ErrFull)
}

func TestSamePathSerialized(t *testing.T) {
	var (
		mu      sync.Mutex
		running = make(map[string]int)
		max     = make(map[string]int)
		wg      sync.WaitGroup
	)

	q := newQueue(t, Options{Shards: 4, Consumer: ConsumerFunc(func(_ context.Context, j Job) error {
		defer wg.Done()
		mu.Lock()
		running[j.Path]++
		if running[j.Path] > max[j.Path] {
			max[j.Path] = running[j.Path]
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running[j.Path]--
		mu.Unlock()
		return nil
	})})

	paths := []string{"/a", "/b", "/c", "/d", "/e"}
	for version := range 5 {
		for _, p := range paths {
			wg.Add(1)
			require.NoError(t, q.Enqueue(context.Background(), NewJob(p, "", "", int64(version))))
		}
	}

	wg.Wait()
	for _, p := range paths {
		assert.Equal(t, 1, max[p], p)
	}
}

func TestFailureLogged(t *testing.T) {
	l := loggingtest.New()
	defer l.Close()

	m := &metricstest.MockMetrics{}
	q := newQueue(t, Options{Log: l, Metrics: m, Consumer: ConsumerFunc(func(context.Context, Job) error {
		return errors.New("renderer down")
	})})

	require.NoError(t, q.Enqueue(context.Background(), NewJob("/a", "", "", 1)))
	require.NoError(t, l.WaitFor("renderer down", time.Second))
	require.NoError(t, q.Close(context.Background()))

	failed, _ := m.Counter(fmt.Sprintf(metrics.KeyRevalidation, "failed"))
	assert.Equal(t, int64(1), failed)
}

func TestClosed(t *testing.T) {
	q, err := New(Options{Consumer: ConsumerFunc(func(context.Context, Job) error { return nil })})
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob("/a", "", "", 1)), ErrClosed)
}

func TestCloseCancelsRunning(t *testing.T) {
	started := make(chan struct{})
	q, err := New(Options{Consumer: ConsumerFunc(func(ctx context.Context, _ Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})})
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), NewJob("/a", "", "", 1)))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}
