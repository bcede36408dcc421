package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/metrics/metricstest"
	"github.com/zalando/edgerender/queue"
)

type fakeClient struct {
	mu       sync.Mutex
	keys     map[string]string
	messages []redis.XMessage
	read     int
	acked    []string
	addErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{keys: make(map[string]string)}
}

func (f *fakeClient) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}

	f.keys[key] = value
	return true, nil
}

func (f *fakeClient) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.keys, k)
	}

	return nil
}

func (f *fakeClient) XAdd(_ context.Context, _ string, _ int64, values map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}

	id := strconv.Itoa(len(f.messages)) + "-0"
	v := make(map[string]any)
	for k, b := range values {
		// redis returns the fields as strings
		v[k] = string(b.([]byte))
	}

	f.messages = append(f.messages, redis.XMessage{ID: id, Values: v})
	return id, nil
}

func (f *fakeClient) XGroupCreate(context.Context, string, string) error { return nil }

func (f *fakeClient) XReadGroup(ctx context.Context, _, _, _ string, count int64, block time.Duration) ([]redis.XMessage, error) {
	f.mu.Lock()
	if f.read < len(f.messages) {
		end := min(f.read+int(count), len(f.messages))
		m := f.messages[f.read:end]
		f.read = end
		f.mu.Unlock()
		return m, nil
	}

	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(block):
		return nil, nil
	}
}

func (f *fakeClient) XAck(_ context.Context, _, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

type recorder struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (r *recorder) Enqueue(_ context.Context, j queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
	return r.err
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func TestEnqueueDedupe(t *testing.T) {
	c := newFakeClient()
	m := &metricstest.MockMetrics{}
	q := New(c, Options{Metrics: m})

	j := queue.NewJob("/blog/x", "www.example.org", `"abc"`, 1000)
	require.NoError(t, q.Enqueue(context.Background(), j))
	require.NoError(t, q.Enqueue(context.Background(), j))
	require.NoError(t, q.Enqueue(context.Background(), queue.NewJob("/blog/x", "www.example.org", `"def"`, 2000)))

	assert.Len(t, c.messages, 2)
	duplicates, _ := m.Counter(fmt.Sprintf(metrics.KeyRevalidation, "duplicate"))
	assert.Equal(t, int64(1), duplicates)
}

func TestEnqueueFailureReleasesKey(t *testing.T) {
	c := newFakeClient()
	c.addErr = errors.New("connection refused")
	q := New(c, Options{})

	j := queue.NewJob("/blog/x", "", "", 1000)
	assert.Error(t, q.Enqueue(context.Background(), j))
	assert.Empty(t, c.keys)

	c.addErr = nil
	require.NoError(t, q.Enqueue(context.Background(), j))
	assert.Len(t, c.messages, 1)
}

func TestConsume(t *testing.T) {
	c := newFakeClient()
	q := New(c, Options{Block: 10 * time.Millisecond, Count: 2})

	jobs := []queue.Job{
		queue.NewJob("/a", "www.example.org", `"1"`, 1),
		queue.NewJob("/b", "www.example.org", `"2"`, 2),
		queue.NewJob("/c", "www.example.org", `"3"`, 3),
	}

	for _, j := range jobs {
		require.NoError(t, q.Enqueue(context.Background(), j))
	}

	c.messages = append(c.messages, redis.XMessage{ID: "99-0", Values: map[string]any{"other": "x"}})

	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{}
	done := make(chan error)
	go func() { done <- q.Consume(ctx, r) }()

	require.Eventually(t, func() bool { return r.len() == len(jobs) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.acked) == 4
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	if d := cmp.Diff(jobs, r.jobs); d != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", d)
	}
}

func TestConsumeRejected(t *testing.T) {
	c := newFakeClient()
	m := &metricstest.MockMetrics{}
	q := New(c, Options{Block: 10 * time.Millisecond, Metrics: m})
	require.NoError(t, q.Enqueue(context.Background(), queue.NewJob("/a", "", "", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- q.Consume(ctx, &recorder{err: queue.ErrFull}) }()

	require.Eventually(t, func() bool {
		n, _ := m.Counter(fmt.Sprintf(metrics.KeyRevalidation, "dropped"))
		return n == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"0-0"}, c.acked)
}
