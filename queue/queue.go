// Package queue implements the handoff of the revalidation jobs created
// for stale cache entries.
//
// Jobs are distributed among a fixed number of shards by the hash of
// their path. Each shard is processed by a single worker, so the jobs of
// the same path are revalidated one at a time, while jobs of different
// paths run in parallel up to the number of shards. A job with the dedupe
// key of a job already waiting or running is dropped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/metrics"
)

const (
	DefaultShards = 8
	DefaultBuffer = 256
)

var (
	ErrFull   = errors.New("revalidation queue full")
	ErrClosed = errors.New("revalidation queue closed")
)

// Consumer revalidates the cache entry of a job. It needs to tolerate
// receiving the same job more than once.
type Consumer interface {
	Revalidate(context.Context, Job) error
}

type ConsumerFunc func(context.Context, Job) error

func (f ConsumerFunc) Revalidate(ctx context.Context, j Job) error { return f(ctx, j) }

// Options of the in-process queue.
type Options struct {
	// Shards is the number of workers. Default: 8.
	Shards int

	// Buffer is the number of jobs that can wait in a shard. When a
	// shard is full, Enqueue fails with ErrFull. Default: 256.
	Buffer int

	Consumer Consumer
	Metrics  metrics.Metrics
	Log      logging.Logger
}

type Queue struct {
	shards   []chan Job
	consumer Consumer
	metrics  metrics.Metrics
	log      logging.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	depth   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// New creates a queue and starts its workers.
func New(o Options) (*Queue, error) {
	if o.Consumer == nil {
		return nil, errors.New("revalidation queue: consumer required")
	}

	if o.Shards <= 0 {
		o.Shards = DefaultShards
	}

	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.Log == nil {
		o.Log = logging.NewRateLimited(logging.New(map[string]any{"component": "queue"}), 10, time.Minute)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		shards:   make([]chan Job, o.Shards),
		consumer: o.Consumer,
		metrics:  o.Metrics,
		log:      o.Log,
		pending:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := range q.shards {
		q.shards[i] = make(chan Job, o.Buffer)
		shard := q.shards[i]
		q.group.Go(func() error {
			q.work(shard)
			return nil
		})
	}

	return q, nil
}

// Enqueue hands the job over to its shard without waiting for it to be
// processed.
func (q *Queue) Enqueue(ctx context.Context, j Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if j.DedupeKey == "" {
		j = NewJob(j.Path, j.Host, j.ETag, j.LastModified)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if _, ok := q.pending[j.DedupeKey]; ok {
		q.metrics.IncRevalidation("duplicate")
		return nil
	}

	select {
	case q.shards[j.Shard(len(q.shards))] <- j:
		q.pending[j.DedupeKey] = struct{}{}
		q.metrics.UpdateGauge(metrics.KeyQueueDepth, float64(q.depth.Add(1)))
		return nil
	default:
		return fmt.Errorf("%w: shard %d", ErrFull, j.Shard(len(q.shards)))
	}
}

func (q *Queue) work(shard <-chan Job) {
	for j := range shard {
		q.metrics.UpdateGauge(metrics.KeyQueueDepth, float64(q.depth.Add(-1)))

		if err := q.consumer.Revalidate(q.ctx, j); err != nil {
			q.metrics.IncRevalidation("failed")
			q.log.Warnf("revalidation of %s failed: %v", j.Path, err)
		} else {
			q.metrics.IncRevalidation("succeeded")
		}

		q.mu.Lock()
		delete(q.pending, j.DedupeKey)
		q.mu.Unlock()
	}
}

// Close stops accepting jobs and waits for the waiting ones to be
// processed. When ctx is done first, the running revalidations are
// canceled and the context error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}

	q.closed = true
	for _, s := range q.shards {
		close(s)
	}

	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
