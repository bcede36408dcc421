// Package redisqueue implements the revalidation queue on a redis
// stream, shared by the edge instances. Enqueue appends the jobs to the
// stream, suppressing the duplicates with a SETNX on the dedupe key, and
// Consume reads them within a consumer group and hands them over to the
// local sharded queue of the instance.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/metrics"
	"github.com/zalando/edgerender/queue"
)

const (
	DefaultStream       = "edgerender:revalidate"
	DefaultGroup        = "edgerender"
	DefaultDedupePrefix = "edgerender:dedupe:"
	DefaultMaxLen       = 10000
	DefaultDedupeTTL    = time.Minute

	jobField = "job"
)

// Client is implemented by net.RedisRingClient.
type Client interface {
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
	XGroupCreate(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) error
}

// Enqueuer receives the consumed jobs, implemented by queue.Queue.
type Enqueuer interface {
	Enqueue(context.Context, queue.Job) error
}

type Options struct {
	Stream       string
	Group        string
	DedupePrefix string

	// Consumer name within the group. Default: random.
	Consumer string

	// MaxLen trims the stream approximately. Default: 10000.
	MaxLen int64

	// DedupeTTL is how long a job suppresses the jobs with the same
	// dedupe key. Default: 1 minute.
	DedupeTTL time.Duration

	// Count is the max number of messages read at once. Default: 16.
	Count int64

	// Block is how long a read waits for new messages. Default: 2
	// seconds.
	Block time.Duration

	Metrics metrics.Metrics
	Log     logging.Logger
}

type Queue struct {
	client  Client
	options Options
}

func New(c Client, o Options) *Queue {
	if o.Stream == "" {
		o.Stream = DefaultStream
	}

	if o.Group == "" {
		o.Group = DefaultGroup
	}

	if o.DedupePrefix == "" {
		o.DedupePrefix = DefaultDedupePrefix
	}

	if o.Consumer == "" {
		o.Consumer = uuid.NewString()
	}

	if o.MaxLen <= 0 {
		o.MaxLen = DefaultMaxLen
	}

	if o.DedupeTTL <= 0 {
		o.DedupeTTL = DefaultDedupeTTL
	}

	if o.Count <= 0 {
		o.Count = 16
	}

	if o.Block <= 0 {
		o.Block = 2 * time.Second
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.Log == nil {
		o.Log = logging.NewRateLimited(logging.New(map[string]any{"component": "redisqueue"}), 10, time.Minute)
	}

	return &Queue{client: c, options: o}
}

func (q *Queue) Enqueue(ctx context.Context, j queue.Job) error {
	if j.DedupeKey == "" {
		j = queue.NewJob(j.Path, j.Host, j.ETag, j.LastModified)
	}

	key := q.options.DedupePrefix + j.DedupeKey
	ok, err := q.client.SetNX(ctx, key, j.Path, q.options.DedupeTTL)
	if err != nil {
		return fmt.Errorf("revalidation queue: %w", err)
	}

	if !ok {
		q.options.Metrics.IncRevalidation("duplicate")
		return nil
	}

	b, err := json.Marshal(j)
	if err != nil {
		return err
	}

	if _, err := q.client.XAdd(ctx, q.options.Stream, q.options.MaxLen, map[string]any{jobField: b}); err != nil {
		if derr := q.client.Del(context.WithoutCancel(ctx), key); derr != nil {
			q.options.Log.Warnf("failed to release dedupe key %s: %v", key, derr)
		}

		return fmt.Errorf("revalidation queue: %w", err)
	}

	return nil
}

func decode(m redis.XMessage) (queue.Job, error) {
	var j queue.Job
	var b []byte
	switch v := m.Values[jobField].(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return j, fmt.Errorf("message %s without job", m.ID)
	}

	err := json.Unmarshal(b, &j)
	return j, err
}

// Consume reads the jobs of the stream and hands them over to local
// until ctx is done. Messages are acknowledged once handed over. A job
// that local rejects is dropped with a warning: the next request finding
// the entry stale enqueues it again.
func (q *Queue) Consume(ctx context.Context, local Enqueuer) error {
	if err := q.client.XGroupCreate(ctx, q.options.Stream, q.options.Group); err != nil {
		return fmt.Errorf("revalidation queue: %w", err)
	}

	for {
		messages, err := q.client.XReadGroup(ctx, q.options.Stream, q.options.Group, q.options.Consumer, q.options.Count, q.options.Block)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			q.options.Log.Warnf("failed to read revalidation jobs: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.options.Block):
			}

			continue
		}

		ids := make([]string, 0, len(messages))
		for _, m := range messages {
			ids = append(ids, m.ID)
			j, err := decode(m)
			if err != nil {
				q.options.Log.Warnf("invalid revalidation job: %v", err)
				continue
			}

			if err := local.Enqueue(ctx, j); err != nil && !errors.Is(err, context.Canceled) {
				q.options.Metrics.IncRevalidation("dropped")
				q.options.Log.Warnf("revalidation job of %s dropped: %v", j.Path, err)
			}
		}

		if len(ids) == 0 {
			continue
		}

		if err := q.client.XAck(ctx, q.options.Stream, q.options.Group, ids...); err != nil {
			q.options.Log.Warnf("failed to acknowledge revalidation jobs: %v", err)
		}
	}
}
