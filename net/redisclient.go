package net

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	jump "github.com/dgryski/go-jump"
	"github.com/redis/go-redis/v9"

	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/metrics"
)

// RedisOptions is used to configure the redis.Ring
type RedisOptions struct {
	// Addrs are the list of redis shards
	Addrs []string

	// Password for AUTH, optional
	Password string

	// ReadTimeout for redis socket reads
	ReadTimeout time.Duration
	// WriteTimeout for redis socket writes
	WriteTimeout time.Duration
	// DialTimeout is the max time.Duration to dial a new connection
	DialTimeout time.Duration
	// PoolTimeout is the max time.Duration to get a connection from pool
	PoolTimeout time.Duration

	// MinIdleConns is the minimum number of socket connections to redis
	MinIdleConns int
	// MaxIdleConns is the maximum number of socket connections to redis
	MaxIdleConns int

	// HeartbeatFrequency frequency of PING commands sent to check
	// shards availability.
	HeartbeatFrequency time.Duration

	// ConnMetricsInterval defines the frequency of updating the redis
	// connection related metrics. Defaults to 60 seconds.
	ConnMetricsInterval time.Duration
	// MetricsPrefix is the prefix for the connection metrics,
	// defaults to "redis."
	MetricsPrefix string
	// Metrics collector, defaults to metrics.Default
	Metrics metrics.Metrics

	// Log is the logger that is used
	Log logging.Logger
}

// RedisRingClient distributes the keys over the redis shards with jump
// consistent hashing. It is used by the redis cache store and the redis
// revalidation queue.
type RedisRingClient struct {
	ring          *redis.Ring
	log           logging.Logger
	metrics       metrics.Metrics
	metricsPrefix string
	options       *RedisOptions
	quit          chan struct{}
	once          sync.Once
}

const (
	DefaultReadTimeout  = 25 * time.Millisecond
	DefaultWriteTimeout = 25 * time.Millisecond
	DefaultPoolTimeout  = 25 * time.Millisecond
	DefaultDialTimeout  = 25 * time.Millisecond
	DefaultMinConns     = 100
	DefaultMaxConns     = 100

	defaultConnMetricsInterval = 60 * time.Second
	defaultRedisMetricsPrefix  = "redis."
)

type jumpHash struct {
	shards []string
}

// newJumpHash orders the shards, as the ring passes them in map order
// and jump hashing depends on the order.
func newJumpHash(shards []string) redis.ConsistentHash {
	s := slices.Clone(shards)
	slices.Sort(s)
	return &jumpHash{shards: s}
}

func (j *jumpHash) Get(key string) string {
	if len(j.shards) == 0 {
		return ""
	}

	return j.shards[jump.Hash(xxhash.Sum64String(key), len(j.shards))]
}

func NewRedisRingClient(ro *RedisOptions) *RedisRingClient {
	if ro == nil {
		ro = &RedisOptions{}
	}

	if ro.ConnMetricsInterval <= 0 {
		ro.ConnMetricsInterval = defaultConnMetricsInterval
	}

	if ro.MetricsPrefix == "" {
		ro.MetricsPrefix = defaultRedisMetricsPrefix
	}

	if ro.Metrics == nil {
		ro.Metrics = metrics.Default
	}

	if ro.Log == nil {
		ro.Log = logging.New(map[string]any{"client": "redis"})
	}

	ringOptions := &redis.RingOptions{
		Addrs:              make(map[string]string, len(ro.Addrs)),
		NewConsistentHash:  newJumpHash,
		Password:           ro.Password,
		ReadTimeout:        ro.ReadTimeout,
		WriteTimeout:       ro.WriteTimeout,
		PoolTimeout:        ro.PoolTimeout,
		DialTimeout:        ro.DialTimeout,
		MinIdleConns:       ro.MinIdleConns,
		MaxIdleConns:       ro.MaxIdleConns,
		HeartbeatFrequency: ro.HeartbeatFrequency,
	}

	for idx, addr := range ro.Addrs {
		ringOptions.Addrs[fmt.Sprintf("redis%d", idx)] = addr
	}

	return &RedisRingClient{
		ring:          redis.NewRing(ringOptions),
		log:           ro.Log,
		metrics:       ro.Metrics,
		metricsPrefix: ro.MetricsPrefix,
		options:       ro,
		quit:          make(chan struct{}),
	}
}

// RingAvailable pings the ring, retrying with exponential backoff.
func (r *RedisRingClient) RingAvailable(ctx context.Context) bool {
	_, err := backoff.Retry(ctx, func() (string, error) {
		return r.ring.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(7),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Infof("Failed to ping redis, retry in %v: %v", next, err)
		}),
	)

	return err == nil
}

func (r *RedisRingClient) StartMetricsCollection() {
	go func() {
		for {
			select {
			case <-time.After(r.options.ConnMetricsInterval):
				stats := r.ring.PoolStats()
				r.metrics.UpdateGauge(r.metricsPrefix+"hits", float64(stats.Hits))
				r.metrics.UpdateGauge(r.metricsPrefix+"idleconns", float64(stats.IdleConns))
				r.metrics.UpdateGauge(r.metricsPrefix+"misses", float64(stats.Misses))
				r.metrics.UpdateGauge(r.metricsPrefix+"staleconns", float64(stats.StaleConns))
				r.metrics.UpdateGauge(r.metricsPrefix+"timeouts", float64(stats.Timeouts))
				r.metrics.UpdateGauge(r.metricsPrefix+"totalconns", float64(stats.TotalConns))
			case <-r.quit:
				return
			}
		}
	}()
}

func (r *RedisRingClient) Close() error {
	var err error
	r.once.Do(func() {
		close(r.quit)
		err = r.ring.Close()
	})

	return err
}

// Get returns nil without error for missing keys.
func (r *RedisRingClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.ring.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	return b, err
}

// Set stores the value. Zero expiration means no expiration.
func (r *RedisRingClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.ring.Set(ctx, key, value, expiration).Err()
}

func (r *RedisRingClient) Del(ctx context.Context, keys ...string) error {
	return r.ring.Del(ctx, keys...).Err()
}

// SetNX stores the value only when the key does not exist, and tells
// whether it was stored.
func (r *RedisRingClient) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return r.ring.SetNX(ctx, key, value, expiration).Result()
}

// XAdd appends a message to a stream, trimming it approximately to
// maxLen when maxLen is positive.
func (r *RedisRingClient) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	return r.ring.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
}

// XGroupCreate creates the consumer group and the stream. An existing
// group is not an error.
func (r *RedisRingClient) XGroupCreate(ctx context.Context, stream, group string) error {
	err := r.ring.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}

	return err
}

// XReadGroup reads new messages of a stream for the consumer. It returns
// no messages without error when the block timeout passes.
func (r *RedisRingClient) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := r.ring.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}

	return messages, nil
}

func (r *RedisRingClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return r.ring.XAck(ctx, stream, group, ids...).Err()
}
