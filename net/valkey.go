package net

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/valkeyotel"

	"github.com/zalando/edgerender/logging"
	"github.com/zalando/edgerender/metrics"
)

const ringSize = 10000

// ValkeyOptions is used to configure the ValkeyRingClient
//
// Many options are named like
// https://pkg.go.dev/github.com/valkey-io/valkey-go#ClientOption,
// which we pass to the valkey.Client on creation
type ValkeyOptions struct {
	// Addrs are the list of valkey shards
	Addrs []string

	// Username used to connect to the Valkey server
	Username string
	// Password is the password needed to connect to Valkey server
	Password string

	// ConnWriteTimeout for valkey socket read,write,dial timeouts
	ConnWriteTimeout time.Duration

	// ConnLifetime connections will close after passing lifetime
	ConnLifetime time.Duration

	// EnableOTel records the commands as OpenTelemetry spans, see
	// https://pkg.go.dev/github.com/valkey-io/valkey-go/valkeyotel
	EnableOTel bool

	// Metrics collector
	Metrics metrics.Metrics
	// MetricsPrefix is the prefix for the client metrics, defaults to
	// "valkey."
	MetricsPrefix string

	// Log is the logger that is used
	Log logging.Logger
}

func createValkeyClient(addr string, opt *ValkeyOptions) (valkey.Client, error) {
	clientOptions := valkey.ClientOption{
		Username:    opt.Username,
		Password:    opt.Password,
		InitAddress: []string{addr},

		ConnWriteTimeout: opt.ConnWriteTimeout, // Write,Read,Dial Timeout is the same
		ConnLifetime:     opt.ConnLifetime,

		MaxFlushDelay: 20 * time.Microsecond, // reduce CPU load without much impact, ref: https://github.com/redis/rueidis/issues/156

		DisableRetry: true,
		DisableCache: true,
	}

	if opt.EnableOTel {
		return valkeyotel.NewClient(clientOptions)
	}

	return valkey.NewClient(clientOptions)
}

// ValkeyRingClient distributes the keys over the valkey shards. The
// shards are mapped to a fixed size ring, so that most operations find
// their client without locking. It is used by the valkey tag store.
type ValkeyRingClient struct {
	shards  [ringSize]valkey.Client
	clients map[string]valkey.Client
	log     logging.Logger
	metrics metrics.Metrics
	prefix  string
}

func computeShardSize(i int) int {
	if i == 0 {
		return ringSize
	}

	return int(math.Ceil(float64(ringSize) / float64(i)))
}

func NewValkeyRingClient(opt *ValkeyOptions) (*ValkeyRingClient, error) {
	if len(opt.Addrs) == 0 {
		return nil, errors.New("valkey: no address")
	}

	if opt.Log == nil {
		opt.Log = logging.New(map[string]any{"client": "valkey"})
	}

	if opt.Metrics == nil {
		opt.Metrics = metrics.Default
	}

	if opt.MetricsPrefix == "" {
		opt.MetricsPrefix = "valkey."
	}

	vrc := &ValkeyRingClient{
		clients: make(map[string]valkey.Client, len(opt.Addrs)),
		log:     opt.Log,
		metrics: opt.Metrics,
		prefix:  opt.MetricsPrefix,
	}

	// the order of the addresses decides the shard of the keys
	ordered := make([]valkey.Client, 0, len(opt.Addrs))
	for _, addr := range opt.Addrs {
		cli, err := createValkeyClient(addr, opt)
		if err != nil {
			vrc.Close()
			return nil, fmt.Errorf("valkey client for %s: %w", addr, err)
		}

		vrc.clients[addr] = cli
		ordered = append(ordered, cli)
	}

	shardSize := computeShardSize(len(ordered))
	for i := range ringSize {
		vrc.shards[i] = ordered[i/shardSize]
	}

	vrc.metrics.UpdateGauge(vrc.prefix+"shards", float64(len(ordered)))
	return vrc, nil
}

func (vrc *ValkeyRingClient) shardForKey(key string) valkey.Client {
	return vrc.shards[xxhash.Sum64String(key)%ringSize]
}

// Close closes the clients of all shards.
func (vrc *ValkeyRingClient) Close() {
	for _, cli := range vrc.clients {
		cli.Close()
	}
}

// PingAll pings all shards and returns the first error.
func (vrc *ValkeyRingClient) PingAll(ctx context.Context) error {
	for addr, cli := range vrc.clients {
		if err := cli.Do(ctx, cli.B().Ping().Build()).Error(); err != nil {
			return fmt.Errorf("valkey shard %s: %w", addr, err)
		}
	}

	return nil
}

// Get returns the value of the key, and false when it does not exist.
func (vrc *ValkeyRingClient) Get(ctx context.Context, key string) (string, bool, error) {
	shard := vrc.shardForKey(key)
	v, err := shard.Do(ctx, shard.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return v, true, nil
}

func (vrc *ValkeyRingClient) Set(ctx context.Context, key, val string) error {
	shard := vrc.shardForKey(key)
	return shard.Do(ctx, shard.B().Set().Key(key).Value(val).Build()).Error()
}

// RunScript runs the script on the shard of the first key.
func (vrc *ValkeyRingClient) RunScript(ctx context.Context, script *valkey.Lua, keys []string, args ...string) (valkey.ValkeyMessage, error) {
	shard := vrc.shardForKey(keys[0])
	return script.Exec(ctx, shard, keys, args).ToMessage()
}

func NewScript(src string) *valkey.Lua {
	return valkey.NewLuaScript(src)
}
