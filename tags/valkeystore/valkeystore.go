// Package valkeystore implements the tag store on a valkey ring.
package valkeystore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/valkey-io/valkey-go"

	"github.com/zalando/edgerender/net"
	"github.com/zalando/edgerender/tags"
)

const DefaultPrefix = "edgerender:tag:"

// keeps the latest revalidation time of a tag
var revalidateScript = net.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local ts = tonumber(ARGV[1])
if ts > current then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// Client is implemented by net.ValkeyRingClient.
type Client interface {
	Get(ctx context.Context, key string) (string, bool, error)
	RunScript(ctx context.Context, script *valkey.Lua, keys []string, args ...string) (valkey.ValkeyMessage, error)
}

type Store struct {
	client Client
	prefix string
}

func New(c Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{client: c, prefix: prefix}
}

func (s *Store) IsAnyTagRevalidatedAfter(ctx context.Context, t []string, ts int64) (bool, error) {
	for _, tag := range t {
		v, ok, err := s.client.Get(ctx, s.prefix+tag)
		if err != nil {
			return false, fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
		}

		if !ok {
			continue
		}

		revalidated, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, fmt.Errorf("%w: invalid value of tag %s: %w", tags.ErrStoreFailure, tag, err)
		}

		if revalidated > ts {
			return true, nil
		}
	}

	return false, nil
}

func (s *Store) Revalidate(ctx context.Context, t []string, ts int64) error {
	arg := strconv.FormatInt(ts, 10)
	for _, tag := range t {
		if _, err := s.client.RunScript(ctx, revalidateScript, []string{s.prefix + tag}, arg); err != nil {
			return fmt.Errorf("%w: %w", tags.ErrStoreFailure, err)
		}
	}

	return nil
}
