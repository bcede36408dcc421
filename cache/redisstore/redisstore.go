// Package redisstore implements a cache store on a redis ring, shared by
// the edge instances and written by the renderer.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/zalando/edgerender/cache"
)

// DefaultPrefix of the keys.
const DefaultPrefix = "edgerender:cache:"

// Client is implemented by net.RedisRingClient.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Options of the store.
type Options struct {
	Prefix string

	// TTL of the written entries. Zero keeps the entries until they are
	// replaced.
	TTL time.Duration
}

type Store struct {
	client Client
	prefix string
	ttl    time.Duration
}

func New(c Client, o Options) *Store {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}

	return &Store{client: c, prefix: o.Prefix, ttl: o.TTL}
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	b, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrStoreFailure, err)
	}

	if b == nil {
		return nil, nil
	}

	return cache.Decode(b)
}

// Set replaces the entry. A nil entry deletes it.
func (s *Store) Set(ctx context.Context, key string, e *cache.Entry) error {
	if e == nil {
		return s.client.Del(ctx, s.prefix+key)
	}

	b, err := e.Encode()
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.prefix+key, b, s.ttl)
}
