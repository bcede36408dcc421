// Package leveldbstore implements a cache store on a local LevelDB
// database, for single instance deployments sharing the artifacts with a
// renderer on the same host.
package leveldbstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/zalando/edgerender/cache"
)

var entryPrefix = []byte("e:")

// Store keeps the encoded entries under the e: prefix.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb store: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenMemory creates a store on in-memory storage.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb store: %w", err)
	}

	return &Store{db: db}, nil
}

func entryKey(key string) []byte {
	return append(bytes.Clone(entryPrefix), key...)
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := s.db.Get(entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrStoreFailure, err)
	}

	return cache.Decode(b)
}

// Set replaces the entry. A nil entry deletes it.
func (s *Store) Set(ctx context.Context, key string, e *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if e == nil {
		return s.db.Delete(entryKey(key), nil)
	}

	b, err := e.Encode()
	if err != nil {
		return err
	}

	return s.db.Put(entryKey(key), b, nil)
}

// Keys lists the stored keys.
func (s *Store) Keys() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), entryPrefix)))
	}

	return keys, it.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}
