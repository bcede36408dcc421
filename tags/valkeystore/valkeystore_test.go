package valkeystore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/zalando/edgerender/tags"
)

type fakeClient struct {
	values map[string]string
	err    error
}

func (f *fakeClient) Get(_ context.Context, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}

	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeClient) RunScript(context.Context, *valkey.Lua, []string, ...string) (valkey.ValkeyMessage, error) {
	return valkey.ValkeyMessage{}, errors.New("not supported")
}

func TestIsAnyTagRevalidatedAfter(t *testing.T) {
	c := &fakeClient{values: map[string]string{
		"edgerender:tag:posts":   "2000",
		"edgerender:tag:broken":  "soon",
		"edgerender:tag:authors": "500",
	}}

	s := New(c, "")
	for _, tt := range []struct {
		msg      string
		tags     []string
		ts       int64
		expected bool
		fail     bool
	}{
		{msg: "revalidated after", tags: []string{"posts"}, ts: 1000, expected: true},
		{msg: "revalidated before", tags: []string{"posts", "authors"}, ts: 2000},
		{msg: "unknown", tags: []string{"comments"}},
		{msg: "invalid value", tags: []string{"broken"}, fail: true},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			found, err := s.IsAnyTagRevalidatedAfter(context.Background(), tt.tags, tt.ts)
			if tt.fail {
				assert.ErrorIs(t, err, tags.ErrStoreFailure)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, found)
		})
	}
}

func TestClientFailure(t *testing.T) {
	s := New(&fakeClient{err: errors.New("connection reset")}, "")
	_, err := s.IsAnyTagRevalidatedAfter(context.Background(), []string{"posts"}, 0)
	assert.ErrorIs(t, err, tags.ErrStoreFailure)

	err = s.Revalidate(context.Background(), []string{"posts"}, 0)
	assert.ErrorIs(t, err, tags.ErrStoreFailure)
}
