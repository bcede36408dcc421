package tags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, tt := range []struct {
		msg      string
		tags     []string
		ts       int64
		expected bool
	}{
		{"no tags", nil, 0, false},
		{"unknown tag", []string{"posts"}, 0, false},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := m.IsAnyTagRevalidatedAfter(ctx, tt.tags, tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	require.NoError(t, m.Revalidate(ctx, []string{"posts", "authors"}, 2000))

	for _, tt := range []struct {
		msg      string
		tags     []string
		ts       int64
		expected bool
	}{
		{"rendered before", []string{"posts"}, 1000, true},
		{"rendered at", []string{"posts"}, 2000, false},
		{"rendered after", []string{"authors"}, 3000, false},
		{"any of the tags", []string{"comments", "authors"}, 1999, true},
	} {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := m.IsAnyTagRevalidatedAfter(ctx, tt.tags, tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMemoryMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Revalidate(ctx, []string{"posts"}, 5000))
	require.NoError(t, m.Revalidate(ctx, []string{"posts"}, 1000))

	got, err := m.IsAnyTagRevalidatedAfter(ctx, []string{"posts"}, 4000)
	require.NoError(t, err)
	assert.True(t, got)
}
