package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestListFlag(t *testing.T) {
	const yamlList = `- redis-0:6379
- redis-1:6379`

	t.Run("set", func(t *testing.T) {
		f := commaListFlag()
		require.NoError(t, f.Set("redis-0:6379,redis-1:6379"))
		assert.Equal(t, []string{"redis-0:6379", "redis-1:6379"}, f.values)
		assert.Equal(t, "redis-0:6379,redis-1:6379", f.String())
	})

	t.Run("custom separator", func(t *testing.T) {
		f := newListFlag(" ")
		require.NoError(t, f.Set("a b"))
		assert.Equal(t, []string{"a", "b"}, f.values)
	})

	t.Run("yaml", func(t *testing.T) {
		f := commaListFlag()
		require.NoError(t, yaml.Unmarshal([]byte(yamlList), f))
		assert.Equal(t, []string{"redis-0:6379", "redis-1:6379"}, f.values)
		assert.Equal(t, "redis-0:6379,redis-1:6379", f.String())
	})

	t.Run("restricted", func(t *testing.T) {
		f := commaListFlag("memory", "redis")
		require.NoError(t, f.Set("memory,redis"))
		assert.Error(t, f.Set("memory,etcd"))
		assert.Error(t, yaml.Unmarshal([]byte(yamlList), f))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		assert.Error(t, yaml.Unmarshal([]byte("not a list"), commaListFlag()))
	})

	t.Run("empty", func(t *testing.T) {
		f := commaListFlag()
		require.NoError(t, f.Set("a,b"))
		require.NoError(t, f.Set(""))
		assert.Nil(t, f.values)
		assert.Empty(t, f.String())
	})
}
