package queue

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	jump "github.com/dgryski/go-jump"
)

// Job asks for re-rendering the cached artifact of a path.
type Job struct {
	// Path is the normalized path, the key of the cache entry.
	Path string `json:"path"`

	// Host the revalidation request is addressed to.
	Host string `json:"host"`

	// ETag and LastModified identify the cached version found stale.
	ETag         string `json:"etag"`
	LastModified int64  `json:"lastModified"`

	// DedupeKey is equal for the jobs created for the same version of
	// the same path.
	DedupeKey string `json:"dedupeKey"`

	// ShardKey is the hash of the path. Jobs of the same path are
	// handled by the same shard.
	ShardKey uint64 `json:"shardKey"`
}

// NewJob creates a job with the dedupe and the shard keys set.
func NewJob(path, host, etag string, lastModified int64) Job {
	return Job{
		Path:         path,
		Host:         host,
		ETag:         etag,
		LastModified: lastModified,
		DedupeKey:    DedupeKey(path, lastModified, etag),
		ShardKey:     xxhash.Sum64String(path),
	}
}

// DedupeKey hashes the path and the version of the cached artifact.
func DedupeKey(path string, lastModified int64, etag string) string {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(lastModified, 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(etag)
	return strconv.FormatUint(d.Sum64(), 16)
}

// Shard returns the shard of the job among n shards.
func (j Job) Shard(n int) int {
	if n <= 1 {
		return 0
	}

	return int(jump.Hash(j.ShardKey, n))
}
