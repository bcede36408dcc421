package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/edgerender/cache"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func objectID(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	b, ok := f.objects[objectID(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.objects[objectID(in.Bucket, in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectID(in.Bucket, in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	api := newFakeS3()
	s, err := New(api, Options{Bucket: "render", Prefix: "cache/"})
	require.NoError(t, err)

	e, err := s.Get(ctx, "/en/blog/x")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, s.Set(ctx, "/en/blog/x", &cache.Entry{Kind: cache.KindPage, Document: []byte("x"), Revalidate: cache.Never}))
	assert.Contains(t, api.objects, "render/cache/en/blog/x.json")

	e, err = s.Get(ctx, "/en/blog/x")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("x"), e.Document)
	assert.Equal(t, cache.Never, e.Revalidate)

	require.NoError(t, s.Set(ctx, "/en/blog/x", nil))
	assert.Empty(t, api.objects)
}

func TestStoreFailure(t *testing.T) {
	api := newFakeS3()
	api.err = errors.New("403 forbidden")
	s, err := New(api, Options{Bucket: "render"})
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "/")
	assert.ErrorIs(t, err, cache.ErrStoreFailure)
}

func TestBucketRequired(t *testing.T) {
	_, err := New(newFakeS3(), Options{})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c := NewClient(ClientOptions{Region: "eu-central-1", Endpoint: "http://127.0.0.1:9000"})
	assert.NotNil(t, c)
	assert.True(t, c.Options().UsePathStyle)
}
