// Package s3store implements a cache store on an S3 bucket, for
// renderers uploading their artifacts to object storage.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/zalando/edgerender/cache"
)

const maxObjectSize = 32 << 20

// API is the subset of the S3 client used by the store.
type API interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options of the store.
type Options struct {
	Bucket string

	// Prefix of the object keys, e.g. "cache/".
	Prefix string
}

type Store struct {
	api    API
	bucket string
	prefix string
}

func New(api API, o Options) (*Store, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3 store: bucket required")
	}

	return &Store{api: api, bucket: o.Bucket, prefix: o.Prefix}, nil
}

// ClientOptions configure the S3 client created by NewClient.
type ClientOptions struct {
	Region string

	// Endpoint overrides the AWS endpoint, e.g. for S3 compatible
	// storage. Path style addressing is used then.
	Endpoint string
}

// NewClient creates an S3 client taking the credentials from the
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN
// environment variables.
func NewClient(o ClientOptions) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("s3 store: missing AWS credentials")
		}

		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})

	return s3.New(s3.Options{
		Region:       o.Region,
		Credentials:  aws.NewCredentialsCache(creds),
		BaseEndpoint: optional(o.Endpoint),
		UsePathStyle: o.Endpoint != "",
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return aws.String(s)
}

// objectKey maps the cache key to the object key. The index of the
// default path space is stored as index.json, like the other keys.
func (s *Store) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/") + ".json"
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", cache.ErrStoreFailure, err)
	}

	defer out.Body.Close()
	b, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", cache.ErrStoreFailure, key, err)
	}

	return cache.Decode(b)
}

// Set replaces the entry. A nil entry deletes it.
func (s *Store) Set(ctx context.Context, key string, e *cache.Entry) error {
	if e == nil {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})

		return err
	}

	b, err := e.Encode()
	if err != nil {
		return err
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})

	return err
}
