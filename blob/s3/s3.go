// Package s3 provides a blob.Bucket backed by AWS S3 or an S3-compatible
// service such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xraph/export"
	"github.com/xraph/export/blob"
)

var _ blob.Bucket = (*Bucket)(nil)

// checksumKey is the user metadata key holding the payload sha256.
const checksumKey = "sha256"

// API is the subset of *s3.Client used by Bucket.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds connection settings.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, enables path-style addressing
	AccessKeyID     string // optional, falls back to the default chain
	SecretAccessKey string
	Prefix          string // optional key prefix inside the bucket
}

// Bucket stores objects in one S3 bucket.
type Bucket struct {
	client API
	bucket string
	prefix string
}

// New loads AWS configuration and returns a Bucket. Static credentials are
// used when both keys are set; otherwise the default credential chain.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, export.NewValidationError("s3.bucket", "required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob/s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient returns a Bucket over an existing client.
func NewWithClient(client API, bucket, prefix string) *Bucket {
	return &Bucket{client: client, bucket: bucket, prefix: prefix}
}

func (b *Bucket) objectKey(key string) (string, string, error) {
	cleaned, err := blob.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	if b.prefix == "" {
		return cleaned, cleaned, nil
	}
	return cleaned, b.prefix + "/" + cleaned, nil
}

// Put implements blob.Bucket. The payload is buffered so that the request
// body is seekable for signing and the checksum can be attached as object
// metadata.
func (b *Bucket) Put(ctx context.Context, key string, r io.Reader, contentType string) (*blob.Object, error) {
	cleaned, full, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob/s3: read %s: %w", cleaned, err)
	}
	sum := blob.Checksum(data)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{checksumKey: sum},
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, in); err != nil {
		return nil, fmt.Errorf("blob/s3: put %s: %w", cleaned, err)
	}

	return &blob.Object{
		Key:         cleaned,
		Size:        int64(len(data)),
		Checksum:    sum,
		ContentType: contentType,
		ModifiedAt:  time.Now().UTC(),
	}, nil
}

// Get implements blob.Bucket.
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, full, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", export.ErrObjectNotFound, cleaned)
		}
		return nil, fmt.Errorf("blob/s3: get %s: %w", cleaned, err)
	}
	return out.Body, nil
}

// Stat implements blob.Bucket.
func (b *Bucket) Stat(ctx context.Context, key string) (*blob.Object, error) {
	cleaned, full, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", export.ErrObjectNotFound, cleaned)
		}
		return nil, fmt.Errorf("blob/s3: head %s: %w", cleaned, err)
	}

	obj := &blob.Object{
		Key:         cleaned,
		Size:        aws.ToInt64(out.ContentLength),
		Checksum:    out.Metadata[checksumKey],
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		obj.ModifiedAt = out.LastModified.UTC()
	}
	return obj, nil
}

// Delete implements blob.Bucket.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	cleaned, full, err := b.objectKey(key)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(full),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("blob/s3: delete %s: %w", cleaned, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
